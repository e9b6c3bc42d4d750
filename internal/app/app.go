package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaani-labs/vaani/internal/convo"
	"github.com/vaani-labs/vaani/internal/eventlog"
	"github.com/vaani-labs/vaani/internal/httpapi"
	"github.com/vaani-labs/vaani/internal/store"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger
	history  *convo.History

	// Shared HTTP client with connection pooling for the speech providers.
	// Keeps TCP connections alive so repeated STT/TTS/LLM calls skip the
	// handshake, which matters when a reply is split into many segments.
	httpClient *http.Client

	sweepCancel context.CancelFunc
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // each provider is a single host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	history := convo.NewHistory()
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	history.StartSweeper(sweepCtx)

	return &App{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		store:       s,
		eventLog:    el,
		history:     history,
		httpClient:  httpClient,
		sweepCancel: sweepCancel,
	}, nil
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:   a.cfg.PublicBaseURL,
		TwilioAuthToken: a.cfg.TwilioAuthTok,

		SarvamAPIKey: a.cfg.SarvamAPIKey,
		GroqAPIKey:   a.cfg.GroqAPIKey,
		GroqModel:    a.cfg.GroqModel,

		SystemPrompt: a.cfg.SystemPrompt,
		GreetingText: a.cfg.GreetingText,
		TTSSpeaker:   a.cfg.TTSSpeaker,
		TTSLanguage:  a.cfg.TTSLanguage,

		VADSpeechFrames:    a.cfg.VADSpeechFrames,
		VADSilenceFrames:   a.cfg.VADSilenceFrames,
		VADEnergyThreshold: a.cfg.VADEnergyThreshold,
		MinUtteranceBytes:  a.cfg.MinUtteranceBytes,

		PostPlayDelay: a.cfg.PostPlayDelay,
		RearmDelay:    a.cfg.RearmDelay,

		SpeechHTTPClient: a.httpClient,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, sessions, a.history)
}

func (a *App) Close() error {
	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
