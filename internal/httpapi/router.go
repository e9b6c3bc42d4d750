package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/vaani-labs/vaani/internal/cache"
	"github.com/vaani-labs/vaani/internal/convo"
	"github.com/vaani-labs/vaani/internal/eventlog"
	"github.com/vaani-labs/vaani/internal/llm"
	"github.com/vaani-labs/vaani/internal/pipeline"
	"github.com/vaani-labs/vaani/internal/store"
	"github.com/vaani-labs/vaani/internal/stt"
	"github.com/vaani-labs/vaani/internal/tts"
	"github.com/vaani-labs/vaani/internal/vad"
)

type RouterConfig struct {
	PublicBaseURL string

	// Twilio credentials
	TwilioAuthToken string

	// Speech and language providers
	SarvamAPIKey string
	GroqAPIKey   string
	GroqModel    string

	// Voice settings
	SystemPrompt string
	GreetingText string
	TTSSpeaker   string
	TTSLanguage  string

	// Endpointing (hysteresis thresholds, tuned empirically)
	VADSpeechFrames    int     // consecutive speech frames to open a turn
	VADSilenceFrames   int     // consecutive silence frames to close it
	VADEnergyThreshold float64 // RMS floor for a speech frame
	MinUtteranceBytes  int     // shortest buffer worth transcribing

	// Turn re-arm timing
	PostPlayDelay time.Duration // wait after playback before listening again
	RearmDelay    time.Duration // extra settle before the flag is released

	// SpeechHTTPClient is the pooled client shared by the STT/TTS/LLM
	// backends. Nil falls back to http.DefaultClient behaviour per client.
	SpeechHTTPClient *http.Client
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	eventLog *eventlog.Logger
	sessions *SessionRegistry

	history   *convo.History
	audio     *cache.AudioCache
	texts     *cache.TextIndex
	processor *pipeline.Processor
	vadCfg    vad.Config

	mux *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, eventLog *eventlog.Logger, sessions *SessionRegistry, history *convo.History) http.Handler {
	audioCache := cache.NewAudioCache()
	texts := cache.NewTextIndex()

	sttClient := stt.NewSarvamClient(stt.SarvamConfig{
		APIKey:     cfg.SarvamAPIKey,
		Language:   cfg.TTSLanguage,
		HTTPClient: cfg.SpeechHTTPClient,
	})
	ttsClient := tts.NewSarvamClient(tts.SarvamConfig{
		APIKey:     cfg.SarvamAPIKey,
		Speaker:    cfg.TTSSpeaker,
		Language:   cfg.TTSLanguage,
		SampleRate: transportSampleRate,
		HTTPClient: cfg.SpeechHTTPClient,
	})
	llmClient := llm.NewGroqClient(llm.GroqConfig{
		APIKey:       cfg.GroqAPIKey,
		Model:        cfg.GroqModel,
		SystemPrompt: cfg.SystemPrompt,
		HTTPClient:   cfg.SpeechHTTPClient,
	})

	processor := pipeline.New(pipeline.Config{
		TransportRate:   transportSampleRate,
		RecognitionRate: recognitionSampleRate,
	}, sttClient, llmClient, ttsClient, history, audioCache, texts, logger)

	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventLog,
		sessions: sessions,
		history:  history,
		audio:    audioCache,
		texts:    texts,
		processor: processor,
		vadCfg: vad.Config{
			SampleRate:      transportSampleRate,
			FrameDurationMs: frameDurationMs,
			SpeechFrames:    cfg.VADSpeechFrames,
			SilenceFrames:   cfg.VADSilenceFrames,
			EnergyThreshold: cfg.VADEnergyThreshold,
		},
		mux: http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(r.mux)
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Twilio webhooks (no auth - signature verified)
	r.mux.HandleFunc("POST /telephony/inbound", r.handleTwilioInbound)
	r.mux.HandleFunc("POST /telephony/status", r.handleTwilioStatus)
	r.mux.HandleFunc("GET /media", r.handleMediaWS)

	// Synthesized audio retrieval (same artifacts the media stream plays)
	r.mux.HandleFunc("GET /audio-stream/{id}", r.handleAudioStream)

	// Call records
	r.mux.HandleFunc("GET /api/calls", r.handleListCalls)
	r.mux.HandleFunc("GET /api/calls/{providerCallId}", r.handleGetCall)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports not-ready once draining starts, so the load balancer
// stops routing new calls here during shutdown.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func wsURLFromPublicBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
