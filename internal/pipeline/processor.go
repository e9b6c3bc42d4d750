// Package pipeline turns one captured utterance into a spoken reply. It
// orchestrates recognition, history lookup, streamed generation, progressive
// synthesis, and ordered playback, containing every backend failure behind a
// spoken fallback so nothing but audio ever reaches the transport.
package pipeline

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/vaani-labs/vaani/internal/audio"
	"github.com/vaani-labs/vaani/internal/cache"
	"github.com/vaani-labs/vaani/internal/convo"
	"github.com/vaani-labs/vaani/internal/llm"
	"github.com/vaani-labs/vaani/internal/stt"
	"github.com/vaani-labs/vaani/internal/tts"
)

// Player delivers one cached audio artifact to the caller. PlayArtifact
// blocks until the unit has been fully paced out (or the context ends), which
// is what keeps segments in order.
type Player interface {
	PlayArtifact(ctx context.Context, key string) error
}

// Config tunes the processor. Zero values fall back to telephony defaults.
type Config struct {
	TransportRate   int // inbound PCM rate, 8000 for Twilio
	RecognitionRate int // rate the STT provider prefers, 16000
	// MinTranscribeBytes skips recognition for clips too short to contain
	// words (default 4800 bytes ≈ 0.3s at 8kHz PCM16).
	MinTranscribeBytes int
	// QuietRMS skips recognition when the clip is effectively silence.
	QuietRMS float64
	// ArtifactTTL bounds how long synthesized segments stay cached.
	ArtifactTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.TransportRate == 0 {
		c.TransportRate = 8000
	}
	if c.RecognitionRate == 0 {
		c.RecognitionRate = 16000
	}
	if c.MinTranscribeBytes == 0 {
		c.MinTranscribeBytes = 4800
	}
	if c.QuietRMS == 0 {
		c.QuietRMS = 50
	}
	if c.ArtifactTTL == 0 {
		c.ArtifactTTL = 5 * time.Minute
	}
	return c
}

// Processor runs the recognize → generate → synthesize → play sequence for
// completed utterances. Safe to share across sessions; all per-call state is
// passed through Process.
type Processor struct {
	cfg     Config
	sttc    stt.Client
	llmc    llm.Client
	tts     tts.Client
	history *convo.History
	audio   *cache.AudioCache
	texts   *cache.TextIndex
	logger  *log.Logger
}

// New creates a processor.
func New(cfg Config, sttc stt.Client, llmc llm.Client, ttsc tts.Client, history *convo.History, audioCache *cache.AudioCache, texts *cache.TextIndex, logger *log.Logger) *Processor {
	return &Processor{
		cfg:     cfg.withDefaults(),
		sttc:    sttc,
		llmc:    llmc,
		tts:     ttsc,
		history: history,
		audio:   audioCache,
		texts:   texts,
		logger:  logger,
	}
}

// Outcome summarizes one processed utterance for the caller's records.
type Outcome struct {
	UserText  string
	ReplyText string
	Segments  int
	Fallback  bool // a fixed fallback phrase was spoken instead of a reply
}

// Process handles one captured utterance end to end. It never returns an
// error: every failure is substituted with a spoken fallback.
func (p *Processor) Process(ctx context.Context, callSid string, pcm []byte, player Player) Outcome {
	started := time.Now()

	// Recognition and history fetch run concurrently; either failing alone
	// just yields an empty result for that half.
	var userText string
	var history []convo.Turn

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, err := p.transcribe(gctx, pcm)
		if err != nil {
			p.logger.Printf("pipeline: STT error for call %s: %v", callSid, err)
			captureError(err, "pipeline: transcription failed")
			text = ""
		}
		userText = text
		return nil
	})
	g.Go(func() error {
		turns, err := p.history.Recent(gctx, callSid)
		if err != nil {
			p.logger.Printf("pipeline: history error for call %s: %v", callSid, err)
			turns = nil
		}
		history = turns
		return nil
	})
	_ = g.Wait()

	userText = strings.TrimSpace(userText)
	if userText == "" {
		p.Say(ctx, player, llm.FallbackNoAudio)
		return Outcome{ReplyText: llm.FallbackNoAudio, Fallback: true}
	}

	p.logger.Printf("pipeline: caller said (%s): %s [stt %.2fs]", callSid, userText, time.Since(started).Seconds())

	// Record the user turn without blocking the reply path.
	p.appendTurnAsync(callSid, "user", userText)

	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	tokens, err := p.llmc.GenerateResponse(ctx, messages)
	if err != nil {
		p.logger.Printf("pipeline: LLM error for call %s: %v", callSid, err)
		captureError(err, "pipeline: generation failed")
		p.Say(ctx, player, llm.FallbackError)
		return Outcome{UserText: userText, ReplyText: llm.FallbackError, Fallback: true}
	}

	var reply strings.Builder
	segments := 0
	for seg := range p.synthesizeStream(ctx, tokens) {
		if reply.Len() > 0 {
			reply.WriteString(" ")
		}
		reply.WriteString(seg.Text)
		segments++

		if err := player.PlayArtifact(ctx, seg.Key); err != nil {
			p.logger.Printf("pipeline: playback error for call %s: %v", callSid, err)
			break
		}
	}

	replyText := strings.TrimSpace(reply.String())
	if segments == 0 || replyText == "" {
		// The stream produced no playable audio; the caller must not be
		// left with dead air.
		p.Say(ctx, player, llm.FallbackError)
		return Outcome{UserText: userText, ReplyText: llm.FallbackError, Fallback: true}
	}

	p.appendTurnAsync(callSid, "assistant", replyText)

	p.logger.Printf("pipeline: reply (%s): %s [%d segments, %.2fs total]",
		callSid, replyText, segments, time.Since(started).Seconds())

	return Outcome{UserText: userText, ReplyText: replyText, Segments: segments}
}

// Say synthesizes and plays a single fixed phrase (greeting or fallback).
func (p *Processor) Say(ctx context.Context, player Player, text string) {
	key, ok := p.synthesizeSegment(ctx, text)
	if !ok {
		return
	}
	if err := player.PlayArtifact(ctx, key); err != nil {
		p.logger.Printf("pipeline: playback error for %q: %v", text, err)
	}
}

// transcribe prepares the raw utterance for the recognition service and
// returns its transcript. Clips too short or too quiet to contain speech are
// dropped before any network call.
func (p *Processor) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) < p.cfg.MinTranscribeBytes {
		p.logger.Printf("pipeline: audio too short: %d bytes", len(pcm))
		return "", nil
	}
	if rms := pcmRMS(pcm); rms < p.cfg.QuietRMS {
		p.logger.Printf("pipeline: audio too quiet (rms %.0f)", rms)
		return "", nil
	}

	upsampled := audio.Resample(pcm, p.cfg.TransportRate, p.cfg.RecognitionRate)
	wav := audio.WrapWAV(upsampled, 1, 2, p.cfg.RecognitionRate)
	return p.sttc.Transcribe(ctx, wav)
}

func (p *Processor) appendTurnAsync(callSid, role, content string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.history.Append(ctx, callSid, role, content); err != nil {
			p.logger.Printf("pipeline: failed to record %s turn for %s: %v", role, callSid, err)
		}
	}()
}

func pcmRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// captureError sends an error to Sentry with a short context message.
func captureError(err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
