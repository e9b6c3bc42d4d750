package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vaani-labs/vaani/internal/audio"
	"github.com/vaani-labs/vaani/internal/cache"
	"github.com/vaani-labs/vaani/internal/convo"
	"github.com/vaani-labs/vaani/internal/eventlog"
	"github.com/vaani-labs/vaani/internal/llm"
	"github.com/vaani-labs/vaani/internal/pipeline"
	"github.com/vaani-labs/vaani/internal/store"
	"github.com/vaani-labs/vaani/internal/vad"
)

// Twilio media stream framing: 8kHz mono μ-law in 20ms chunks.
const (
	transportSampleRate   = 8000
	recognitionSampleRate = 16000
	frameDurationMs       = 20
	mulawFrameBytes       = transportSampleRate * frameDurationMs / 1000 // 160
	pcmFrameBytes         = mulawFrameBytes * 2                          // 320
	framePacing           = frameDurationMs * time.Millisecond
)

// defaultMinUtteranceBytes rejects blips shorter than ~0.4s of 8kHz PCM16.
const defaultMinUtteranceBytes = 6400

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Twilio Media Stream message types
type twilioMessage struct {
	Event          string             `json:"event"`
	SequenceNumber string             `json:"sequenceNumber,omitempty"`
	Media          *twilioMedia       `json:"media,omitempty"`
	Start          *twilioStart       `json:"start,omitempty"`
	Mark           *twilioMarkPayload `json:"mark,omitempty"`
	StreamSid      string             `json:"streamSid,omitempty"`
}

type twilioMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // Base64 μ-law audio
}

type twilioStart struct {
	StreamSid    string            `json:"streamSid"`
	AccountSid   string            `json:"accountSid"`
	CallSid      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	CustomParams map[string]string `json:"customParameters"`
	MediaFormat  struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

// twilioOutboundMedia is the format for sending audio back to Twilio
type twilioOutboundMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"` // Base64 μ-law audio
	} `json:"media"`
}

// twilioMark sends a mark event so Twilio tells us when a unit finished playing
type twilioMark struct {
	Event     string            `json:"event"`
	StreamSid string            `json:"streamSid"`
	Mark      twilioMarkPayload `json:"mark"`
}

type twilioMarkPayload struct {
	Name string `json:"name"`
}

// streamSession manages one live media stream connection. It owns the VAD,
// the utterance buffer, and the processing flag; nothing of this struct is
// shared across connections.
type streamSession struct {
	callSid   string
	streamSid string
	callID    string // DB call ID

	conn   *websocket.Conn
	connMu sync.Mutex

	// mu guards the buffer, the detector, and the processing flag as one
	// unit. The single-flight guarantee for utterance processing depends
	// on every flag check happening under this lock.
	mu         sync.Mutex
	buffer     []byte
	detector   *vad.Detector
	processing bool

	utteranceSeq int

	processor *pipeline.Processor
	audio     *cache.AudioCache
	history   *convo.History
	store     *store.Store
	eventLog  *eventlog.Logger
	logger    *log.Logger
	cfg       RouterConfig

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Router) handleMediaWS(w http.ResponseWriter, req *http.Request) {
	if r.cfg.SarvamAPIKey == "" || r.cfg.GroqAPIKey == "" {
		r.logger.Printf("media_ws: missing API keys")
		captureError(req, fmt.Errorf("voice pipeline not configured: missing API keys"), "media_ws: configuration error")
		http.Error(w, "voice pipeline not configured", http.StatusServiceUnavailable)
		return
	}

	if !r.sessions.Add() {
		r.logger.Printf("media_ws: draining, rejecting new stream")
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.sessions.Done()
		r.logger.Printf("media_ws: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(req.Context())

	session := &streamSession{
		conn:      conn,
		detector:  vad.New(r.vadCfg),
		processor: r.processor,
		audio:     r.audio,
		history:   r.history,
		store:     r.store,
		eventLog:  r.eventLog,
		logger:    r.logger,
		cfg:       r.cfg,
		ctx:       ctx,
		cancel:    cancel,
	}

	r.logger.Printf("media_ws: connection established, waiting for start message")

	defer r.sessions.Done()
	session.run()
}

func (s *streamSession) run() {
	defer s.cleanup()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("media_ws: connection closed for call %s", s.callSid)
			} else {
				s.logger.Printf("media_ws: read error for call %s: %v", s.callSid, err)
			}
			return
		}

		var twilioMsg twilioMessage
		if err := json.Unmarshal(msg, &twilioMsg); err != nil {
			s.logger.Printf("media_ws: failed to parse message: %v", err)
			continue
		}

		switch twilioMsg.Event {
		case "connected":
			s.logger.Printf("media_ws: Twilio connected")

		case "start":
			if err := s.handleStart(twilioMsg.Start); err != nil {
				s.logger.Printf("media_ws: start error: %v", err)
				return
			}

		case "media":
			if err := s.handleMedia(twilioMsg.Media); err != nil {
				s.logger.Printf("media_ws: media error: %v", err)
			}

		case "stop":
			s.logger.Printf("media_ws: stream stopped for call %s", s.callSid)
			s.eventLog.LogAsync(s.callID, eventlog.EventStreamStopped, nil)
			return

		case "mark":
			// One played unit fully drained on Twilio's side.
			if twilioMsg.Mark != nil {
				s.eventLog.LogAsync(s.callID, eventlog.EventSegmentPlayed, map[string]any{
					"mark": twilioMsg.Mark.Name,
				})
			}
		}
	}
}

func (s *streamSession) handleStart(start *twilioStart) error {
	if start == nil {
		return fmt.Errorf("nil start message")
	}

	s.streamSid = start.StreamSid

	// Get callSid from custom parameters or directly from start message
	s.callSid = start.CallSid
	if s.callSid == "" {
		if cs, ok := start.CustomParams["callSid"]; ok {
			s.callSid = cs
		}
	}

	s.logger.Printf("media_ws: stream started - StreamSid: %s, CallSid: %s", start.StreamSid, s.callSid)

	// Fresh turn state for this stream.
	s.mu.Lock()
	s.buffer = nil
	s.detector.Reset()
	s.processing = false
	s.mu.Unlock()

	// Get call ID from database now that we have callSid
	if s.callSid != "" {
		callID, err := s.store.GetCallID(s.ctx, s.callSid)
		if err != nil {
			s.logger.Printf("media_ws: failed to get call ID for %s: %v", s.callSid, err)
		} else {
			s.callID = callID
		}
	}

	s.eventLog.LogAsync(s.callID, eventlog.EventStreamStarted, map[string]any{
		"stream_sid": s.streamSid,
	})

	// Speak the greeting once the stream settles
	go s.speakGreeting()

	return nil
}

func (s *streamSession) handleMedia(media *twilioMedia) error {
	if media == nil {
		return nil
	}

	payload, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}

	pcm, err := audio.DecodeMulaw(payload)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		// While a reply is playing, inbound audio is our own voice and
		// line echo. Discard it and keep the detector cold so nothing
		// stale survives into the next turn.
		s.buffer = s.buffer[:0]
		s.detector.Reset()
		return nil
	}

	s.buffer = append(s.buffer, pcm...)

	for off := 0; off+pcmFrameBytes <= len(pcm); off += pcmFrameBytes {
		res := s.detector.ProcessFrame(pcm[off : off+pcmFrameBytes])
		if res.SpeechStarted {
			s.logger.Printf("media_ws: speech started (confidence %.2f)", res.Confidence)
			s.eventLog.LogAsync(s.callID, eventlog.EventSpeechStarted, map[string]any{
				"confidence": res.Confidence,
			})
		}
		if res.SpeechEnded {
			s.onSpeechEnded()
		}
	}
	return nil
}

// onSpeechEnded decides whether the buffered audio becomes an utterance.
// Called with s.mu held, which is what makes the flag check and the buffer
// snapshot atomic when two end-of-speech signals land back to back.
func (s *streamSession) onSpeechEnded() {
	minBytes := s.cfg.MinUtteranceBytes
	if minBytes == 0 {
		minBytes = defaultMinUtteranceBytes
	}

	if len(s.buffer) < minBytes {
		// Too short to be speech; treat as noise.
		s.logger.Printf("media_ws: discarding %d-byte blip", len(s.buffer))
		s.eventLog.LogAsync(s.callID, eventlog.EventUtteranceNoise, map[string]any{
			"bytes": len(s.buffer),
		})
		s.buffer = s.buffer[:0]
		s.detector.Reset()
		return
	}

	if s.processing {
		return
	}
	s.processing = true

	utterance := make([]byte, len(s.buffer))
	copy(utterance, s.buffer)
	s.buffer = s.buffer[:0]
	s.detector.Reset()

	s.logger.Printf("media_ws: speech ended - utterance %d bytes", len(utterance))
	s.eventLog.LogAsync(s.callID, eventlog.EventSpeechEnded, map[string]any{
		"bytes": len(utterance),
	})

	go s.processUtterance(utterance)
}

func (s *streamSession) processUtterance(pcm []byte) {
	defer s.rearm()

	s.eventLog.LogAsync(s.callID, eventlog.EventLLMStarted, nil)

	outcome := s.processor.Process(s.ctx, s.callSid, pcm, s)

	// Persist the transcript off the audio path.
	now := nowUTC()
	if s.callID != "" {
		if outcome.UserText != "" {
			s.insertUtterance(store.Utterance{Speaker: "caller", Text: outcome.UserText, EndedAt: &now})
		}
		if outcome.ReplyText != "" {
			s.insertUtterance(store.Utterance{Speaker: "assistant", Text: outcome.ReplyText, StartedAt: &now})
		}
	}

	if outcome.Fallback {
		s.eventLog.LogAsync(s.callID, eventlog.EventFallbackSpoken, map[string]any{
			"text": outcome.ReplyText,
		})
	} else {
		s.eventLog.LogAsync(s.callID, eventlog.EventLLMCompleted, map[string]any{
			"segments": outcome.Segments,
		})
	}
	s.eventLog.LogAsync(s.callID, eventlog.EventTurnFinalized, map[string]any{
		"user_text": outcome.UserText,
	})

	// Let the tail of the reply drain on Twilio's side before listening
	// again, or we transcribe our own playback.
	s.sleep(s.postPlayDelay())
}

// rearm clears the turn state and releases the processing flag after a short
// settle, re-enabling capture for the next utterance.
func (s *streamSession) rearm() {
	s.sleep(s.rearmDelay())

	s.mu.Lock()
	s.buffer = s.buffer[:0]
	s.detector.Reset()
	s.processing = false
	s.mu.Unlock()
}

func (s *streamSession) insertUtterance(u store.Utterance) {
	s.mu.Lock()
	s.utteranceSeq++
	u.Sequence = s.utteranceSeq
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.InsertUtterance(ctx, s.callID, u); err != nil {
		s.logger.Printf("media_ws: failed to store utterance: %v", err)
	}
}

// PlayArtifact satisfies pipeline.Player: it fetches a cached artifact,
// converts it to the transport's framing, and paces it out in real time.
func (s *streamSession) PlayArtifact(ctx context.Context, key string) error {
	data, ok := s.audio.Get(key)
	if !ok {
		return fmt.Errorf("artifact %s not found", key)
	}

	pcm, info, err := audio.UnwrapWAV(data)
	if err != nil {
		return fmt.Errorf("bad synthesis audio: %w", err)
	}
	if info.SampleWidth != 2 {
		return fmt.Errorf("unsupported sample width %d", info.SampleWidth)
	}
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if info.SampleRate != transportSampleRate {
		pcm = audio.Resample(pcm, info.SampleRate, transportSampleRate)
	}

	mulaw, err := audio.EncodeMulaw(pcm)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	// Slice into 20ms transport frames and pace them so Twilio's jitter
	// buffer is never overrun.
	for off := 0; off < len(mulaw); off += mulawFrameBytes {
		end := off + mulawFrameBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}

		outMsg := twilioOutboundMedia{
			Event:     "media",
			StreamSid: s.streamSid,
		}
		outMsg.Media.Payload = base64.StdEncoding.EncodeToString(mulaw[off:end])

		s.connMu.Lock()
		err := s.conn.WriteJSON(outMsg)
		s.connMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(framePacing):
		}
	}

	// Mark the end of this unit so the receiver can sequence units.
	mark := twilioMark{
		Event:     "mark",
		StreamSid: s.streamSid,
	}
	mark.Mark.Name = "unit-" + uuid.NewString()

	s.connMu.Lock()
	err = s.conn.WriteJSON(mark)
	s.connMu.Unlock()
	return err
}

// speakGreeting opens the call. The processing flag is held for the duration
// so the greeting's own audio is never captured as caller speech.
func (s *streamSession) speakGreeting() {
	s.sleep(500 * time.Millisecond) // let the stream settle

	s.mu.Lock()
	s.processing = true
	s.mu.Unlock()

	greeting := s.cfg.GreetingText
	if greeting == "" {
		greeting = llm.Greeting
	}

	s.logger.Printf("media_ws: speaking greeting")
	s.processor.Say(s.ctx, s, greeting)

	// The LLM should know the call was opened.
	if err := s.history.Append(s.ctx, s.callSid, "assistant", greeting); err != nil {
		s.logger.Printf("media_ws: failed to record greeting: %v", err)
	}
	s.eventLog.LogAsync(s.callID, eventlog.EventGreetingSpoken, nil)

	s.sleep(s.postPlayDelay())

	s.mu.Lock()
	s.buffer = s.buffer[:0]
	s.detector.Reset()
	s.processing = false
	s.mu.Unlock()
}

func (s *streamSession) postPlayDelay() time.Duration {
	if s.cfg.PostPlayDelay > 0 {
		return s.cfg.PostPlayDelay
	}
	return time.Second
}

func (s *streamSession) rearmDelay() time.Duration {
	if s.cfg.RearmDelay > 0 {
		return s.cfg.RearmDelay
	}
	return 300 * time.Millisecond
}

// sleep waits without outliving the session.
func (s *streamSession) sleep(d time.Duration) {
	select {
	case <-s.ctx.Done():
	case <-time.After(d):
	}
}

func (s *streamSession) cleanup() {
	s.cancel()

	s.connMu.Lock()
	s.conn.Close()
	s.connMu.Unlock()

	if s.callSid != "" {
		s.history.Forget(s.callSid)
	}

	// Mark call as completed (fallback in case the status webhook is late)
	if s.callID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.store.UpdateCallStatus(ctx, s.callSid, "completed", nowUTC())
		s.eventLog.LogAsync(s.callID, eventlog.EventCallEnded, nil)
	}

	s.logger.Printf("media_ws: session cleaned up for call %s", s.callSid)
}
