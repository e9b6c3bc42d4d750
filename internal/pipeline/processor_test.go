package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/vaani-labs/vaani/internal/cache"
	"github.com/vaani-labs/vaani/internal/convo"
	"github.com/vaani-labs/vaani/internal/llm"
)

type fakeSTT struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeSTT) Transcribe(_ context.Context, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeSTT) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLLM struct {
	mu     sync.Mutex
	tokens []string
	err    error
	calls  int
}

func (f *fakeLLM) GenerateResponse(_ context.Context, _ []llm.Message) (<-chan string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan string, len(f.tokens))
	for _, t := range f.tokens {
		ch <- t
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlayer struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakePlayer) PlayArtifact(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakePlayer) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

// loudUtterance is long and loud enough to pass the transcription gates.
func loudUtterance() []byte {
	pcm := make([]byte, 8000)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x88
		pcm[i+1] = 0x13 // 5000
	}
	return pcm
}

func newFullProcessor(sttc *fakeSTT, llmc *fakeLLM, ttsc *fakeTTS) (*Processor, *convo.History) {
	history := convo.NewHistory()
	logger := log.New(io.Discard, "", 0)
	p := New(Config{}, sttc, llmc, ttsc, history, cache.NewAudioCache(), cache.NewTextIndex(), logger)
	return p, history
}

// waitForTurns polls for async history writes.
func waitForTurns(t *testing.T, history *convo.History, callSid string, want int) []convo.Turn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		turns, _ := history.Recent(context.Background(), callSid)
		if len(turns) >= want {
			return turns
		}
		time.Sleep(5 * time.Millisecond)
	}
	turns, _ := history.Recent(context.Background(), callSid)
	t.Fatalf("history has %d turns, want %d", len(turns), want)
	return nil
}

func TestProcessHappyPath(t *testing.T) {
	sttc := &fakeSTT{text: "आप कौन हैं?"}
	llmc := &fakeLLM{tokens: []string{"मैं सहायक हूँ। ", "और ", "आप? ", "बताइए"}}
	ttsc := &fakeTTS{}
	player := &fakePlayer{}
	p, history := newFullProcessor(sttc, llmc, ttsc)

	outcome := p.Process(context.Background(), "CA1", loudUtterance(), player)

	if outcome.Fallback {
		t.Fatal("happy path should not fall back")
	}
	if outcome.UserText != "आप कौन हैं?" {
		t.Errorf("UserText = %q", outcome.UserText)
	}
	if outcome.Segments != 3 {
		t.Errorf("Segments = %d, want 3", outcome.Segments)
	}
	if outcome.ReplyText != "मैं सहायक हूँ। और आप? बताइए" {
		t.Errorf("ReplyText = %q", outcome.ReplyText)
	}
	if got := player.played(); len(got) != 3 {
		t.Errorf("played %d artifacts, want 3", len(got))
	}

	turns := waitForTurns(t, history, "CA1", 2)
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("history roles = %s, %s", turns[0].Role, turns[1].Role)
	}
}

func TestProcessEmptyTranscriptSpeaksFallback(t *testing.T) {
	sttc := &fakeSTT{text: "   "}
	llmc := &fakeLLM{tokens: []string{"should not run"}}
	ttsc := &fakeTTS{}
	player := &fakePlayer{}
	p, _ := newFullProcessor(sttc, llmc, ttsc)

	outcome := p.Process(context.Background(), "CA1", loudUtterance(), player)

	if !outcome.Fallback {
		t.Error("empty transcript must fall back")
	}
	if outcome.ReplyText != llm.FallbackNoAudio {
		t.Errorf("ReplyText = %q, want the no-audio fallback", outcome.ReplyText)
	}
	if llmc.callCount() != 0 {
		t.Error("generation must never run for an empty transcript")
	}
	if got := player.played(); len(got) != 1 {
		t.Errorf("played %d artifacts, want 1 (the fallback)", len(got))
	}
}

func TestProcessSTTErrorSubstitutesEmpty(t *testing.T) {
	sttc := &fakeSTT{err: errors.New("provider down")}
	llmc := &fakeLLM{}
	ttsc := &fakeTTS{}
	player := &fakePlayer{}
	p, _ := newFullProcessor(sttc, llmc, ttsc)

	outcome := p.Process(context.Background(), "CA1", loudUtterance(), player)

	// A recognition failure degrades to the same path as silence.
	if !outcome.Fallback || outcome.ReplyText != llm.FallbackNoAudio {
		t.Errorf("outcome = %+v, want no-audio fallback", outcome)
	}
	if llmc.callCount() != 0 {
		t.Error("generation must not run after an STT failure")
	}
}

func TestProcessLLMErrorSpeaksFallback(t *testing.T) {
	sttc := &fakeSTT{text: "नमस्ते"}
	llmc := &fakeLLM{err: errors.New("rate limited")}
	ttsc := &fakeTTS{}
	player := &fakePlayer{}
	p, _ := newFullProcessor(sttc, llmc, ttsc)

	outcome := p.Process(context.Background(), "CA1", loudUtterance(), player)

	if !outcome.Fallback {
		t.Error("LLM failure must fall back")
	}
	if outcome.ReplyText != llm.FallbackError {
		t.Errorf("ReplyText = %q, want the error fallback", outcome.ReplyText)
	}
	if outcome.UserText != "नमस्ते" {
		t.Errorf("UserText = %q, should survive the failure", outcome.UserText)
	}
}

func TestProcessNoPlayableSegmentsSpeaksFallback(t *testing.T) {
	sttc := &fakeSTT{text: "नमस्ते"}
	llmc := &fakeLLM{tokens: []string{"जवाब।"}}
	ttsc := &fakeTTS{err: errors.New("synthesis down")}
	player := &fakePlayer{}
	p, _ := newFullProcessor(sttc, llmc, ttsc)

	outcome := p.Process(context.Background(), "CA1", loudUtterance(), player)

	if !outcome.Fallback || outcome.ReplyText != llm.FallbackError {
		t.Errorf("outcome = %+v, want error fallback", outcome)
	}
}

func TestProcessShortClipSkipsRecognition(t *testing.T) {
	sttc := &fakeSTT{text: "should not transcribe"}
	llmc := &fakeLLM{}
	ttsc := &fakeTTS{}
	player := &fakePlayer{}
	p, _ := newFullProcessor(sttc, llmc, ttsc)

	outcome := p.Process(context.Background(), "CA1", make([]byte, 100), player)

	if sttc.callCount() != 0 {
		t.Error("clips under the minimum length must not reach the STT provider")
	}
	if !outcome.Fallback {
		t.Error("short clip should fall back")
	}
}

func TestProcessQuietClipSkipsRecognition(t *testing.T) {
	sttc := &fakeSTT{text: "should not transcribe"}
	llmc := &fakeLLM{}
	ttsc := &fakeTTS{}
	player := &fakePlayer{}
	p, _ := newFullProcessor(sttc, llmc, ttsc)

	// Long enough but silent.
	outcome := p.Process(context.Background(), "CA1", make([]byte, 8000), player)

	if sttc.callCount() != 0 {
		t.Error("near-silent clips must not reach the STT provider")
	}
	if !outcome.Fallback {
		t.Error("quiet clip should fall back")
	}
}

func TestSayPlaysPhrase(t *testing.T) {
	ttsc := &fakeTTS{}
	player := &fakePlayer{}
	p, _ := newFullProcessor(&fakeSTT{}, &fakeLLM{}, ttsc)

	p.Say(context.Background(), player, llm.Greeting)

	if got := player.played(); len(got) != 1 {
		t.Fatalf("played %d artifacts, want 1", len(got))
	}
	if calls := ttsc.calls(); len(calls) != 1 || calls[0] != llm.Greeting {
		t.Errorf("TTS calls = %v", calls)
	}
}

func TestPcmRMS(t *testing.T) {
	if rms := pcmRMS(make([]byte, 1000)); rms != 0 {
		t.Errorf("silence RMS = %v, want 0", rms)
	}
	if rms := pcmRMS(loudUtterance()); rms < 4999 || rms > 5001 {
		t.Errorf("constant-amplitude RMS = %v, want ~5000", rms)
	}
	if rms := pcmRMS(nil); rms != 0 {
		t.Errorf("empty RMS = %v, want 0", rms)
	}
}
