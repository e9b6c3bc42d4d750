package pipeline

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/vaani-labs/vaani/internal/cache"
	"github.com/vaani-labs/vaani/internal/convo"
)

type fakeTTS struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return []byte("wav:" + text), nil
}

func (f *fakeTTS) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newTestProcessor(ttsc *fakeTTS) (*Processor, *cache.AudioCache, *cache.TextIndex) {
	audioCache := cache.NewAudioCache()
	texts := cache.NewTextIndex()
	logger := log.New(io.Discard, "", 0)
	p := New(Config{}, nil, nil, ttsc, convo.NewHistory(), audioCache, texts, logger)
	return p, audioCache, texts
}

func tokenChan(tokens ...string) <-chan string {
	ch := make(chan string, len(tokens))
	for _, t := range tokens {
		ch <- t
	}
	close(ch)
	return ch
}

func TestSplitFirstSegment(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		segment string
		rest    string
		ok      bool
	}{
		{"no boundary yet", "अभी बोल", "", "अभी बोल", false},
		{"latin stop", "Hello. How are you", "Hello.", "How are you", true},
		{"danda", "नमस्ते। कैसे हैं", "नमस्ते।", "कैसे हैं", true},
		{"question mark", "ठीक हैं? हाँ", "ठीक हैं?", "हाँ", true},
		{"exclamation", "वाह! बढ़िया", "वाह!", "बढ़िया", true},
		{"pipe pause marker", "पहला| दूसरा", "पहला|", "दूसरा", true},
		{"boundary at end", "बस।", "बस।", "", true},
		{"empty", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segment, rest, ok := splitFirstSegment(tt.in)
			if segment != tt.segment || rest != tt.rest || ok != tt.ok {
				t.Errorf("splitFirstSegment(%q) = %q, %q, %v; want %q, %q, %v",
					tt.in, segment, rest, ok, tt.segment, tt.rest, tt.ok)
			}
		})
	}
}

func TestSynthesizeStreamEmitsSentencesInOrder(t *testing.T) {
	ttsc := &fakeTTS{}
	p, audioCache, _ := newTestProcessor(ttsc)

	tokens := tokenChan("नमस्ते। कैसे ", "हैं? ", "मैं ", "ठीक")

	var got []SpokenSegment
	for seg := range p.synthesizeStream(context.Background(), tokens) {
		got = append(got, seg)
	}

	want := []string{"नमस्ते।", "कैसे हैं?", "मैं ठीक"}
	if len(got) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(got), len(want), got)
	}
	for i, seg := range got {
		if seg.Text != want[i] {
			t.Errorf("segment %d text = %q, want %q", i, seg.Text, want[i])
		}
		if data, ok := audioCache.Get(seg.Key); !ok || string(data) != "wav:"+want[i] {
			t.Errorf("segment %d audio not cached under its key", i)
		}
	}

	// Synthesis calls mirror the segment order.
	if calls := ttsc.calls(); len(calls) != 3 || calls[0] != want[0] || calls[2] != want[2] {
		t.Errorf("TTS calls = %v, want %v", calls, want)
	}
}

func TestSynthesizeStreamFinalRemainder(t *testing.T) {
	ttsc := &fakeTTS{}
	p, _, _ := newTestProcessor(ttsc)

	// No boundary at all: the whole accumulation becomes one segment at
	// stream end.
	var got []SpokenSegment
	for seg := range p.synthesizeStream(context.Background(), tokenChan("कोई ", "विराम ", "नहीं")) {
		got = append(got, seg)
	}
	if len(got) != 1 || got[0].Text != "कोई विराम नहीं" {
		t.Fatalf("got %+v, want one final segment", got)
	}
}

func TestSynthesizeStreamSkipsFailedSegment(t *testing.T) {
	ttsc := &fakeTTS{}
	p, _, _ := newTestProcessor(ttsc)

	// Fail synthesis for the first segment only.
	ttsc.err = context.DeadlineExceeded
	stream := p.synthesizeStream(context.Background(), func() <-chan string {
		ch := make(chan string)
		go func() {
			defer close(ch)
			ch <- "पहला। "
			// Give the consumer time to attempt the first segment.
			time.Sleep(20 * time.Millisecond)
			ttsc.mu.Lock()
			ttsc.err = nil
			ttsc.mu.Unlock()
			ch <- "दूसरा।"
		}()
		return ch
	}())

	var got []SpokenSegment
	for seg := range stream {
		got = append(got, seg)
	}
	if len(got) != 1 || got[0].Text != "दूसरा।" {
		t.Fatalf("got %+v, want only the second segment", got)
	}
}

func TestSynthesizeSegmentReusesIndexedText(t *testing.T) {
	ttsc := &fakeTTS{}
	p, _, _ := newTestProcessor(ttsc)
	ctx := context.Background()

	key1, ok := p.synthesizeSegment(ctx, "नमस्ते।")
	if !ok {
		t.Fatal("first synthesis failed")
	}
	key2, ok := p.synthesizeSegment(ctx, "नमस्ते।")
	if !ok {
		t.Fatal("second synthesis failed")
	}

	if key1 != key2 {
		t.Errorf("repeated text got different keys: %q vs %q", key1, key2)
	}
	if calls := ttsc.calls(); len(calls) != 1 {
		t.Errorf("TTS called %d times, want 1", len(calls))
	}
}

func TestSynthesizeSegmentResynthesizesEvictedArtifact(t *testing.T) {
	ttsc := &fakeTTS{}
	p, audioCache, _ := newTestProcessor(ttsc)
	ctx := context.Background()

	key1, _ := p.synthesizeSegment(ctx, "नमस्ते।")
	audioCache.Delete(key1)

	key2, ok := p.synthesizeSegment(ctx, "नमस्ते।")
	if !ok {
		t.Fatal("re-synthesis failed")
	}
	if key2 == key1 {
		t.Error("evicted artifact must be replaced with a fresh key")
	}
	if _, live := audioCache.Get(key2); !live {
		t.Error("fresh artifact should be cached")
	}
}

func TestSynthesizeSegmentRejectsEmptyText(t *testing.T) {
	ttsc := &fakeTTS{}
	p, _, _ := newTestProcessor(ttsc)

	if _, ok := p.synthesizeSegment(context.Background(), "   "); ok {
		t.Error("whitespace-only text must not synthesize")
	}
	if calls := ttsc.calls(); len(calls) != 0 {
		t.Errorf("TTS called %d times, want 0", len(calls))
	}
}
