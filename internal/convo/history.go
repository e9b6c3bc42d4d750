// Package convo keeps the in-call conversation context handed to the language
// model. History is per call SID, capped to the most recent turns, and swept
// after calls go quiet so abandoned sessions do not leak memory.
package convo

import (
	"context"
	"sync"
	"time"
)

// Turn is one conversation message.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MaxTurns caps the history returned per call to bound LLM token usage.
const MaxTurns = 10

const staleAfter = time.Hour

// History is an in-memory conversation store shared across sessions.
type History struct {
	mu    sync.Mutex
	calls map[string][]Turn
	seen  map[string]time.Time

	now func() time.Time
}

// NewHistory creates an empty store.
func NewHistory() *History {
	return &History{
		calls: make(map[string][]Turn),
		seen:  make(map[string]time.Time),
		now:   time.Now,
	}
}

// Append records one turn for a call, trimming to the MaxTurns most recent.
func (h *History) Append(_ context.Context, callSid, role, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := append(h.calls[callSid], Turn{Role: role, Content: content})
	if len(turns) > MaxTurns {
		turns = turns[len(turns)-MaxTurns:]
	}
	h.calls[callSid] = turns
	h.seen[callSid] = h.now()
	return nil
}

// Recent returns a copy of the call's history, oldest first.
func (h *History) Recent(_ context.Context, callSid string) ([]Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := h.calls[callSid]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Forget drops a call's history immediately (call teardown).
func (h *History) Forget(callSid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.calls, callSid)
	delete(h.seen, callSid)
}

// Sweep removes histories not touched within maxAge and returns how many were
// dropped.
func (h *History) Sweep(maxAge time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-maxAge)
	dropped := 0
	for sid, at := range h.seen {
		if at.Before(cutoff) {
			delete(h.calls, sid)
			delete(h.seen, sid)
			dropped++
		}
	}
	return dropped
}

// StartSweeper runs Sweep periodically until ctx is cancelled.
func (h *History) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Sweep(staleAfter)
			}
		}
	}()
}
