package convo

import (
	"context"
	"testing"
	"time"
)

func TestHistoryAppendAndRecent(t *testing.T) {
	h := NewHistory()
	ctx := context.Background()

	_ = h.Append(ctx, "CA1", "user", "नमस्ते")
	_ = h.Append(ctx, "CA1", "assistant", "नमस्ते, कैसे मदद करूँ?")
	_ = h.Append(ctx, "CA2", "user", "other call")

	turns, err := h.Recent(ctx, "CA1")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("turn order wrong: %+v", turns)
	}

	// Calls are isolated.
	other, _ := h.Recent(ctx, "CA2")
	if len(other) != 1 {
		t.Errorf("CA2 len = %d, want 1", len(other))
	}
}

func TestHistoryCapsTurns(t *testing.T) {
	h := NewHistory()
	ctx := context.Background()

	for i := 0; i < MaxTurns+5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_ = h.Append(ctx, "CA1", role, "turn")
	}

	turns, _ := h.Recent(ctx, "CA1")
	if len(turns) != MaxTurns {
		t.Errorf("len = %d, want %d", len(turns), MaxTurns)
	}
}

func TestHistoryRecentReturnsCopy(t *testing.T) {
	h := NewHistory()
	ctx := context.Background()

	_ = h.Append(ctx, "CA1", "user", "original")
	turns, _ := h.Recent(ctx, "CA1")
	turns[0].Content = "mutated"

	again, _ := h.Recent(ctx, "CA1")
	if again[0].Content != "original" {
		t.Error("Recent must return a copy, not the backing slice")
	}
}

func TestHistoryForget(t *testing.T) {
	h := NewHistory()
	ctx := context.Background()

	_ = h.Append(ctx, "CA1", "user", "hi")
	h.Forget("CA1")

	turns, _ := h.Recent(ctx, "CA1")
	if len(turns) != 0 {
		t.Errorf("len = %d, want 0 after Forget", len(turns))
	}
}

func TestHistorySweep(t *testing.T) {
	h := NewHistory()
	ctx := context.Background()

	base := time.Now()
	h.now = func() time.Time { return base }
	_ = h.Append(ctx, "stale", "user", "hi")

	h.now = func() time.Time { return base.Add(30 * time.Minute) }
	_ = h.Append(ctx, "fresh", "user", "hi")

	h.now = func() time.Time { return base.Add(65 * time.Minute) }
	if dropped := h.Sweep(time.Hour); dropped != 1 {
		t.Errorf("Sweep dropped %d, want 1", dropped)
	}

	if turns, _ := h.Recent(ctx, "stale"); len(turns) != 0 {
		t.Error("stale call should be swept")
	}
	if turns, _ := h.Recent(ctx, "fresh"); len(turns) != 1 {
		t.Error("fresh call should survive the sweep")
	}
}
