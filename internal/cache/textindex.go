package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
)

// TextIndex maps normalized segment text to the artifact key of its last
// synthesis, so repeated phrases (greetings, fallbacks, acknowledgments) skip
// the synthesis backend entirely. Lookups that point at an evicted artifact
// simply miss; the caller re-synthesizes.
type TextIndex struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewTextIndex creates an empty index.
func NewTextIndex() *TextIndex {
	return &TextIndex{keys: make(map[string]string)}
}

func textHash(text string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the artifact key previously recorded for text, if any.
func (t *TextIndex) Lookup(text string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.keys[textHash(text)]
	return key, ok
}

// Record associates text with an artifact key, replacing any prior mapping.
func (t *TextIndex) Record(text, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[textHash(text)] = key
}

// Len reports the number of indexed phrases.
func (t *TextIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}
