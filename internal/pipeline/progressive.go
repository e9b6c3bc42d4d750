package pipeline

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpokenSegment pairs a cached audio artifact with the text it speaks.
type SpokenSegment struct {
	Key  string
	Text string
}

// sentence-terminating runes: Latin stops plus the Devanagari danda, and the
// pipe some models emit as a pause marker.
func isBoundary(r rune) bool {
	switch r {
	case '।', '.', '!', '?', '|':
		return true
	}
	return false
}

// splitFirstSegment cuts text at the first sentence boundary, consuming any
// whitespace that follows it. ok is false when no boundary is present yet.
func splitFirstSegment(text string) (segment, rest string, ok bool) {
	for i, r := range text {
		if !isBoundary(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		for end < len(text) {
			r2, size := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(r2) {
				break
			}
			end += size
		}
		return strings.TrimSpace(text[:end]), text[end:], true
	}
	return "", text, false
}

// synthesizeStream turns a live token stream into playable segments. Tokens
// accumulate until a sentence boundary appears; each complete sentence is
// synthesized immediately and yielded before the next one is cut, so segments
// arrive strictly in generation order no matter how long each synthesis call
// takes. The remainder at stream end becomes a final segment.
func (p *Processor) synthesizeStream(ctx context.Context, tokens <-chan string) <-chan SpokenSegment {
	out := make(chan SpokenSegment)

	go func() {
		defer close(out)

		var accumulated string
		emit := func(text string) bool {
			key, ok := p.synthesizeSegment(ctx, text)
			if !ok {
				return true // synthesis failure skips the segment, not the stream
			}
			select {
			case <-ctx.Done():
				return false
			case out <- SpokenSegment{Key: key, Text: text}:
				return true
			}
		}

		for token := range tokens {
			accumulated += token
			for {
				segment, rest, ok := splitFirstSegment(accumulated)
				if !ok {
					break
				}
				accumulated = rest
				if segment == "" {
					continue
				}
				if !emit(segment) {
					return
				}
			}
		}

		if final := strings.TrimSpace(accumulated); final != "" {
			emit(final)
		}
	}()

	return out
}

// synthesizeSegment returns an artifact key for text, consulting the text
// index first so repeated phrases never hit the synthesis backend. Empty or
// whitespace-only text is never submitted.
func (p *Processor) synthesizeSegment(ctx context.Context, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if key, ok := p.texts.Lookup(text); ok {
		if _, live := p.audio.Get(key); live {
			return key, true
		}
		// Indexed artifact already evicted; fall through and re-synthesize.
	}

	wav, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		p.logger.Printf("pipeline: TTS error for %q: %v", text, err)
		captureError(err, "pipeline: synthesis failed")
		return "", false
	}

	key := p.audio.Put(wav, p.cfg.ArtifactTTL)
	p.texts.Record(text, key)
	return key, true
}
