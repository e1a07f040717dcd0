// Package chunker re-segments an incremental stream of generated text
// fragments into spans that sound natural when synthesized one at a time.
//
// Fragments arrive in arbitrary splits (single tokens, partial words,
// punctuation). The chunker accumulates them and cuts a span as soon as one
// of three triggers fires, in priority order: a completed sentence, a clause
// break, or a length cap. Concatenating all emitted spans plus the final
// Flush reproduces the input text exactly, modulo whitespace trimmed at span
// boundaries.
package chunker

import "strings"

// DefaultMaxBuffered is the buffer length above which the length fallback
// cuts at a word boundary even without punctuation.
const DefaultMaxBuffered = 80

const (
	sentenceMarks = ".!?\n"
	breakMarks    = ",;:"
)

// multi-rune clause breaks checked in addition to breakMarks.
var dashBreaks = []string{" - ", " – "}

// Chunker accumulates text fragments and emits synthesizable spans. It is
// per-turn, single-writer state; no locking.
type Chunker struct {
	maxBuffered int
	buf         string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxBuffered sets the length-fallback threshold. Values below 1 keep
// DefaultMaxBuffered.
func WithMaxBuffered(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxBuffered = n
		}
	}
}

// New creates an empty Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{maxBuffered: DefaultMaxBuffered}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Push appends one fragment and returns all spans that became ready, in
// order. A single fragment can complete several spans (e.g. a long paste
// with multiple sentences); most pushes return nil.
func (c *Chunker) Push(fragment string) []string {
	if fragment == "" {
		return nil
	}
	c.buf += fragment

	var spans []string
	for {
		span, rest, ok := cut(c.buf, c.maxBuffered)
		if !ok {
			break
		}
		c.buf = strings.TrimLeft(rest, " \t")
		if span = strings.TrimSpace(span); span != "" {
			spans = append(spans, span)
		}
	}
	return spans
}

// Flush returns whatever text remains buffered, trimmed, and empties the
// chunker. Called once when the fragment stream ends; the result may end
// mid-word if the upstream stream itself was truncated without trailing
// whitespace.
func (c *Chunker) Flush() string {
	out := strings.TrimSpace(c.buf)
	c.buf = ""
	return out
}

// Buffered returns the number of characters currently held back.
func (c *Chunker) Buffered() int { return len(c.buf) }

// cut finds the best break point in buf. It reports ok=false when the buffer
// should keep accumulating.
func cut(buf string, maxBuffered int) (span, rest string, ok bool) {
	// Completed sentence: cut at the last sentence mark, inclusive.
	if idx := strings.LastIndexAny(buf, sentenceMarks); idx >= 0 {
		return buf[:idx+1], buf[idx+1:], true
	}

	// Clause break: the mark licenses the cut, but the cut itself lands on
	// the last word boundary so complete words after the mark ride along
	// and no word is ever split.
	if idx := lastBreak(buf); idx >= 0 {
		if ws := strings.LastIndexAny(buf, " \t"); ws > idx {
			return buf[:ws], buf[ws:], true
		}
		return buf[:idx+1], buf[idx+1:], true
	}

	// Length fallback: emit all complete words before the cap, retaining
	// the dangling partial word. A single over-long word keeps accumulating
	// rather than being split.
	if len(buf) > maxBuffered {
		if ws := strings.LastIndexAny(buf[:maxBuffered], " \t"); ws > 0 {
			return buf[:ws], buf[ws:], true
		}
	}

	return "", "", false
}

// lastBreak returns the index of the final character of the last clause
// break in buf, or -1.
func lastBreak(buf string) int {
	idx := strings.LastIndexAny(buf, breakMarks)
	for _, dash := range dashBreaks {
		if i := strings.LastIndex(buf, dash); i >= 0 {
			// Point at the dash, not the surrounding spaces.
			if j := i + len(dash) - 2; j > idx {
				idx = j
			}
		}
	}
	return idx
}
