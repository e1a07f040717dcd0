package chunker_test

import (
	"strings"
	"testing"

	"github.com/stimme-dev/stimme/pkg/chunker"
)

// collect pushes all fragments and appends the final flush, returning every
// span in order.
func collect(c *chunker.Chunker, fragments []string) []string {
	var spans []string
	for _, f := range fragments {
		spans = append(spans, c.Push(f)...)
	}
	if final := c.Flush(); final != "" {
		spans = append(spans, final)
	}
	return spans
}

func TestChunker_Spans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fragments []string
		want      []string
	}{
		{
			name:      "clause break then sentence end",
			fragments: []string{"Hall", "o, wie ", "geht es ", "dir?"},
			want:      []string{"Hallo, wie", "geht es dir?"},
		},
		{
			name:      "single sentence",
			fragments: []string{"Alles ", "klar", "."},
			want:      []string{"Alles klar."},
		},
		{
			name:      "two sentences in one fragment cut at last mark",
			fragments: []string{"Ja. Nein. Vielleich", "t spät", "er."},
			want:      []string{"Ja. Nein.", "Vielleicht später."},
		},
		{
			name:      "newline acts as sentence mark",
			fragments: []string{"erste Zeile\nzwei", "te Zeile."},
			want:      []string{"erste Zeile", "zweite Zeile."},
		},
		{
			name:      "semicolon clause break",
			fragments: []string{"gut; ", "dann los."},
			want:      []string{"gut;", "dann los."},
		},
		{
			name:      "spaced dash clause break",
			fragments: []string{"Moment - ", "ich denke nach."},
			want:      []string{"Moment -", "ich denke nach."},
		},
		{
			name:      "en dash clause break",
			fragments: []string{"Moment – ", "gleich."},
			want:      []string{"Moment –", "gleich."},
		},
		{
			name:      "trailing text flushed without boundary",
			fragments: []string{"und dann "},
			want:      []string{"und dann"},
		},
		{
			name:      "flush may end mid-word",
			fragments: []string{"abgeschnitt"},
			want:      []string{"abgeschnitt"},
		},
		{
			name:      "punctuation-only fragment consumes whole buffer",
			fragments: []string{"fertig", "!", " und weiter."},
			want:      []string{"fertig!", "und weiter."},
		},
		{
			name:      "empty fragments ignored",
			fragments: []string{"", "ok", "", "."},
			want:      []string{"ok."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := collect(chunker.New(), tt.fragments)
			if len(got) != len(tt.want) {
				t.Fatalf("spans = %q, want %q", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunker_LengthFallback(t *testing.T) {
	t.Parallel()

	c := chunker.New(chunker.WithMaxBuffered(20))
	var spans []string
	// No punctuation at all; only the length cap can trigger.
	for range 6 {
		spans = append(spans, c.Push("wort ")...)
	}
	if len(spans) == 0 {
		t.Fatal("length fallback never fired")
	}
	for _, s := range spans {
		if len(s) > 20 {
			t.Errorf("span %q exceeds the cap", s)
		}
		for _, w := range strings.Fields(s) {
			if w != "wort" {
				t.Errorf("span %q split a word", s)
			}
		}
	}
}

func TestChunker_LengthFallbackKeepsOverlongWord(t *testing.T) {
	t.Parallel()

	c := chunker.New(chunker.WithMaxBuffered(10))
	// A single word longer than the cap must keep accumulating rather than
	// be split.
	if spans := c.Push("Donaudampfschiff"); spans != nil {
		t.Fatalf("over-long word was cut: %q", spans)
	}
	if got := c.Flush(); got != "Donaudampfschiff" {
		t.Errorf("Flush = %q", got)
	}
}

func TestChunker_TextPreservation(t *testing.T) {
	t.Parallel()

	inputs := [][]string{
		{"Hall", "o, wie ", "geht es ", "dir?"},
		{"Das ist ein längerer Satz, der mehrere Teile hat; er endet hier. Und noch einer!"},
		{"a", "b", "c", "d", "e", ".", "f", "g", "?"},
		{"kein ende ohne punkt und ohne pause aber mit vielen wörtern die den puffer irgendwann überlaufen lassen"},
		{"Zahlen: 1, 2, 3. Fertig"},
	}

	for _, fragments := range inputs {
		c := chunker.New()
		spans := collect(c, fragments)

		// Concatenating all spans must reproduce the input text up to
		// whitespace at span boundaries, so compare with all whitespace
		// squashed: no character may be lost, duplicated, or reordered.
		squash := func(s string) string {
			return strings.Join(strings.Fields(s), "")
		}
		want := squash(strings.Join(fragments, ""))
		got := squash(strings.Join(spans, " "))
		if got != want {
			t.Errorf("text not preserved:\n got %q\nwant %q", got, want)
		}
	}
}

func TestChunker_WordSafety(t *testing.T) {
	t.Parallel()

	fragments := []string{"zusam", "mengesetzte Wör", "ter, die über Frag", "mentgrenzen laufen. Ende"}
	c := chunker.New()

	var spans []string
	for _, f := range fragments {
		spans = append(spans, c.Push(f)...)
	}
	// Every span emitted before the final flush must end at whitespace or
	// punctuation in the source text, i.e. never mid-word.
	full := strings.Join(fragments, "")
	pos := 0
	for _, s := range spans {
		idx := strings.Index(full[pos:], s)
		if idx < 0 {
			t.Fatalf("span %q not found in source", s)
		}
		end := pos + idx + len(s)
		if end < len(full) {
			next := full[end]
			if next != ' ' && !strings.ContainsRune(".!?\n,;:", rune(next)) {
				t.Errorf("span %q ends mid-word before %q", s, string(next))
			}
		}
		pos = end
	}
}

func TestChunker_Buffered(t *testing.T) {
	t.Parallel()

	c := chunker.New()
	c.Push("hal")
	if got := c.Buffered(); got != 3 {
		t.Errorf("Buffered = %d, want 3", got)
	}
	c.Flush()
	if got := c.Buffered(); got != 0 {
		t.Errorf("Buffered after Flush = %d, want 0", got)
	}
}
