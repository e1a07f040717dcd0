// Package mock provides a scriptable frame classifier for testing.
package mock

import (
	"sync"

	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/vad"
)

// Classifier implements vad.Classifier with a caller-supplied function and
// records every classified frame.
type Classifier struct {
	mu     sync.Mutex
	frames []audio.Frame

	// ClassifyFunc decides the result for each frame. If nil, every frame
	// is silent.
	ClassifyFunc func(frame audio.Frame) (bool, error)
}

var _ vad.Classifier = (*Classifier)(nil)

// Classify implements vad.Classifier.
func (c *Classifier) Classify(frame audio.Frame) (bool, error) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()

	if c.ClassifyFunc == nil {
		return false, nil
	}
	return c.ClassifyFunc(frame)
}

// Frames returns a copy of all frames classified so far.
func (c *Classifier) Frames() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}
