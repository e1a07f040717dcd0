// Package vad implements voice activity detection: a per-frame state machine
// that turns a continuous stream of audio frames into discrete speech
// segments. Frame classification (voiced vs. silent) is delegated to a
// Classifier so that energy-based and model-based detectors are
// interchangeable.
package vad

import (
	"github.com/stimme-dev/stimme/pkg/audio"
)

// Classifier decides whether a single audio frame contains voice. It is
// treated as a pure, possibly-failing function: a classification error never
// corrupts detector state (the frame is counted as silence instead).
type Classifier interface {
	Classify(frame audio.Frame) (voiced bool, err error)
}

// DefaultEnergyThreshold is the normalized RMS amplitude above which a frame
// counts as voiced. Tuned for 16-bit PCM speech at typical microphone gain.
const DefaultEnergyThreshold = 0.015

// EnergyClassifier classifies frames by normalized RMS amplitude. It is
// stateless and safe for concurrent use.
type EnergyClassifier struct {
	// Threshold is the normalized RMS amplitude in [0, 1] above which a
	// frame is voiced. Zero means DefaultEnergyThreshold.
	Threshold float64
}

var _ Classifier = (*EnergyClassifier)(nil)

// Classify implements Classifier. Empty frames are silent.
func (c *EnergyClassifier) Classify(frame audio.Frame) (bool, error) {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return audio.RMS(frame.Data) >= threshold, nil
}
