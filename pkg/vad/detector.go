package vad

import (
	"log/slog"
	"time"

	"github.com/stimme-dev/stimme/pkg/audio"
)

// Config holds the detection thresholds. The zero value is not usable; use
// DefaultConfig as a starting point.
type Config struct {
	// MinVoiceFrames is the number of consecutive voiced frames required to
	// enter the speaking state (hysteresis against single-frame spikes).
	MinVoiceFrames int

	// MinSilenceFrames is the number of consecutive silent frames required,
	// together with SilenceThreshold, to end a speech segment.
	MinSilenceFrames int

	// SilenceThreshold is the minimum elapsed time since the last voiced
	// frame before a segment may end.
	SilenceThreshold time.Duration

	// MinSpeechDuration is the minimum span between the first and last
	// voiced frame for a segment to be flushed. Shorter bursts are dropped.
	MinSpeechDuration time.Duration

	// PreRollFrames is the number of frames retained while idle and
	// prepended to a segment so that speech onset is not clipped.
	PreRollFrames int
}

// DefaultConfig returns the detection thresholds used in production:
// 3 voiced frames to trigger, 5 silent frames plus 200 ms of silence to end,
// 50 ms minimum speech, 50 frames of pre-roll.
func DefaultConfig() Config {
	return Config{
		MinVoiceFrames:    3,
		MinSilenceFrames:  5,
		SilenceThreshold:  200 * time.Millisecond,
		MinSpeechDuration: 50 * time.Millisecond,
		PreRollFrames:     50,
	}
}

// state is the detector's speaking state.
type state int

const (
	stateIdle state = iota
	stateSpeaking
)

// Detector is the per-session voice activity state machine. It is
// single-writer: only the session's own goroutine may call its methods, so
// no locking is needed.
//
// All duration arithmetic uses frame timestamps, never the wall clock, so
// detection is deterministic for a given frame sequence.
type Detector struct {
	cfg        Config
	classifier Classifier
	logger     *slog.Logger

	st            state
	voiceStreak   int
	silenceStreak int

	// firstVoice/lastVoice are timestamps of the current segment's first and
	// last voiced frame. voiceCandidate tracks the start of an unconfirmed
	// voice streak while idle.
	firstVoice     time.Duration
	lastVoice      time.Duration
	voiceCandidate time.Duration

	preRoll []audio.Frame
	buffer  []audio.Frame
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for classifier-failure warnings. Defaults
// to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// NewDetector creates a Detector with the given thresholds and frame
// classifier. Zero or negative config fields fall back to DefaultConfig
// values.
func NewDetector(cfg Config, classifier Classifier, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.MinVoiceFrames <= 0 {
		cfg.MinVoiceFrames = def.MinVoiceFrames
	}
	if cfg.MinSilenceFrames <= 0 {
		cfg.MinSilenceFrames = def.MinSilenceFrames
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = def.MinSpeechDuration
	}
	if cfg.PreRollFrames <= 0 {
		cfg.PreRollFrames = def.PreRollFrames
	}
	d := &Detector{
		cfg:        cfg,
		classifier: classifier,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Speaking reports whether the detector is currently inside a speech segment.
func (d *Detector) Speaking() bool { return d.st == stateSpeaking }

// BufferedSpeech returns the speech span accumulated so far while speaking
// (last voiced frame minus first voiced frame), or zero while idle. Callers
// that want to cap segment length combine this with ForceFlush.
func (d *Detector) BufferedSpeech() time.Duration {
	if d.st != stateSpeaking {
		return 0
	}
	return d.lastVoice - d.firstVoice
}

// Process consumes one frame and reports whether a completed speech segment
// should be flushed. The returned segment is non-nil only when flush is true.
//
// A frame that cannot be classified is counted as silence; the detector
// never fails.
func (d *Detector) Process(frame audio.Frame) (flush bool, segment *audio.Segment) {
	voiced, err := d.classifier.Classify(frame)
	if err != nil {
		d.logger.Warn("vad: frame classification failed, treating as silence", "error", err)
		voiced = false
	}

	if voiced {
		return d.processVoiced(frame)
	}
	return d.processSilent(frame)
}

func (d *Detector) processVoiced(frame audio.Frame) (bool, *audio.Segment) {
	d.silenceStreak = 0
	if d.voiceStreak == 0 {
		d.voiceCandidate = frame.Timestamp
	}
	d.voiceStreak++

	switch d.st {
	case stateIdle:
		d.pushPreRoll(frame)
		if d.voiceStreak >= d.cfg.MinVoiceFrames {
			// Speech confirmed. The streak's frames are already in the
			// pre-roll ring, so the snapshot carries them plus onset audio.
			d.st = stateSpeaking
			d.buffer = append(d.buffer[:0], d.preRoll...)
			d.preRoll = d.preRoll[:0]
			d.firstVoice = d.voiceCandidate
			d.lastVoice = frame.Timestamp
		}
	case stateSpeaking:
		d.buffer = append(d.buffer, frame)
		d.lastVoice = frame.Timestamp
	}
	return false, nil
}

func (d *Detector) processSilent(frame audio.Frame) (bool, *audio.Segment) {
	d.voiceStreak = 0
	d.silenceStreak++

	switch d.st {
	case stateIdle:
		d.pushPreRoll(frame)
	case stateSpeaking:
		d.buffer = append(d.buffer, frame)
		if d.silenceStreak >= d.cfg.MinSilenceFrames &&
			frame.Timestamp-d.lastVoice >= d.cfg.SilenceThreshold {
			seg := d.takeSegment()
			if seg == nil {
				// Too short to keep; dropped without flushing.
				return false, nil
			}
			return true, seg
		}
	}
	return false, nil
}

// ForceFlush returns the buffered segment if the detector is mid-speech and
// the accumulated speech meets the minimum duration. Called on session
// teardown. Idempotent: after a flush (forced or natural) it returns nil
// until speech starts again.
func (d *Detector) ForceFlush() *audio.Segment {
	if d.st != stateSpeaking {
		return nil
	}
	return d.takeSegment()
}

// Reset drops all buffered audio and returns the detector to idle.
func (d *Detector) Reset() {
	d.st = stateIdle
	d.voiceStreak = 0
	d.silenceStreak = 0
	d.firstVoice = 0
	d.lastVoice = 0
	d.voiceCandidate = 0
	d.preRoll = d.preRoll[:0]
	d.buffer = nil
}

// takeSegment concatenates the buffer into a Segment and resets to idle.
// Returns nil when the speech span is below the minimum duration.
func (d *Detector) takeSegment() *audio.Segment {
	first, last := d.firstVoice, d.lastVoice
	buffer := d.buffer
	d.Reset()

	if last-first < d.cfg.MinSpeechDuration {
		return nil
	}
	if len(buffer) == 0 {
		return nil
	}

	total := 0
	for _, f := range buffer {
		total += len(f.Data)
	}
	data := make([]byte, 0, total)
	for _, f := range buffer {
		data = append(data, f.Data...)
	}
	return &audio.Segment{
		Data:       data,
		SampleRate: buffer[0].SampleRate,
		FirstVoice: first,
		LastVoice:  last,
	}
}

// pushPreRoll appends a frame to the pre-roll ring, evicting the oldest
// frame once the ring is full.
func (d *Detector) pushPreRoll(frame audio.Frame) {
	if len(d.preRoll) >= d.cfg.PreRollFrames {
		copy(d.preRoll, d.preRoll[1:])
		d.preRoll = d.preRoll[:len(d.preRoll)-1]
	}
	d.preRoll = append(d.preRoll, frame)
}
