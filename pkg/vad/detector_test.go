package vad_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/vad"
	"github.com/stimme-dev/stimme/pkg/vad/mock"
)

const frameDur = 100 * time.Millisecond

// script builds a classifier that replays the given voiced/silent sequence,
// then reports silence forever.
func script(voiced []bool) *mock.Classifier {
	i := 0
	return &mock.Classifier{
		ClassifyFunc: func(audio.Frame) (bool, error) {
			if i >= len(voiced) {
				return false, nil
			}
			v := voiced[i]
			i++
			return v, nil
		},
	}
}

// feed pushes n frames of frameDur each, starting at the detector's frame
// index start, and returns all flushed segments.
func feed(d *vad.Detector, start, n int) []*audio.Segment {
	var segs []*audio.Segment
	for i := start; i < start+n; i++ {
		frame := audio.Frame{
			Data:       []byte{0, 0, 0, 0},
			SampleRate: 16000,
			Channels:   1,
			Timestamp:  time.Duration(i) * frameDur,
		}
		if flush, seg := d.Process(frame); flush {
			segs = append(segs, seg)
		}
	}
	return segs
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDetector_SilenceSpeechSilence(t *testing.T) {
	t.Parallel()

	// 300ms silence, 900ms speech, 1200ms silence at 100ms frames.
	seq := append(append(repeat(false, 3), repeat(true, 9)...), repeat(false, 12)...)
	d := vad.NewDetector(vad.Config{
		MinVoiceFrames:    3,
		MinSilenceFrames:  5,
		SilenceThreshold:  100 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
		PreRollFrames:     10,
	}, script(seq))

	segs := feed(d, 0, len(seq))
	if len(segs) != 1 {
		t.Fatalf("expected exactly one segment, got %d", len(segs))
	}
	seg := segs[0]

	// First voiced frame is index 3, last is index 11.
	if seg.FirstVoice != 3*frameDur {
		t.Errorf("FirstVoice = %v, want %v", seg.FirstVoice, 3*frameDur)
	}
	if seg.LastVoice != 11*frameDur {
		t.Errorf("LastVoice = %v, want %v", seg.LastVoice, 11*frameDur)
	}
	if got := seg.SpeechDuration(); got != 800*time.Millisecond {
		t.Errorf("SpeechDuration = %v, want 800ms", got)
	}

	// The segment must include the pre-roll silence before speech onset:
	// 3 pre-roll frames + 9 speech frames + 5 trailing silence frames.
	wantFrames := 17
	if got := len(seg.Data) / 4; got != wantFrames {
		t.Errorf("segment holds %d frames, want %d", got, wantFrames)
	}

	if d.Speaking() {
		t.Error("detector should be idle after flush")
	}
}

func TestDetector_HysteresisBlocksShortSpikes(t *testing.T) {
	t.Parallel()

	// Voice spikes shorter than MinVoiceFrames never enter speaking.
	seq := []bool{false, true, true, false, true, false, true, true, false}
	d := vad.NewDetector(vad.Config{
		MinVoiceFrames:   3,
		MinSilenceFrames: 2,
		SilenceThreshold: 50 * time.Millisecond,
	}, script(seq))

	segs := feed(d, 0, len(seq))
	if len(segs) != 0 {
		t.Fatalf("expected no segments, got %d", len(segs))
	}
	if d.Speaking() {
		t.Error("detector entered speaking on sub-threshold spikes")
	}
}

func TestDetector_ShortSpeechDiscarded(t *testing.T) {
	t.Parallel()

	// 3 voiced frames (200ms of speech span) with a 500ms minimum.
	seq := append(append(repeat(false, 2), repeat(true, 3)...), repeat(false, 10)...)
	d := vad.NewDetector(vad.Config{
		MinVoiceFrames:    2,
		MinSilenceFrames:  3,
		SilenceThreshold:  100 * time.Millisecond,
		MinSpeechDuration: 500 * time.Millisecond,
	}, script(seq))

	segs := feed(d, 0, len(seq))
	if len(segs) != 0 {
		t.Fatalf("short burst must be discarded, got %d segments", len(segs))
	}
	if d.Speaking() {
		t.Error("detector should reset to idle after discarding a short burst")
	}
}

func TestDetector_ForceFlush(t *testing.T) {
	t.Parallel()

	seq := append(repeat(false, 2), repeat(true, 8)...)
	d := vad.NewDetector(vad.Config{
		MinVoiceFrames:    3,
		MinSilenceFrames:  5,
		SilenceThreshold:  200 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
	}, script(seq))

	if segs := feed(d, 0, len(seq)); len(segs) != 0 {
		t.Fatalf("no natural flush expected, got %d segments", len(segs))
	}
	if !d.Speaking() {
		t.Fatal("detector should be mid-speech")
	}

	seg := d.ForceFlush()
	if seg == nil {
		t.Fatal("ForceFlush returned nil for buffered speech")
	}
	if got := seg.SpeechDuration(); got != 700*time.Millisecond {
		t.Errorf("SpeechDuration = %v, want 700ms", got)
	}

	// Idempotent: a second call returns nil.
	if again := d.ForceFlush(); again != nil {
		t.Error("second ForceFlush must return nil")
	}
}

func TestDetector_ForceFlushShortSpeech(t *testing.T) {
	t.Parallel()

	seq := repeat(true, 3)
	d := vad.NewDetector(vad.Config{
		MinVoiceFrames:    2,
		MinSpeechDuration: time.Second,
	}, script(seq))

	feed(d, 0, len(seq))
	if seg := d.ForceFlush(); seg != nil {
		t.Error("ForceFlush must drop speech below the minimum duration")
	}
	if d.Speaking() {
		t.Error("detector should be idle after a dropping ForceFlush")
	}
}

func TestDetector_ClassifierErrorTreatedAsSilence(t *testing.T) {
	t.Parallel()

	// Errors interleaved with voice: the erroring frames count as silence
	// and break the voice streak, so speaking never starts.
	i := 0
	c := &mock.Classifier{
		ClassifyFunc: func(audio.Frame) (bool, error) {
			i++
			if i%2 == 0 {
				return false, errors.New("classifier offline")
			}
			return true, nil
		},
	}
	d := vad.NewDetector(vad.Config{MinVoiceFrames: 2}, c)

	segs := feed(d, 0, 10)
	if len(segs) != 0 {
		t.Fatalf("expected no segments, got %d", len(segs))
	}
	if d.Speaking() {
		t.Error("interrupted voice streaks must not enter speaking")
	}
}

func TestDetector_PreRollBounded(t *testing.T) {
	t.Parallel()

	// Long silence then speech: the segment prefix is capped at
	// PreRollFrames frames of look-back.
	seq := append(repeat(false, 50), repeat(true, 6)...)
	seq = append(seq, repeat(false, 6)...)
	d := vad.NewDetector(vad.Config{
		MinVoiceFrames:    3,
		MinSilenceFrames:  2,
		SilenceThreshold:  100 * time.Millisecond,
		MinSpeechDuration: 100 * time.Millisecond,
		PreRollFrames:     4,
	}, script(seq))

	segs := feed(d, 0, len(seq))
	if len(segs) != 1 {
		t.Fatalf("expected one segment, got %d", len(segs))
	}
	// Ring holds the last 4 idle frames (which include the first 2 unconfirmed
	// voiced frames and the confirming one), then 3 more voiced frames and the
	// trailing silence are appended: 4 + 3 + 2 = 9 frames.
	if got := len(segs[0].Data) / 4; got != 9 {
		t.Errorf("segment holds %d frames, want 9", got)
	}
}

func TestDetector_Reset(t *testing.T) {
	t.Parallel()

	seq := repeat(true, 5)
	d := vad.NewDetector(vad.Config{MinVoiceFrames: 2}, script(seq))
	feed(d, 0, len(seq))
	if !d.Speaking() {
		t.Fatal("detector should be speaking")
	}

	d.Reset()
	if d.Speaking() {
		t.Error("Reset must return the detector to idle")
	}
	if seg := d.ForceFlush(); seg != nil {
		t.Error("no segment may survive a Reset")
	}
}
