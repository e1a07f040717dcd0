package audio

import "time"

// Frame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — received from the session
// transport, classified by the VAD, and accumulated into speech segments.
type Frame struct {
	// PCM audio data, little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono. The VAD and STT path operate on mono only;
	// stereo input is down-mixed at the session boundary.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// Segment is a contiguous run of speech audio flushed by the VAD: the
// concatenated frames between a detected speech start and speech end,
// prefixed with the pre-roll captured before speech was confirmed.
type Segment struct {
	// PCM audio data, little-endian signed 16-bit mono samples.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// FirstVoice and LastVoice are the timestamps of the first and last
	// voiced frame, relative to stream start.
	FirstVoice time.Duration
	LastVoice  time.Duration
}

// SpeechDuration returns the elapsed time between the first and last voiced
// frame. Pre-roll and trailing silence are excluded.
func (s Segment) SpeechDuration() time.Duration {
	return s.LastVoice - s.FirstVoice
}

// PCMDuration returns the playback duration of byteLen bytes of 16-bit PCM
// at the given sample rate and channel count. Returns 0 for invalid formats.
func PCMDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
