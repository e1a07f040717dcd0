package turn

// Event is one outbound item produced by a running turn. It is a closed set:
// consumers switch on the concrete type instead of catching errors out of
// band. The channel returned by [Orchestrator.Run] carries zero or more
// Transcript and Audio events followed by exactly one terminal event (Done,
// Failed, or Cancelled), then closes.
type Event interface {
	isEvent()
}

// Transcript reports the recognized text when a turn started from a speech
// segment. It is emitted once, before generation begins.
type Transcript struct {
	Text       string
	Confidence float64
}

// Audio carries one synthesized audio chunk together with the text span it
// was produced from. Seq numbers chunks within the turn starting at 1 and is
// strictly increasing in emission order. Span numbers the originating text
// span starting at 1; consecutive spans can carry identical text, so
// consumers group chunks by Span rather than by Text.
type Audio struct {
	Samples []byte
	Text    string
	Seq     int
	Span    int
}

// Done marks natural completion. TotalChunks is the number of Audio events
// emitted before it.
type Done struct {
	TotalChunks int
}

// Failed marks a terminal turn failure.
type Failed struct {
	Kind FailureKind
	Err  error
}

// Cancelled marks a turn stopped by an external cancellation request.
// Cancellation is a distinct outcome, never reported as a failure.
type Cancelled struct {
	Reason string
}

func (Transcript) isEvent() {}
func (Audio) isEvent()      {}
func (Done) isEvent()       {}
func (Failed) isEvent()     {}
func (Cancelled) isEvent()  {}

// FailureKind is a stable error category carried on Failed events and in
// outbound protocol messages.
type FailureKind string

const (
	// FailureTranscription covers speech-to-text call failures. Terminal for
	// the turn; no partial output is produced.
	FailureTranscription FailureKind = "transcription"

	// FailureEmptyTranscript marks a speech segment whose transcript was
	// empty after trimming. A rejected input, not a system fault.
	FailureEmptyTranscript FailureKind = "empty_transcript"

	// FailureGeneration covers text-generation failures, both at stream
	// start and mid-stream.
	FailureGeneration FailureKind = "generation"
)
