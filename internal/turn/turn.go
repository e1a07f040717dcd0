// Package turn drives one complete request/response cycle: speech segment or
// text prompt in, ordered transcript and audio events out. The orchestrator
// owns the sequencing (transcribe, retrieve, generate, chunk, synthesize),
// checks for cooperative cancellation around every external call, and
// guarantees that each turn is removed from the process registry exactly once.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/stimme-dev/stimme/internal/observe"
	"github.com/stimme-dev/stimme/internal/procreg"
	"github.com/stimme-dev/stimme/internal/retrieval"
	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/chunker"
	"github.com/stimme-dev/stimme/pkg/provider/llm"
	"github.com/stimme-dev/stimme/pkg/provider/stt"
	"github.com/stimme-dev/stimme/pkg/provider/tts"
)

// ErrEmptyInput is returned by Run when a text turn carries no content after
// trimming. The turn is rejected before it is registered.
var ErrEmptyInput = errors.New("turn: input text must not be empty")

// DefaultContextDocuments is how many retrieved documents are folded into the
// generation prompt when a retriever is configured.
const DefaultContextDocuments = 4

// eventBuffer is the capacity of the event channel returned by Run.
const eventBuffer = 32

// Input describes one turn request.
type Input struct {
	// Segment is the detected speech segment for voice turns. Nil for text
	// turns.
	Segment *audio.Segment

	// Text is the prompt for text turns. Ignored when Segment is set.
	Text string

	// Language is the transcription language code. Empty uses the
	// transcriber default.
	Language string

	// Voice selects the synthesis voice.
	Voice tts.VoiceProfile

	// SessionID identifies the originating session, used for registry
	// metadata and to scope context retrieval.
	SessionID string

	// History is the bounded recent conversation, oldest first. The caller
	// owns eviction; the prompt builder trims it further if needed.
	History []llm.Message
}

// Orchestrator sequences the turn pipeline. Safe for concurrent use; each Run
// call drives an independent turn.
type Orchestrator struct {
	registry    *procreg.Registry
	transcriber stt.Transcriber
	generator   llm.Generator
	synthesizer tts.Synthesizer

	retriever   retrieval.Retriever
	contextDocs int
	prompts     *retrieval.PromptBuilder
	maxBuffered int
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetriever enables context retrieval for generation prompts.
func WithRetriever(r retrieval.Retriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// WithContextDocuments sets how many retrieved documents are folded into the
// prompt. Defaults to DefaultContextDocuments.
func WithContextDocuments(n int) Option {
	return func(o *Orchestrator) { o.contextDocs = n }
}

// WithPromptBuilder overrides the default prompt builder.
func WithPromptBuilder(b *retrieval.PromptBuilder) Option {
	return func(o *Orchestrator) { o.prompts = b }
}

// WithMaxBufferedText sets the chunker's length-fallback threshold.
func WithMaxBufferedText(n int) Option {
	return func(o *Orchestrator) { o.maxBuffered = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics enables per-stage latency and turn outcome metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. registry, transcriber, generator, and
// synthesizer must be non-nil.
func New(registry *procreg.Registry, transcriber stt.Transcriber, generator llm.Generator, synthesizer tts.Synthesizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		contextDocs: DefaultContextDocuments,
		prompts:     &retrieval.PromptBuilder{},
		maxBuffered: chunker.DefaultMaxBuffered,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run registers a new turn and starts its pipeline. It returns the turn ID
// and a channel of events; the channel carries zero or more Transcript and
// Audio events followed by exactly one terminal event, then closes. The
// caller must drain the channel.
//
// Text turns with empty content are rejected with ErrEmptyInput before a
// turn is registered.
func (o *Orchestrator) Run(ctx context.Context, in Input) (string, <-chan Event, error) {
	if in.Segment == nil && strings.TrimSpace(in.Text) == "" {
		return "", nil, ErrEmptyInput
	}

	kind := "text"
	if in.Segment != nil {
		kind = "voice"
	}
	id, token := o.registry.Start("turn", map[string]string{
		"session": in.SessionID,
		"kind":    kind,
		"voice":   in.Voice.Name,
	})

	events := make(chan Event, eventBuffer)
	go o.runTurn(ctx, id, token, in, events)
	return id, events, nil
}

// runTurn executes the pipeline for one registered turn. It always closes the
// event channel and always removes the turn from the registry, on every exit
// path.
func (o *Orchestrator) runTurn(ctx context.Context, id string, token *procreg.Token, in Input, events chan<- Event) {
	defer close(events)
	defer o.registry.Cleanup(id)

	logger := o.logger.With("turn_id", id, "session", in.SessionID)
	started := time.Now()

	kind := "text"
	if in.Segment != nil {
		kind = "voice"
	}
	if o.metrics != nil {
		o.metrics.ActiveTurns.Add(ctx, 1)
		defer o.metrics.ActiveTurns.Add(context.WithoutCancel(ctx), -1)
	}

	// Derive a context that falls when the token is cancelled, so an
	// in-flight external call is actively torn down rather than abandoned.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-watchDone:
		}
	}()

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// finish sends the terminal event even when ctx already fell, so the
	// consumer always sees exactly one terminal event before close. The
	// event channel is buffered and the consumer drains until close, so
	// this send does not block indefinitely.
	finish := func(ev Event) {
		if o.metrics != nil {
			outcome := "completed"
			switch ev.(type) {
			case Failed:
				outcome = "failed"
			case Cancelled:
				outcome = "cancelled"
			}
			mctx := context.WithoutCancel(ctx)
			o.metrics.RecordTurn(mctx, kind, outcome)
			o.metrics.TurnDuration.Record(mctx, time.Since(started).Seconds())
		}
		events <- ev
	}
	cancelled := func() bool {
		return token.Cancelled() || ctx.Err() != nil
	}
	reason := func() string {
		if r := token.Reason(); r != "" {
			return r
		}
		return "context cancelled"
	}

	// ── Transcription ────────────────────────────────────────────────────
	text := in.Text
	if in.Segment != nil {
		if cancelled() {
			finish(Cancelled{Reason: reason()})
			return
		}
		sttStart := time.Now()
		transcript, err := o.transcriber.Transcribe(ctx, in.Segment, in.Language)
		if o.metrics != nil {
			mctx := context.WithoutCancel(ctx)
			o.metrics.STTDuration.Record(mctx, time.Since(sttStart).Seconds())
			status := "ok"
			if err != nil {
				status = "error"
				o.metrics.RecordProviderError(mctx, "stt")
			}
			o.metrics.RecordProviderRequest(mctx, "stt", status)
		}
		if err != nil {
			if cancelled() {
				finish(Cancelled{Reason: reason()})
				return
			}
			logger.Error("transcription failed", "error", err)
			finish(Failed{Kind: FailureTranscription, Err: err})
			return
		}
		text = strings.TrimSpace(transcript.Text)
		if text == "" {
			logger.Info("discarding turn with empty transcript",
				"speech_duration", in.Segment.SpeechDuration())
			finish(Failed{Kind: FailureEmptyTranscript,
				Err: errors.New("turn: transcript empty after trimming")})
			return
		}
		if !emit(Transcript{Text: text, Confidence: transcript.Confidence}) {
			finish(Cancelled{Reason: reason()})
			return
		}
		logger.Info("transcription complete",
			"chars", len(text),
			"confidence", transcript.Confidence)
	}

	// ── Context retrieval ────────────────────────────────────────────────
	var docs []retrieval.Result
	if o.retriever != nil {
		if cancelled() {
			finish(Cancelled{Reason: reason()})
			return
		}
		results, err := o.retriever.Search(ctx, text, o.contextDocs, in.SessionID)
		if err != nil {
			// Retrieval is an enrichment; the turn proceeds without it.
			logger.Warn("context retrieval failed", "error", err)
		} else {
			docs = results
		}
	}

	// ── Generation ───────────────────────────────────────────────────────
	if cancelled() {
		finish(Cancelled{Reason: reason()})
		return
	}
	req := o.prompts.Build(in.History, docs, text)
	genStart := time.Now()
	fragments, err := o.generator.GenerateStream(ctx, req)
	if o.metrics != nil {
		mctx := context.WithoutCancel(ctx)
		status := "ok"
		if err != nil {
			status = "error"
			o.metrics.RecordProviderError(mctx, "llm")
		}
		o.metrics.RecordProviderRequest(mctx, "llm", status)
	}
	if err != nil {
		if cancelled() {
			finish(Cancelled{Reason: reason()})
			return
		}
		logger.Error("generation failed to start", "error", err)
		finish(Failed{Kind: FailureGeneration, Err: err})
		return
	}

	chk := chunker.New(chunker.WithMaxBuffered(o.maxBuffered))
	seq := 0
	spanIdx := 0

	for fragment := range fragments {
		if cancelled() {
			go audio.Drain(fragments)
			finish(Cancelled{Reason: reason()})
			return
		}
		if fragment.FinishReason == llm.FinishReasonError {
			go audio.Drain(fragments)
			if o.metrics != nil {
				o.metrics.RecordProviderError(context.WithoutCancel(ctx), "llm")
			}
			logger.Error("generation failed mid-stream", "error", fragment.Err)
			finish(Failed{Kind: FailureGeneration, Err: fragment.Err})
			return
		}
		for _, span := range chk.Push(fragment.Text) {
			spanIdx++
			ok, n := o.synthesizeSpan(ctx, logger, token, span, spanIdx, in.Voice, seq, emit)
			seq = n
			if !ok {
				go audio.Drain(fragments)
				finish(Cancelled{Reason: reason()})
				return
			}
		}
	}

	if o.metrics != nil {
		o.metrics.LLMDuration.Record(context.WithoutCancel(ctx), time.Since(genStart).Seconds())
	}

	// The fragment stream may have closed because ctx fell mid-generation.
	if cancelled() {
		finish(Cancelled{Reason: reason()})
		return
	}

	if final := chk.Flush(); final != "" {
		spanIdx++
		ok, n := o.synthesizeSpan(ctx, logger, token, final, spanIdx, in.Voice, seq, emit)
		seq = n
		if !ok {
			finish(Cancelled{Reason: reason()})
			return
		}
	}

	logger.Info("turn complete",
		"chunks", seq,
		"duration", time.Since(started))
	finish(Done{TotalChunks: seq})
}

// synthesizeSpan synthesizes one text span and emits its audio chunks in
// order. spanIdx is the 1-based span ordinal within the turn; seq is the
// running chunk counter, with the updated value returned. A synthesis failure
// for the span is logged and skipped so the rest of the turn continues.
// Returns ok=false only on cancellation.
func (o *Orchestrator) synthesizeSpan(ctx context.Context, logger *slog.Logger, token *procreg.Token, span string, spanIdx int, voice tts.VoiceProfile, seq int, emit func(Event) bool) (bool, int) {
	if token.Cancelled() || ctx.Err() != nil {
		return false, seq
	}

	spanStart := time.Now()
	audioCh, err := o.synthesizer.Synthesize(ctx, span, voice)
	if o.metrics != nil {
		mctx := context.WithoutCancel(ctx)
		status := "ok"
		if err != nil {
			status = "error"
			o.metrics.RecordProviderError(mctx, "tts")
		}
		o.metrics.RecordProviderRequest(mctx, "tts", status)
	}
	if err != nil {
		logger.Warn("skipping span after synthesis failure",
			"span_chars", len(span),
			"error", err)
		return true, seq
	}

	for samples := range audioCh {
		if token.Cancelled() || ctx.Err() != nil {
			go audio.Drain(audioCh)
			return false, seq
		}
		seq++
		if !emit(Audio{Samples: samples, Text: span, Seq: seq, Span: spanIdx}) {
			go audio.Drain(audioCh)
			return false, seq
		}
		if o.metrics != nil {
			o.metrics.AudioChunks.Add(ctx, 1)
		}
	}
	if o.metrics != nil {
		o.metrics.TTSDuration.Record(context.WithoutCancel(ctx), time.Since(spanStart).Seconds())
	}
	return true, seq
}
