// Package session drives one duplex conversation: inbound protocol messages
// in, transcription and synthesized audio out. Each session owns a voice
// activity detector fed by the inbound frame stream, enforces at most one
// active turn at a time, and keeps a bounded rolling history of completed
// exchanges.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stimme-dev/stimme/internal/procreg"
	"github.com/stimme-dev/stimme/internal/retrieval"
	"github.com/stimme-dev/stimme/internal/turn"
	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/provider/llm"
	"github.com/stimme-dev/stimme/pkg/provider/tts"
	"github.com/stimme-dev/stimme/pkg/vad"
)

const (
	// DefaultMaxHistory bounds the rolling history to this many exchanges.
	DefaultMaxHistory = 10

	// DefaultMaxSegment caps one speech segment; longer speech is flushed
	// early so unbounded monologues cannot grow the buffer forever.
	DefaultMaxSegment = 30 * time.Second

	// targetSampleRate is the mono PCM rate fed to the detector and the
	// transcriber.
	targetSampleRate = 16000

	// outboundBuffer is the capacity of the outbound message queue.
	outboundBuffer = 64
)

// Sender delivers outbound messages to the client. Implementations are
// called from a single writer goroutine per session.
type Sender interface {
	Send(ctx context.Context, msg Outbound) error
}

// Config assembles a Session.
type Config struct {
	// ID identifies the session. Empty generates a fresh UUID.
	ID string

	// Sender delivers outbound messages. Must not be nil.
	Sender Sender

	// Orchestrator runs turns. Must not be nil.
	Orchestrator *turn.Orchestrator

	// Registry resolves stop_turn and stop_all requests. Must not be nil.
	Registry *procreg.Registry

	// Detector is the per-session voice activity detector. Must not be nil.
	Detector *vad.Detector

	// Retriever, when set, archives completed exchanges for later context
	// retrieval.
	Retriever retrieval.Retriever

	// Voice is the default synthesis voice.
	Voice tts.VoiceProfile

	// Language is the default transcription language code.
	Language string

	// MaxHistory bounds the rolling history in exchanges (one user turn plus
	// its response). Zero means DefaultMaxHistory.
	MaxHistory int

	// MaxSegment caps one speech segment. Zero means DefaultMaxSegment.
	MaxSegment time.Duration

	// Logger is the structured logger. Nil means slog.Default().
	Logger *slog.Logger
}

// Session handles one client connection. Handle must be called from a single
// goroutine (the connection's read loop); everything else is internally
// synchronized.
type Session struct {
	id        string
	sender    Sender
	orch      *turn.Orchestrator
	registry  *procreg.Registry
	detector  *vad.Detector
	retriever retrieval.Retriever
	converter *audio.FormatConverter

	voice      tts.VoiceProfile
	language   string
	maxHistory int
	maxSegment time.Duration
	logger     *slog.Logger

	// clock is the stream position, advanced by each frame's duration.
	// Single-writer: only the Handle goroutine touches it.
	clock time.Duration

	mu         sync.Mutex
	activeTurn string
	pending    *audio.Segment
	history    []llm.Message

	out       chan Outbound
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Session. Start must be called before Handle.
func New(cfg Config) (*Session, error) {
	if cfg.Sender == nil {
		return nil, errors.New("session: Sender must not be nil")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("session: Orchestrator must not be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("session: Registry must not be nil")
	}
	if cfg.Detector == nil {
		return nil, errors.New("session: Detector must not be nil")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = DefaultMaxSegment
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		id:         cfg.ID,
		sender:     cfg.Sender,
		orch:       cfg.Orchestrator,
		registry:   cfg.Registry,
		detector:   cfg.Detector,
		retriever:  cfg.Retriever,
		converter: &audio.FormatConverter{
			Target: audio.Format{SampleRate: targetSampleRate, Channels: 1},
		},
		voice:      cfg.Voice,
		language:   cfg.Language,
		maxHistory: cfg.MaxHistory,
		maxSegment: cfg.MaxSegment,
		logger:     cfg.Logger.With("component", "session", "session_id", cfg.ID),
		out:        make(chan Outbound, outboundBuffer),
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start launches the writer goroutine. ctx bounds the session's lifetime.
func (s *Session) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.writeLoop(ctx)
}

// Close tears the session down: trailing speech still buffered in the
// detector is dropped, the writer stops, and in-flight turn events are
// discarded. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if seg := s.detector.ForceFlush(); seg != nil {
			s.logger.Info("dropping trailing speech on teardown",
				"speech_duration", seg.SpeechDuration())
		}
		close(s.done)
	})
}

// Handle processes one inbound message. Malformed messages are logged and
// dropped; the session stays open.
func (s *Session) Handle(ctx context.Context, data []byte) {
	msg, err := DecodeInbound(data)
	if err != nil {
		s.logger.Warn("dropping malformed message", "error", err)
		return
	}

	switch msg.Type {
	case TypeAudioFrame:
		s.handleAudioFrame(ctx, msg)
	case TypeTextPrompt:
		s.handleTextPrompt(ctx, msg)
	case TypeStartTurn:
		s.handleStartTurn(ctx, msg)
	case TypeStopTurn:
		s.handleStopTurn(msg)
	case TypeStopAll:
		reason := msg.Reason
		if reason == "" {
			reason = "stop_all requested"
		}
		stopped := s.registry.StopAll(reason)
		s.logger.Info("stop_all processed", "stopped", stopped)
	}
}

func (s *Session) handleAudioFrame(ctx context.Context, msg Inbound) {
	if len(msg.Samples) == 0 {
		return
	}
	sampleRate := msg.SampleRate
	if sampleRate <= 0 {
		sampleRate = targetSampleRate
	}
	channels := msg.Channels
	if channels <= 0 {
		channels = 1
	}

	frame := audio.Frame{
		Data:       msg.Samples,
		SampleRate: sampleRate,
		Channels:   channels,
		Timestamp:  s.clock,
	}
	frame = s.converter.Convert(frame)
	if len(frame.Data) == 0 {
		// Misaligned PCM; the converter already warned.
		return
	}
	s.clock += frame.Duration()

	flush, segment := s.detector.Process(frame)
	if !flush && s.detector.BufferedSpeech() >= s.maxSegment {
		s.logger.Info("splitting overlong speech segment",
			"buffered", s.detector.BufferedSpeech())
		segment = s.detector.ForceFlush()
		flush = segment != nil
	}
	if flush {
		s.dispatchSegment(ctx, segment, s.language)
	}
}

func (s *Session) handleTextPrompt(ctx context.Context, msg Inbound) {
	if strings.TrimSpace(msg.Text) == "" {
		s.send(ctx, Outbound{
			Type:      TypeTurnError,
			ErrorKind: ErrorKindEmptyPrompt,
			Error:     "text_prompt requires non-empty text",
		})
		return
	}

	voice := s.voice
	if msg.Voice != "" {
		voice = tts.VoiceProfile{ID: msg.Voice, Name: msg.Voice, Provider: s.voice.Provider}
	}

	s.mu.Lock()
	if s.activeTurn != "" {
		s.mu.Unlock()
		s.send(ctx, Outbound{
			Type:      TypeTurnError,
			ErrorKind: ErrorKindBusy,
			Error:     "a turn is already active",
		})
		return
	}
	err := s.startTurnLocked(ctx, turn.Input{
		Text:      msg.Text,
		Voice:     voice,
		SessionID: s.id,
		History:   s.historySnapshotLocked(),
	})
	s.mu.Unlock()
	if err != nil {
		s.send(ctx, Outbound{
			Type:      TypeTurnError,
			ErrorKind: ErrorKindEmptyPrompt,
			Error:     err.Error(),
		})
	}
}

// handleStartTurn force-flushes the detector so a client can end a turn
// without waiting for the silence threshold. While another turn is active the
// request is rejected and the buffered speech stays in the detector; only
// silence-triggered flushes queue behind a running turn.
func (s *Session) handleStartTurn(ctx context.Context, msg Inbound) {
	s.mu.Lock()
	busy := s.activeTurn != ""
	s.mu.Unlock()
	if busy {
		s.send(ctx, Outbound{
			Type:      TypeTurnError,
			ErrorKind: ErrorKindBusy,
			Error:     "a turn is already active",
		})
		return
	}

	segment := s.detector.ForceFlush()
	if segment == nil {
		s.send(ctx, Outbound{
			Type:      TypeTurnError,
			ErrorKind: ErrorKindNoSpeech,
			Error:     "no buffered speech to start a turn from",
		})
		return
	}
	language := msg.Language
	if language == "" {
		language = s.language
	}
	s.dispatchSegment(ctx, segment, language)
}

func (s *Session) handleStopTurn(msg Inbound) {
	id := msg.TurnID
	if id == "" {
		s.mu.Lock()
		id = s.activeTurn
		s.mu.Unlock()
	}
	if id == "" {
		return
	}
	reason := msg.Reason
	if reason == "" {
		reason = "stop_turn requested"
	}
	if !s.registry.Stop(id, reason) {
		// Already completed; a normal race, not a fault.
		s.logger.Debug("stop_turn for unknown turn", "turn_id", id)
	}
}

// dispatchSegment starts a voice turn for segment, or parks it when a turn
// is already active. Only the most recent pending segment is kept.
func (s *Session) dispatchSegment(ctx context.Context, segment *audio.Segment, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTurn != "" {
		if s.pending != nil {
			s.logger.Warn("replacing queued speech segment",
				"dropped_duration", s.pending.SpeechDuration())
		}
		s.pending = segment
		return
	}
	if err := s.startTurnLocked(ctx, turn.Input{
		Segment:   segment,
		Language:  language,
		Voice:     s.voice,
		SessionID: s.id,
		History:   s.historySnapshotLocked(),
	}); err != nil {
		// Voice turns carry a segment, so this cannot be an empty-input
		// rejection; log whatever it was and move on.
		s.logger.Error("starting voice turn failed", "error", err)
	}
}

// startTurnLocked starts a turn and its event forwarder. Callers hold s.mu.
func (s *Session) startTurnLocked(ctx context.Context, in turn.Input) error {
	id, events, err := s.orch.Run(ctx, in)
	if err != nil {
		return err
	}
	s.activeTurn = id
	s.wg.Add(1)
	go s.forward(ctx, id, in.Text, events)
	return nil
}

// forward relays one turn's events to the client. The terminal event is held
// back until the turn's session state is settled (history recorded, active
// slot released), so a client that has seen turn_end can immediately start
// the next turn.
func (s *Session) forward(ctx context.Context, turnID, userText string, events <-chan turn.Event) {
	defer s.wg.Done()

	transcript := userText
	var spans []string
	lastSpan := 0
	completed := false
	var terminal Outbound

	for ev := range events {
		switch e := ev.(type) {
		case turn.Transcript:
			transcript = e.Text
			s.send(ctx, Outbound{
				Type:       TypeTranscription,
				TurnID:     turnID,
				Text:       e.Text,
				Confidence: e.Confidence,
			})
		case turn.Audio:
			// Span ordinals distinguish consecutive spans even when their
			// text happens to repeat.
			if e.Span != lastSpan {
				spans = append(spans, e.Text)
				lastSpan = e.Span
			}
			s.send(ctx, Outbound{
				Type:        TypeAudioChunk,
				TurnID:      turnID,
				Samples:     e.Samples,
				ChunkNumber: e.Seq,
				Text:        e.Text,
			})
		case turn.Done:
			completed = true
			terminal = Outbound{
				Type:        TypeTurnEnd,
				TurnID:      turnID,
				TotalChunks: e.TotalChunks,
			}
		case turn.Failed:
			terminal = Outbound{
				Type:      TypeTurnError,
				TurnID:    turnID,
				ErrorKind: string(e.Kind),
				Error:     e.Err.Error(),
			}
		case turn.Cancelled:
			terminal = Outbound{
				Type:   TypeTurnCancelled,
				TurnID: turnID,
				Reason: e.Reason,
			}
		}
	}

	if completed {
		s.recordExchange(ctx, transcript, strings.Join(spans, " "))
	}

	s.mu.Lock()
	if s.activeTurn == turnID {
		s.activeTurn = ""
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if terminal.Type != "" {
		s.send(ctx, terminal)
	}

	if pending != nil && ctx.Err() == nil && !s.closed() {
		s.mu.Lock()
		var err error
		if s.activeTurn != "" {
			// A prompt claimed the slot in between; park the segment again.
			s.pending = pending
		} else {
			err = s.startTurnLocked(ctx, turn.Input{
				Segment:   pending,
				Language:  s.language,
				Voice:     s.voice,
				SessionID: s.id,
				History:   s.historySnapshotLocked(),
			})
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("starting queued voice turn failed", "error", err)
		}
	}
}

// recordExchange appends a completed exchange to the bounded history and, if
// a retriever is configured, archives it for future context lookups.
func (s *Session) recordExchange(ctx context.Context, userText, assistantText string) {
	userText = strings.TrimSpace(userText)
	assistantText = strings.TrimSpace(assistantText)
	if userText == "" && assistantText == "" {
		return
	}

	s.mu.Lock()
	if userText != "" {
		s.history = append(s.history, llm.Message{Role: "user", Content: userText})
	}
	if assistantText != "" {
		s.history = append(s.history, llm.Message{Role: "assistant", Content: assistantText})
	}
	// maxHistory counts exchanges; each one holds up to two messages.
	if excess := len(s.history) - 2*s.maxHistory; excess > 0 {
		s.history = append(s.history[:0], s.history[excess:]...)
	}
	s.mu.Unlock()

	if s.retriever != nil && userText != "" {
		doc := retrieval.Document{
			SessionID: s.id,
			Content:   fmt.Sprintf("Nutzer: %s\nAssistent: %s", userText, assistantText),
		}
		if err := s.retriever.Add(ctx, doc); err != nil {
			s.logger.Warn("archiving exchange failed", "error", err)
		}
	}
}

// historySnapshotLocked copies the history. Callers hold s.mu.
func (s *Session) historySnapshotLocked() []llm.Message {
	snapshot := make([]llm.Message, len(s.history))
	copy(snapshot, s.history)
	return snapshot
}

// send queues msg for the writer, dropping it if the session is closing.
func (s *Session) send(ctx context.Context, msg Outbound) {
	select {
	case s.out <- msg:
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writeLoop is the single writer: it serializes all outbound sends.
func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.out:
			if err := s.sender.Send(ctx, msg); err != nil {
				s.logger.Warn("outbound send failed", "type", msg.Type, "error", err)
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
