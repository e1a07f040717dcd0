package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stimme-dev/stimme/internal/procreg"
	"github.com/stimme-dev/stimme/internal/session"
	"github.com/stimme-dev/stimme/internal/turn"
	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/provider/llm"
	llmmock "github.com/stimme-dev/stimme/pkg/provider/llm/mock"
	"github.com/stimme-dev/stimme/pkg/provider/stt"
	sttmock "github.com/stimme-dev/stimme/pkg/provider/stt/mock"
	"github.com/stimme-dev/stimme/pkg/provider/tts"
	ttsmock "github.com/stimme-dev/stimme/pkg/provider/tts/mock"
	"github.com/stimme-dev/stimme/pkg/vad"
	vadmock "github.com/stimme-dev/stimme/pkg/vad/mock"
)

// captureSender records every outbound message and exposes them both as a
// history and as a stream to wait on.
type captureSender struct {
	mu   sync.Mutex
	msgs []session.Outbound
	ch   chan session.Outbound
}

func newCaptureSender() *captureSender {
	return &captureSender{ch: make(chan session.Outbound, 256)}
}

func (c *captureSender) Send(_ context.Context, msg session.Outbound) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.ch <- msg
	return nil
}

// waitFor consumes outbound messages until one of the given type arrives.
func (c *captureSender) waitFor(t *testing.T, msgType string) session.Outbound {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-c.ch:
			if msg.Type == msgType {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q, history: %v", msgType, c.types())
		}
	}
}

func (c *captureSender) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Type
	}
	return out
}

func (c *captureSender) history() []session.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Outbound, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// newTestDetector classifies a frame as voiced when its first byte is
// non-zero, with thresholds small enough for short test frame sequences.
func newTestDetector() *vad.Detector {
	classifier := &vadmock.Classifier{
		ClassifyFunc: func(frame audio.Frame) (bool, error) {
			return frame.Data[0] != 0, nil
		},
	}
	cfg := vad.Config{
		MinVoiceFrames:    2,
		MinSilenceFrames:  2,
		SilenceThreshold:  20 * time.Millisecond,
		MinSpeechDuration: 10 * time.Millisecond,
		PreRollFrames:     5,
	}
	return vad.NewDetector(cfg, classifier)
}

func newTestSession(t *testing.T, reg *procreg.Registry, transcriber *sttmock.Transcriber, generator *llmmock.Generator, synthesizer *ttsmock.Synthesizer) (*session.Session, *captureSender) {
	t.Helper()
	sender := newCaptureSender()
	orch := turn.New(reg, transcriber, generator, synthesizer)
	s, err := session.New(session.Config{
		Sender:       sender,
		Orchestrator: orch,
		Registry:     reg,
		Detector:     newTestDetector(),
		Voice:        tts.VoiceProfile{ID: "v1", Name: "anna"},
		Language:     "de",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(s.Close)
	return s, sender
}

// frame builds one 10 ms audio_frame message. voiced frames carry non-zero
// samples so the test classifier flags them.
func frame(t *testing.T, voiced bool) []byte {
	samples := make([]byte, 320)
	if voiced {
		for i := range samples {
			samples[i] = 1
		}
	}
	return marshal(t, session.Inbound{
		Type:       session.TypeAudioFrame,
		Samples:    samples,
		SampleRate: 16000,
		Channels:   1,
	})
}

func TestSession_TextPromptRoundTrip(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)
	generator := &llmmock.Generator{}
	generator.ScriptText("Guten Tag!")
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1, 2}}}
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, generator, synthesizer)

	s.Handle(context.Background(), marshal(t, session.Inbound{
		Type: session.TypeTextPrompt,
		Text: "Sag hallo",
	}))

	chunk := sender.waitFor(t, session.TypeAudioChunk)
	if chunk.ChunkNumber != 1 || chunk.Text != "Guten Tag!" {
		t.Errorf("audio_chunk = %+v", chunk)
	}
	if len(chunk.Samples) != 2 {
		t.Errorf("samples = %v", chunk.Samples)
	}
	end := sender.waitFor(t, session.TypeTurnEnd)
	if end.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", end.TotalChunks)
	}
	if end.TurnID == "" || end.TurnID != chunk.TurnID {
		t.Errorf("turn IDs inconsistent: chunk %q, end %q", chunk.TurnID, end.TurnID)
	}
	eventually(t, func() bool { return reg.Count() == 0 }, "registry not drained")
}

func TestSession_VoiceTurnFromFrames(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)
	transcriber := &sttmock.Transcriber{
		Result: stt.Transcript{Text: "Wie spät ist es?", Confidence: 0.9},
	}
	generator := &llmmock.Generator{}
	generator.ScriptText("Es ist drei Uhr.")
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{7}}}
	s, sender := newTestSession(t, reg, transcriber, generator, synthesizer)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.Handle(ctx, frame(t, true))
	}
	for i := 0; i < 2; i++ {
		s.Handle(ctx, frame(t, false))
	}

	tr := sender.waitFor(t, session.TypeTranscription)
	if tr.Text != "Wie spät ist es?" || tr.Confidence != 0.9 {
		t.Errorf("transcription = %+v", tr)
	}
	chunk := sender.waitFor(t, session.TypeAudioChunk)
	if chunk.Text != "Es ist drei Uhr." {
		t.Errorf("chunk text = %q", chunk.Text)
	}
	end := sender.waitFor(t, session.TypeTurnEnd)
	if end.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d", end.TotalChunks)
	}
	if transcriber.CallCount() != 1 {
		t.Errorf("transcriber calls = %d", transcriber.CallCount())
	}
	eventually(t, func() bool { return reg.Count() == 0 }, "registry not drained")
}

func TestSession_BusyRejectsSecondTextPrompt(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	generator := &llmmock.Generator{}
	generator.GenerateFunc = func(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
		ch := make(chan llm.Chunk, 2)
		go func() {
			defer close(ch)
			select {
			case <-release:
				ch <- llm.Chunk{Text: "Fertig."}
				ch <- llm.Chunk{FinishReason: llm.FinishReasonStop}
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	reg := procreg.NewRegistry(nil)
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, generator, synthesizer)

	ctx := context.Background()
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "erste"}))
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "zweite"}))

	rejection := sender.waitFor(t, session.TypeTurnError)
	if rejection.ErrorKind != session.ErrorKindBusy {
		t.Errorf("ErrorKind = %q, want busy", rejection.ErrorKind)
	}

	close(release)
	sender.waitFor(t, session.TypeTurnEnd)
	eventually(t, func() bool { return reg.Count() == 0 }, "registry not drained")
}

func TestSession_EmptyTextPromptRejected(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, &llmmock.Generator{}, &ttsmock.Synthesizer{})

	s.Handle(context.Background(), marshal(t, session.Inbound{
		Type: session.TypeTextPrompt,
		Text: "   ",
	}))

	rejection := sender.waitFor(t, session.TypeTurnError)
	if rejection.ErrorKind != session.ErrorKindEmptyPrompt {
		t.Errorf("ErrorKind = %q, want empty_prompt", rejection.ErrorKind)
	}
	if reg.Count() != 0 {
		t.Error("rejected prompt must not register a turn")
	}
}

func TestSession_StartTurnWithoutSpeech(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, &llmmock.Generator{}, &ttsmock.Synthesizer{})

	s.Handle(context.Background(), marshal(t, session.Inbound{Type: session.TypeStartTurn}))

	rejection := sender.waitFor(t, session.TypeTurnError)
	if rejection.ErrorKind != session.ErrorKindNoSpeech {
		t.Errorf("ErrorKind = %q, want no_speech", rejection.ErrorKind)
	}
}

func TestSession_StartTurnFlushesBufferedSpeech(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)
	transcriber := &sttmock.Transcriber{
		Result: stt.Transcript{Text: "Stopp hier", Confidence: 0.8},
	}
	generator := &llmmock.Generator{}
	generator.ScriptText("Okay.")
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	s, sender := newTestSession(t, reg, transcriber, generator, synthesizer)

	ctx := context.Background()
	// Speech is still running; no silence follows, so only start_turn can
	// end the segment.
	for i := 0; i < 4; i++ {
		s.Handle(ctx, frame(t, true))
	}
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeStartTurn}))

	tr := sender.waitFor(t, session.TypeTranscription)
	if tr.Text != "Stopp hier" {
		t.Errorf("transcription = %q", tr.Text)
	}
	sender.waitFor(t, session.TypeTurnEnd)
	eventually(t, func() bool { return reg.Count() == 0 }, "registry not drained")
}

func TestSession_MalformedMessagesAreDropped(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)
	generator := &llmmock.Generator{}
	generator.ScriptText("Hallo!")
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, generator, synthesizer)

	ctx := context.Background()
	s.Handle(ctx, []byte("not json"))
	s.Handle(ctx, []byte(`{}`))
	s.Handle(ctx, []byte(`{"type":"bogus"}`))

	// The session is still usable afterwards.
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "hi"}))
	sender.waitFor(t, session.TypeTurnEnd)

	for _, msg := range sender.history() {
		if msg.Type == session.TypeTurnError {
			t.Errorf("malformed input must not produce turn_error, got %+v", msg)
		}
	}
}

func TestSession_StopTurnCancelsActiveTurn(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	generator := &llmmock.Generator{}
	generator.GenerateFunc = func(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
		close(started)
		ch := make(chan llm.Chunk)
		go func() {
			defer close(ch)
			<-ctx.Done()
		}()
		return ch, nil
	}
	reg := procreg.NewRegistry(nil)
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, generator, &ttsmock.Synthesizer{})

	ctx := context.Background()
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "erzähl was"}))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}
	// No turn_id targets the session's active turn.
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeStopTurn, Reason: "unterbrochen"}))

	cancelled := sender.waitFor(t, session.TypeTurnCancelled)
	if cancelled.Reason != "unterbrochen" {
		t.Errorf("Reason = %q", cancelled.Reason)
	}
	eventually(t, func() bool { return reg.Count() == 0 }, "registry not drained")
}

func TestSession_StopAllCancelsTurnsAcrossSessions(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)

	hold := func() *llmmock.Generator {
		g := &llmmock.Generator{}
		g.GenerateFunc = func(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
			ch := make(chan llm.Chunk, 1)
			ch <- llm.Chunk{Text: "Erster Satz. "}
			go func() {
				defer close(ch)
				<-ctx.Done()
			}()
			return ch, nil
		}
		return g
	}

	synthA := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	synthB := &ttsmock.Synthesizer{Chunks: [][]byte{{2}}}
	sessA, senderA := newTestSession(t, reg, &sttmock.Transcriber{}, hold(), synthA)
	sessB, senderB := newTestSession(t, reg, &sttmock.Transcriber{}, hold(), synthB)

	ctx := context.Background()
	sessA.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "eins"}))
	sessB.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "zwei"}))

	// Both turns have produced audio, so both are mid-generation.
	senderA.waitFor(t, session.TypeAudioChunk)
	senderB.waitFor(t, session.TypeAudioChunk)
	if reg.Count() != 2 {
		t.Fatalf("registry count = %d, want 2 active turns", reg.Count())
	}

	sessA.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeStopAll, Reason: "alles stoppen"}))

	cancelledA := senderA.waitFor(t, session.TypeTurnCancelled)
	cancelledB := senderB.waitFor(t, session.TypeTurnCancelled)
	if cancelledA.Reason != "alles stoppen" || cancelledB.Reason != "alles stoppen" {
		t.Errorf("reasons = %q, %q", cancelledA.Reason, cancelledB.Reason)
	}
	for _, history := range [][]session.Outbound{senderA.history(), senderB.history()} {
		for _, msg := range history {
			if msg.Type == session.TypeTurnEnd {
				t.Error("cancelled turn must not emit turn_end")
			}
		}
	}
	eventually(t, func() bool { return reg.Count() == 0 }, "registry not drained after stop_all")
}

func TestSession_HistoryCarriesAcrossTurns(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var requests []llm.Request
	generator := &llmmock.Generator{}
	generator.GenerateFunc = func(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		ch := make(chan llm.Chunk, 2)
		ch <- llm.Chunk{Text: "Guten Tag!"}
		ch <- llm.Chunk{FinishReason: llm.FinishReasonStop}
		close(ch)
		return ch, nil
	}
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	reg := procreg.NewRegistry(nil)
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, generator, synthesizer)

	ctx := context.Background()
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "Hallo"}))
	sender.waitFor(t, session.TypeTurnEnd)
	eventually(t, func() bool { return reg.Count() == 0 }, "first turn not drained")

	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "Noch da?"}))
	sender.waitFor(t, session.TypeTurnEnd)

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 2 {
		t.Fatalf("generator requests = %d, want 2", len(requests))
	}
	msgs := requests[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request messages = %d, want history + prompt", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "Hallo" {
		t.Errorf("history[0] = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Guten Tag!" {
		t.Errorf("history[1] = %+v", msgs[1])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "Noch da?" {
		t.Errorf("prompt message = %+v", msgs[2])
	}
}

func TestSession_StartTurnWhileBusyRejected(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	generator := &llmmock.Generator{}
	generator.GenerateFunc = func(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
		ch := make(chan llm.Chunk, 2)
		go func() {
			defer close(ch)
			select {
			case <-release:
				ch <- llm.Chunk{Text: "Fertig."}
				ch <- llm.Chunk{FinishReason: llm.FinishReasonStop}
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}
	transcriber := &sttmock.Transcriber{
		Result: stt.Transcript{Text: "Weiter bitte", Confidence: 0.8},
	}
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	reg := procreg.NewRegistry(nil)
	s, sender := newTestSession(t, reg, transcriber, generator, synthesizer)

	ctx := context.Background()
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "erste"}))

	// Speech keeps running while the text turn is active; without silence the
	// segment stays buffered in the detector.
	for i := 0; i < 4; i++ {
		s.Handle(ctx, frame(t, true))
	}
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeStartTurn}))

	rejection := sender.waitFor(t, session.TypeTurnError)
	if rejection.ErrorKind != session.ErrorKindBusy {
		t.Errorf("ErrorKind = %q, want busy", rejection.ErrorKind)
	}
	if transcriber.CallCount() != 0 {
		t.Error("rejected start_turn must not transcribe")
	}

	close(release)
	sender.waitFor(t, session.TypeTurnEnd)
	eventually(t, func() bool { return reg.Count() == 0 }, "first turn not drained")

	// The buffered speech survived the rejection and can still start a turn.
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeStartTurn}))
	tr := sender.waitFor(t, session.TypeTranscription)
	if tr.Text != "Weiter bitte" {
		t.Errorf("transcription = %q", tr.Text)
	}
	sender.waitFor(t, session.TypeTurnEnd)
	eventually(t, func() bool { return reg.Count() == 0 }, "second turn not drained")
}

func TestSession_HistoryBoundedByExchanges(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var requests []llm.Request
	generator := &llmmock.Generator{}
	generator.GenerateFunc = func(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		ch := make(chan llm.Chunk, 2)
		ch <- llm.Chunk{Text: "Antwort."}
		ch <- llm.Chunk{FinishReason: llm.FinishReasonStop}
		close(ch)
		return ch, nil
	}
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	reg := procreg.NewRegistry(nil)
	sender := newCaptureSender()
	orch := turn.New(reg, &sttmock.Transcriber{}, generator, synthesizer)
	s, err := session.New(session.Config{
		Sender:       sender,
		Orchestrator: orch,
		Registry:     reg,
		Detector:     newTestDetector(),
		Voice:        tts.VoiceProfile{ID: "v1"},
		MaxHistory:   1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(s.Close)

	ctx := context.Background()
	for _, prompt := range []string{"eins", "zwei", "drei"} {
		s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: prompt}))
		sender.waitFor(t, session.TypeTurnEnd)
		eventually(t, func() bool { return reg.Count() == 0 }, "turn not drained")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 3 {
		t.Fatalf("generator requests = %d, want 3", len(requests))
	}
	// One exchange of history means the third request carries the full second
	// exchange plus the new prompt, and nothing from the first.
	msgs := requests[2].Messages
	if len(msgs) != 3 {
		t.Fatalf("third request messages = %d, want 3", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "zwei" {
		t.Errorf("history[0] = %+v, want user zwei", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Antwort." {
		t.Errorf("history[1] = %+v", msgs[1])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "drei" {
		t.Errorf("prompt message = %+v", msgs[2])
	}
}

func TestSession_RepeatedSpansRecordedInHistory(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var requests []llm.Request
	generator := &llmmock.Generator{}
	generator.GenerateFunc = func(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		// Two fragments that chunk into two spans with identical text.
		ch := make(chan llm.Chunk, 3)
		ch <- llm.Chunk{Text: "Ja. "}
		ch <- llm.Chunk{Text: "Ja. "}
		ch <- llm.Chunk{FinishReason: llm.FinishReasonStop}
		close(ch)
		return ch, nil
	}
	synthesizer := &ttsmock.Synthesizer{Chunks: [][]byte{{1}}}
	reg := procreg.NewRegistry(nil)
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, generator, synthesizer)

	ctx := context.Background()
	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "Hörst du mich?"}))
	sender.waitFor(t, session.TypeTurnEnd)
	eventually(t, func() bool { return reg.Count() == 0 }, "first turn not drained")

	s.Handle(ctx, marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "Sicher?"}))
	sender.waitFor(t, session.TypeTurnEnd)

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 2 {
		t.Fatalf("generator requests = %d, want 2", len(requests))
	}
	// Both identical spans belong to the recorded response.
	msgs := requests[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request messages = %d, want 3", len(msgs))
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Ja. Ja." {
		t.Errorf("recorded response = %+v, want assistant %q", msgs[1], "Ja. Ja.")
	}
}

func TestManager_CloseAllStopsEverything(t *testing.T) {
	t.Parallel()

	reg := procreg.NewRegistry(nil)
	mgr := session.NewManager(reg, nil)

	generator := &llmmock.Generator{}
	generator.GenerateFunc = func(ctx context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
		ch := make(chan llm.Chunk)
		go func() {
			defer close(ch)
			<-ctx.Done()
		}()
		return ch, nil
	}
	s, sender := newTestSession(t, reg, &sttmock.Transcriber{}, generator, &ttsmock.Synthesizer{})
	mgr.Add(s)
	if mgr.Count() != 1 {
		t.Fatalf("Count = %d, want 1", mgr.Count())
	}

	s.Handle(context.Background(), marshal(t, session.Inbound{Type: session.TypeTextPrompt, Text: "los"}))
	eventually(t, func() bool { return reg.Count() == 1 }, "turn never registered")

	mgr.CloseAll("shutting down")
	eventually(t, func() bool { return reg.Count() == 0 }, "registry not drained on shutdown")
	if mgr.Count() != 0 {
		t.Errorf("Count = %d after CloseAll, want 0", mgr.Count())
	}
	_ = sender
}
