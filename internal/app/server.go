package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stimme-dev/stimme/internal/health"
	"github.com/stimme-dev/stimme/internal/observe"
	"github.com/stimme-dev/stimme/internal/session"
	"github.com/stimme-dev/stimme/pkg/provider/tts"
	"github.com/stimme-dev/stimme/pkg/vad"
)

// handler builds the HTTP routing table.
func (a *App) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /session", a.handleSession)

	checkers := []health.Checker{
		{Name: "providers", Check: a.checkProviders},
	}
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: a.store.Ping})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// wsSender adapts a websocket connection to the session.Sender interface.
// wsjson.Write serializes internally, so concurrent Send calls are safe, but
// the session's single writer goroutine keeps message order deterministic
// anyway.
type wsSender struct {
	conn *websocket.Conn
}

var _ session.Sender = (*wsSender)(nil)

func (s *wsSender) Send(ctx context.Context, msg session.Outbound) error {
	return wsjson.Write(ctx, s.conn, msg)
}

// handleSession upgrades the request to a WebSocket and runs the session
// protocol until the client disconnects or the server shuts down.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()

	detector := vad.NewDetector(a.vadConfig(), &vad.EnergyClassifier{}, vad.WithLogger(a.logger))
	sess, err := session.New(session.Config{
		Sender:       &wsSender{conn: conn},
		Orchestrator: a.orch,
		Registry:     a.registry,
		Detector:     detector,
		Retriever:    a.retriever,
		Voice:        a.voiceProfile(),
		Language:     a.cfg.Session.Language,
		MaxHistory:   a.cfg.Session.MaxHistory,
		MaxSegment:   a.cfg.Session.MaxSegment.Std(),
		Logger:       a.logger,
	})
	if err != nil {
		a.logger.Error("session setup failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	ctx := r.Context()
	sess.Start(ctx)
	a.manager.Add(sess)
	a.metrics.ActiveSessions.Add(ctx, 1)
	logger := a.logger.With("session_id", sess.ID(), "remote", r.RemoteAddr)
	logger.Info("session connected")

	defer func() {
		a.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		a.manager.Remove(sess.ID())
		sess.Close()
		logger.Info("session closed")
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Info("client disconnected", "status", status)
			case errors.Is(err, context.Canceled):
				logger.Info("session read loop stopped")
			default:
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Warn("dropping non-text websocket message", "type", typ)
			continue
		}
		sess.Handle(ctx, data)
	}
}

// checkProviders verifies that the pipeline providers are wired. It stays
// cheap on purpose: readiness is polled frequently and must not spend money
// or rate-limit budget on backend calls.
func (a *App) checkProviders(context.Context) error {
	switch {
	case a.providers.LLM == nil:
		return errors.New("llm provider not configured")
	case a.providers.STT == nil:
		return errors.New("stt provider not configured")
	case a.providers.TTS == nil:
		return errors.New("tts provider not configured")
	}
	return nil
}

// vadConfig maps the YAML block onto the detector config. Zero fields fall
// through to the detector defaults.
func (a *App) vadConfig() vad.Config {
	c := a.cfg.VAD
	return vad.Config{
		MinVoiceFrames:    c.MinVoiceFrames,
		MinSilenceFrames:  c.MinSilenceFrames,
		SilenceThreshold:  c.SilenceThreshold.Std(),
		MinSpeechDuration: c.MinSpeechDuration.Std(),
		PreRollFrames:     c.PreRollFrames,
	}
}

// voiceProfile builds the default synthesis voice from config.
func (a *App) voiceProfile() tts.VoiceProfile {
	v := a.cfg.Session.Voice
	return tts.VoiceProfile{
		ID:          v.VoiceID,
		Name:        v.Name,
		Provider:    v.Provider,
		SpeedFactor: v.SpeedFactor,
	}
}
