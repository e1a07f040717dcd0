// Package app wires all Stimme subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context falls, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRetriever, WithMetrics, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stimme-dev/stimme/internal/config"
	"github.com/stimme-dev/stimme/internal/observe"
	"github.com/stimme-dev/stimme/internal/procreg"
	"github.com/stimme-dev/stimme/internal/retrieval"
	"github.com/stimme-dev/stimme/internal/session"
	"github.com/stimme-dev/stimme/internal/turn"
	"github.com/stimme-dev/stimme/pkg/provider/embeddings"
	"github.com/stimme-dev/stimme/pkg/provider/llm"
	"github.com/stimme-dev/stimme/pkg/provider/stt"
	"github.com/stimme-dev/stimme/pkg/provider/tts"
)

// shutdownGrace is how long in-flight HTTP requests get to finish once the
// run context falls.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. LLM, STT, and TTS
// are required; Embeddings is only needed when retrieval is configured.
// Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Generator
	STT        stt.Transcriber
	TTS        tts.Synthesizer
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the Stimme session protocol.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	registry  *procreg.Registry
	orch      *turn.Orchestrator
	manager   *session.Manager
	retriever retrieval.Retriever
	store     *retrieval.Store

	httpSrv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRetriever injects a retriever instead of creating a pgvector store
// from config.
func WithRetriever(r retrieval.Retriever) Option {
	return func(a *App) { a.retriever = r }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	if providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}
	if providers.TTS == nil {
		return nil, errors.New("app: a TTS provider is required")
	}

	if err := a.initRetrieval(ctx); err != nil {
		return nil, fmt.Errorf("app: init retrieval: %w", err)
	}

	a.registry = procreg.NewRegistry(a.logger)
	a.manager = session.NewManager(a.registry, a.logger)
	a.orch = turn.New(a.registry, providers.STT, providers.LLM, providers.TTS, a.turnOptions()...)

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initRetrieval connects the pgvector store when a DSN is configured and no
// retriever was injected. Without a DSN the server runs with retrieval
// disabled.
func (a *App) initRetrieval(ctx context.Context) error {
	if a.retriever != nil {
		return nil
	}
	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		a.logger.Info("context retrieval disabled, no database configured")
		return nil
	}
	if a.providers.Embeddings == nil {
		return errors.New("an embeddings provider is required when database.postgres_dsn is set")
	}

	store, err := retrieval.NewStore(ctx, dsn, a.providers.Embeddings)
	if err != nil {
		return err
	}
	a.store = store
	a.retriever = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	a.logger.Info("context retrieval enabled",
		"embedding_model", a.providers.Embeddings.ModelID(),
		"dimensions", a.providers.Embeddings.Dimensions())
	return nil
}

// turnOptions maps the config onto orchestrator options.
func (a *App) turnOptions() []turn.Option {
	prompts := &retrieval.PromptBuilder{
		Persona:    a.cfg.Session.Persona,
		MaxHistory: a.cfg.Session.MaxHistory,
	}
	opts := []turn.Option{
		turn.WithLogger(a.logger),
		turn.WithMetrics(a.metrics),
		turn.WithPromptBuilder(prompts),
	}
	if a.retriever != nil {
		opts = append(opts, turn.WithRetriever(a.retriever))
	}
	if n := a.cfg.Session.ContextDocuments; n > 0 {
		opts = append(opts, turn.WithContextDocuments(n))
	}
	if n := a.cfg.Chunker.MaxBuffered; n > 0 {
		opts = append(opts, turn.WithMaxBufferedText(n))
	}
	return opts
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and
// cancels every active turn.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		a.manager.CloseAll("server shutting down")

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.httpSrv.Shutdown(drainCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
		return ctx.Err()
	})

	return g.Wait()
}

// Shutdown tears down all remaining subsystems in reverse-init order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
