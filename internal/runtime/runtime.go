package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-oralhistory/internal/api"
	"github.com/loqalabs/loqa-oralhistory/internal/auth"
	"github.com/loqalabs/loqa-oralhistory/internal/bus"
	"github.com/loqalabs/loqa-oralhistory/internal/config"
	"github.com/loqalabs/loqa-oralhistory/internal/credentials"
	"github.com/loqalabs/loqa-oralhistory/internal/document"
	"github.com/loqalabs/loqa-oralhistory/internal/eventstore"
	"github.com/loqalabs/loqa-oralhistory/internal/natsserver"
	"github.com/loqalabs/loqa-oralhistory/internal/pipeline"
	"github.com/loqalabs/loqa-oralhistory/internal/stt"
	"github.com/loqalabs/loqa-oralhistory/internal/transcript"
)

const pruneInterval = 24 * time.Hour

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	users         *credentials.Store
	events        *eventstore.Store
	embedded      *natsserver.EmbeddedServer
	bus           *bus.Client
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every service, serves HTTP and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeServices()

	handler, err := r.buildServices(ctx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("addr", srv.Addr), slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildServices(ctx context.Context) (http.Handler, error) {
	var err error
	r.users, err = credentials.Open(ctx, r.cfg.Credentials, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	var publisher pipeline.Publisher
	if client := r.connectBus(ctx); client != nil {
		publisher = client
	}

	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("configure stt: %w", err)
	}
	aggregator, err := transcript.NewAggregator(transcript.Mode(r.cfg.Transcript.Mode), r.cfg.Transcript.EffectiveWindowSeconds())
	if err != nil {
		return nil, fmt.Errorf("configure transcript: %w", err)
	}
	if _, err := os.Stat(r.cfg.Document.TemplatePath); err != nil {
		r.logger.Warn("document template not readable, transcriptions will fail until it exists",
			slog.String("path", r.cfg.Document.TemplatePath), slog.String("error", err.Error()))
	}

	orchestrator, err := pipeline.New(pipeline.Options{
		Recognizer: recognizer,
		Aggregator: aggregator,
		Renderer:   document.NewDocxRenderer(r.cfg.Document.TemplatePath),
		UploadDir:  r.cfg.Document.UploadDir,
		Language:   r.cfg.STT.Language,
		Timeout:    time.Duration(r.cfg.STT.TimeoutSeconds) * time.Second,
		Publisher:  publisher,
		Recorder:   r.events,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewIssuer(r.cfg.Auth)
	if err != nil {
		return nil, err
	}
	if r.cfg.Auth.JWTSecret == "" {
		r.logger.Warn("auth.jwt_secret not set, using an ephemeral signing key")
	}

	srv, err := api.New(api.Deps{
		Config:      r.cfg.HTTP,
		Users:       r.users,
		Transcriber: orchestrator,
		Audit:       r.events,
		Tokens:      tokens,
		Ready:       r.ready.Load,
		Logger:      r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("services ready",
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.String("transcript_mode", string(aggregator.Mode())),
		slog.Float64("window_seconds", aggregator.Window()),
		slog.Bool("require_token", r.cfg.Auth.RequireToken))
	return srv.Handler(), nil
}

// connectBus starts the embedded server when asked and dials the bus. A bus
// that cannot be reached disables event publishing without failing startup.
func (r *Runtime) connectBus(ctx context.Context) *bus.Client {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			r.logger.Warn("embedded NATS server unavailable", slog.String("error", err.Error()))
			return nil
		}
		r.embedded = embedded
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		r.logger.Warn("event bus unavailable, job events will not be published", slog.String("error", err.Error()))
		return nil
	}
	r.bus = client
	return client
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.events.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) closeServices() {
	r.bus.Close()
	r.embedded.Shutdown()
	if err := r.events.Close(); err != nil {
		r.logger.Warn("event store close failed", slog.String("error", err.Error()))
	}
	if r.users != nil {
		if err := r.users.Close(); err != nil {
			r.logger.Warn("credential store close failed", slog.String("error", err.Error()))
		}
	}
}
