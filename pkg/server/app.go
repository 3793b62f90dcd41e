package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MarketSync/internal/domain/repository"
	"MarketSync/internal/service/requestqueue"
	"MarketSync/internal/usecase"
	"MarketSync/pkg/cache"
	"MarketSync/pkg/config"
	xhttp "MarketSync/pkg/http"
	applogger "MarketSync/pkg/logger"
)

// App encapsulates the application lifecycle: the request queue worker, the
// synchronization engine, and the HTTP read surface.
type App struct {
	cfg     *config.Config
	log     *applogger.Logger
	sync    *usecase.Sync
	queue   *requestqueue.Queue
	handler xhttp.Handler
	cache   cache.Service
	pub     repository.UpdatePublisher

	httpServer *xhttp.Server
}

// New creates an App with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	sync *usecase.Sync,
	queue *requestqueue.Queue,
	handler xhttp.Handler,
	c cache.Service,
	pub repository.UpdatePublisher,
) *App {
	return &App{
		cfg:     cfg,
		log:     log,
		sync:    sync,
		queue:   queue,
		handler: handler,
		cache:   c,
		pub:     pub,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.queue.Start(ctx)

	if err := a.sync.Start(ctx); err != nil {
		a.log.Error("engine start failed", applogger.Error(err))
		return err
	}
	a.log.Info("engine started",
		applogger.Bool("streaming", a.cfg.StreamingEnabled()),
		applogger.Strings("poll_only", a.cfg.Polling.PollOnlySymbols),
	)

	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.log),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(a.cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	if a.cfg.Server.RateLimit.Enabled {
		opts = append(opts, xhttp.WithRateLimit(a.cfg.Server.RateLimit.Burst, a.cfg.Server.RateLimit.RefillPerSec))
	}
	a.httpServer = xhttp.NewServer(a.handler, opts...)

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start failed", applogger.Error(err))
		return err
	}
	a.log.Info("http server listening", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops services in dependency order: surface, engine, queue,
// infrastructure.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Warn("http shutdown error", applogger.Error(err))
	}

	a.sync.Stop()
	a.queue.Stop()

	if err := a.pub.Close(); err != nil {
		a.log.Warn("publisher close error", applogger.Error(err))
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warn("cache close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
