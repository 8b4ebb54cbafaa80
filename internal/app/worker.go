package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/backoffice/internal/analytics"
	"github.com/xenking/backoffice/pkg/health"
)

// RunWorker consumes the event bus into the analytics sink until ctx is
// done. Only health probes are served over HTTP.
func RunWorker(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing worker",
		zap.String("queue", cfg.Bus.Queue),
		zap.String("sink", cfg.Analytics.Driver),
		zap.Int("concurrency", cfg.Bus.Concurrency),
	)
	ctx = zctx.Base(ctx, lg)

	res := &resources{}
	defer res.Close(context.WithoutCancel(ctx))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	events, err := openBus(ctx, cfg.Bus, m, res, healthSvc)
	if err != nil {
		return err
	}
	sink, err := openSink(ctx, cfg.Analytics, res, healthSvc)
	if err != nil {
		return err
	}
	analytics.NewConsumer(sink).Register(events)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		Addr:              cfg.Worker.HealthAddr,
		Handler:           mux,
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Worker started")
		if err := events.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "worker")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Health server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Health endpoint listening", zap.String("addr", cfg.Worker.HealthAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "health server")
		}
		return nil
	})

	return g.Wait()
}
