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
	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/handler"
	"github.com/xenking/backoffice/pkg/health"
	"github.com/xenking/backoffice/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server (and the analytics
// worker when embedded), and handles graceful shutdown. It is the single
// wiring point for the API process.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("bus", cfg.Bus.Driver),
		zap.Bool("embedded_worker", cfg.EmbeddedWorker()),
	)
	ctx = zctx.Base(ctx, lg)

	res := &resources{}
	defer res.Close(context.WithoutCancel(ctx))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	repos, err := openStorage(ctx, cfg.Storage, res, healthSvc)
	if err != nil {
		return err
	}
	events, err := openBus(ctx, cfg.Bus, m, res, healthSvc)
	if err != nil {
		return err
	}
	if cfg.EmbeddedWorker() {
		sink, err := openSink(ctx, cfg.Analytics, res, healthSvc)
		if err != nil {
			return err
		}
		analytics.NewConsumer(sink).Register(events)
	}

	// Domain services.
	userService := user.NewService(repos.users)
	orderService := order.NewService(repos.orders, repos.users, events)
	promoService := promocode.NewService(repos.promoCodes, repos.orders, events)

	// HTTP handlers.
	h := handler.New(handler.Deps{
		Users:      userService,
		Orders:     orderService,
		PromoCodes: promoService,
		Auth:       auth.NewAuthenticator(repos.apiKeys, []byte(cfg.APIKeyPepper)),
		Events:     events,
	})
	router := h.Routes()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("backoffice-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	if cfg.EmbeddedWorker() {
		g.Go(func() error {
			lg.Info("Analytics worker started", zap.Int("concurrency", cfg.Bus.Concurrency))
			if err := events.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "worker")
			}
			return nil
		})
	}

	// Graceful shutdown: wait for cancellation (or a failed worker), drain,
	// then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		if ctx.Err() != nil {
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
