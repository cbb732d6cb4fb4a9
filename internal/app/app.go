package app

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tallyhq/pos-core/internal/engine"
	"github.com/tallyhq/pos-core/internal/events"
	"github.com/tallyhq/pos-core/internal/handler"
	"github.com/tallyhq/pos-core/internal/processor"
	"github.com/tallyhq/pos-core/internal/processor/mockpay"
	"github.com/tallyhq/pos-core/internal/processor/paygate"
	"github.com/tallyhq/pos-core/internal/storage/postgres"
	"github.com/tallyhq/pos-core/pkg/health"
	"github.com/tallyhq/pos-core/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return errors.Wrap(err, "create id node")
	}

	// Snapshot persistence is optional: live state lives in the actor hosts.
	var (
		orderStore   engine.OrderStore
		paymentStore engine.PaymentStore
		apikeys      *postgres.APIKeyRepository
		poolPing     func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		orderStore = postgres.NewOrderStore(pool)
		paymentStore = postgres.NewPaymentStore(pool)
		apikeys = postgres.NewAPIKeyRepository(pool)
		poolPing = pool.Ping
	}

	// Event publishing: broker when configured, in-process stream otherwise.
	var pub events.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			return errors.Wrap(err, "dial amqp")
		}
		pub = amqpPub
	} else {
		pub = events.NewMemoryPublisher()
	}
	defer func() {
		if err := pub.Close(); err != nil {
			lg.Error("Closing publisher", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	if poolPing != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, poolPing)
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Processor backends and engines.
	registry := processor.NewRegistry(mockpay.New(), paygate.New())
	orders := engine.NewOrders(ids, lg, pub, orderStore)
	defer orders.Shutdown()
	payments := engine.NewPayments(ids, lg, pub, paymentStore, registry, orders)
	defer payments.Shutdown()

	// HTTP handlers.
	h := handler.New(
		handler.NewOrderHandler(orders),
		handler.NewPaymentHandler(payments),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(mux)

	var api http.Handler = mux
	if cfg.APIKeyPepper != "" && apikeys != nil {
		api = handler.NewAPIKeyMiddleware(apikeys, []byte(cfg.APIKeyPepper)).Wrap(api)
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(api,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-API-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("pos-api"),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
