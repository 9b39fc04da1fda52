// Package app wires the storeadmin API server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storeadmin/internal/domain/coupon"
	"github.com/xenking/storeadmin/internal/domain/order"
	"github.com/xenking/storeadmin/internal/domain/product"
	kafkaevents "github.com/xenking/storeadmin/internal/events/kafka"
	"github.com/xenking/storeadmin/internal/handler"
	"github.com/xenking/storeadmin/internal/storage/postgres"
	rediscache "github.com/xenking/storeadmin/internal/storage/redis"
	"github.com/xenking/storeadmin/pkg/health"
	"github.com/xenking/storeadmin/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL migrations + pool.
	if err := postgres.RunMigrations(cfg.DatabaseURL, lg); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	var products product.Repository = postgres.NewProductRepository(pool)
	billingRepo := postgres.NewBillingRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	newLimiter := func(limit int) httpmiddleware.Limiter {
		mem := httpmiddleware.NewMemoryLimiter(limit, cfg.RateLimit.Window)
		go mem.RunSweeper(ctx)
		return mem
	}
	if cfg.Redis.Enabled() {
		rdb, err := newRedisClient(cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "redis")
		}
		defer func() { _ = rdb.Close() }()

		products = rediscache.NewProductCache(products, rdb, cfg.Redis.ProductTTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})), health.Optional())
		newLimiter = func(limit int) httpmiddleware.Limiter {
			return rediscache.NewRateLimiter(rdb, limit, cfg.RateLimit.Window)
		}
		lg.Info("Redis enabled", zap.Duration("product_ttl", cfg.Redis.ProductTTL))
	}

	publisher := order.NopPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafkaevents.NewPublisher(
			kafkaevents.NewWriter(kafkaevents.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}),
			cfg.Kafka.WriteTimeout,
			lg.Named("kafka"),
		)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		}()
		publisher = pub

		broker := cfg.Kafka.Brokers[0]
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.PingCheck(health.PingFunc(func(ctx context.Context) error {
			conn, err := kafka.DialContext(ctx, "tcp", broker)
			if err != nil {
				return err
			}
			return conn.Close()
		})), health.Optional())
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	orderService, err := order.NewService(
		products,
		billingRepo,
		coupon.NewRepoRedeemer(couponRepo),
		orderRepo,
		postgres.NewTxManager(pool),
		order.Config{
			StrictStatus:       cfg.Orders.StrictStatus,
			IdentifierAttempts: cfg.Orders.IdentifierAttempts,
			InsertAttempts:     cfg.Orders.InsertAttempts,
			Publisher:          publisher,
			MeterProvider:      m.MeterProvider(),
			TracerProvider:     m.TracerProvider(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "order service")
	}
	statsService := order.NewStatsService(orderRepo)

	// HTTP handlers.
	h := handler.New(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		orderService,
		statsService,
		billingRepo,
		products,
	)
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, security)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			// Rotating unknown keys from one address stays under the address budget.
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.PerAddressMax,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.DefaultKeyFunc,
				Limiter: newLimiter(cfg.RateLimit.PerAddressMax),
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.APIKeyFunc,
				Limiter: newLimiter(cfg.RateLimit.Max),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(routeFinder),
			httpmiddleware.Instrument("storeadmin-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
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

func newRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
