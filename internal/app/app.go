package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/checkout"
	"github.com/xenking/cloud-kitchen/internal/domain/order"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
	"github.com/xenking/cloud-kitchen/internal/events"
	"github.com/xenking/cloud-kitchen/internal/handler"
	"github.com/xenking/cloud-kitchen/internal/storage/mongodb"
	"github.com/xenking/cloud-kitchen/internal/storage/postgres"
	"github.com/xenking/cloud-kitchen/internal/storage/redisstore"
	"github.com/xenking/cloud-kitchen/internal/stripegw"
	"github.com/xenking/cloud-kitchen/pkg/health"
	"github.com/xenking/cloud-kitchen/pkg/httpmiddleware"
)

const serviceName = "kitchen-api"

// stores holds the external connections owned by Run.
type stores struct {
	pool  *pgxpool.Pool
	mongo *mongo.Client
	redis *redis.Client
	nats  *nats.Conn
}

// connect dials every backing store concurrently.
func connect(ctx context.Context, lg *zap.Logger, cfg *Config) (*stores, error) {
	var s stores
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool, err := postgres.NewPool(gctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		s.pool = pool
		return nil
	})
	g.Go(func() error {
		client, err := mongodb.Connect(gctx, cfg.Mongo.URL)
		if err != nil {
			return errors.Wrap(err, "connect mongo")
		}
		s.mongo = client
		return nil
	})
	g.Go(func() error {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opts)
		s.redis = client
		if err := client.Ping(gctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		return nil
	})
	if cfg.NATS.URL != "" {
		g.Go(func() error {
			nc, err := events.Connect(gctx, cfg.NATS.URL, lg)
			if err != nil {
				return err
			}
			s.nats = nc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.close(lg)
		return nil, err
	}
	return &s, nil
}

func (s *stores) close(lg *zap.Logger) {
	if s.nats != nil {
		if err := s.nats.Drain(); err != nil {
			lg.Warn("Drain NATS", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			lg.Warn("Close redis", zap.Error(err))
		}
	}
	if s.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mongo.Disconnect(ctx); err != nil {
			lg.Warn("Disconnect mongo", zap.Error(err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// server is the fully wired HTTP surface with the stores it owns.
type server struct {
	handler http.Handler
	health  *health.Health
	stores  *stores
}

func (s *server) close(lg *zap.Logger) {
	s.health.Stop()
	s.stores.close(lg)
}

// newServer connects the backing stores, wires the domain services and
// returns the middleware-wrapped router.
func newServer(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	gatewayOpts ...stripegw.Option,
) (*server, error) {
	st, err := connect(ctx, lg, cfg)
	if err != nil {
		return nil, err
	}
	if err := prepare(ctx, st, cfg); err != nil {
		st.close(lg)
		return nil, err
	}
	db := st.mongo.Database(cfg.Mongo.Database)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(st.pool))
	healthSvc.AddReadinessCheck("mongo", 5*time.Second, health.MongoCheck(st.mongo))
	healthSvc.AddReadinessCheck("redis", 5*time.Second, health.RedisCheck(st.redis))
	if st.nats != nil {
		healthSvc.AddReadinessCheck("nats", time.Second, health.NATSCheck(st.nats))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(st.pool)
	userSessions := postgres.NewSessionRepository(st.pool)
	orderRepo := mongodb.NewOrderRepository(db)
	addressRepo := mongodb.NewAddressBookRepository(db)
	sessionStore := redisstore.NewSessionStore(st.redis, cfg.Redis.KeyPrefix, cfg.Redis.SessionTTL)

	// Domain services.
	gateway := stripegw.New(cfg.Stripe, lg.Named("stripe"), gatewayOpts...)
	addressSvc := address.NewService(addressRepo)

	orderOpts := []order.Option{order.WithMeter(mp.Meter("kitchen"))}
	if st.nats != nil {
		orderOpts = append(orderOpts, order.WithPublisher(events.NewPublisher(st.nats, cfg.NATS.SubjectPrefix)))
	}
	orderSvc := order.NewService(productRepo, addressSvc, orderRepo, gateway,
		order.Config{EagerIntent: cfg.Stripe.EagerIntent},
		orderOpts...,
	)
	checkoutSvc := checkout.NewService(sessionStore, productRepo, addressSvc, orderSvc)
	webhooks := payment.NewWebhookReceiver(gateway, orderSvc)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		checkoutSvc,
		addressSvc,
		orderSvc,
		webhooks,
	)
	authn := handler.NewAuthenticator(userSessions, []byte(cfg.TokenPepper))

	// Route-aware middlewares run inside the router so the matched pattern
	// is known once the handler returns.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(r, authn.Middleware)

	rateLimit := httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	}
	limit := httpmiddleware.RateLimitWithCleanup(ctx, rateLimit)
	if cfg.RateLimit.Backend == "redis" {
		limiter := httpmiddleware.NewRedisLimiter(st.redis, cfg.Redis.KeyPrefix, rateLimit.Max, rateLimit.Window)
		limit = httpmiddleware.RateLimitWith(rateLimit, limiter)
	}

	return &server{
		handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			limit,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
		),
		health: healthSvc,
		stores: st,
	}, nil
}

func prepare(ctx context.Context, st *stores, cfg *Config) error {
	if err := postgres.RunMigrations(ctx, st.pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	if err := mongodb.EnsureIndexes(ctx, st.mongo.Database(cfg.Mongo.Database)); err != nil {
		return errors.Wrap(err, "ensure mongo indexes")
	}
	return nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := newServer(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer srv.close(lg)

	httpServer := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
