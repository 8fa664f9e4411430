package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"

	accessengine "study-planner/backend/internal/access/engine"
	accesshandler "study-planner/backend/internal/access/handler"
	accessrepo "study-planner/backend/internal/access/repository"
	adminhandler "study-planner/backend/internal/admin/handler"
	adminservice "study-planner/backend/internal/admin/service"
	"study-planner/backend/internal/audit"
	auditrepo "study-planner/backend/internal/audit/repository"
	"study-planner/backend/internal/config"
	"study-planner/backend/internal/db"
	healthhandler "study-planner/backend/internal/health/handler"
	identityhandler "study-planner/backend/internal/identity/handler"
	identityservice "study-planner/backend/internal/identity/service"
	impersonationhandler "study-planner/backend/internal/impersonation/handler"
	impersonationservice "study-planner/backend/internal/impersonation/service"
	"study-planner/backend/internal/logger"
	"study-planner/backend/internal/ratelimit"
	"study-planner/backend/internal/security"
	"study-planner/backend/internal/server"
	"study-planner/backend/internal/server/httpx"
	sessionrepo "study-planner/backend/internal/session/repository"
	sessionservice "study-planner/backend/internal/session/service"
	"study-planner/backend/internal/telemetry"
	telemetryotel "study-planner/backend/internal/telemetry/otel"
	"study-planner/backend/internal/telemetry/producer"
	userrepo "study-planner/backend/internal/user/repository"
)

const (
	serviceName      = "study-planner"
	shutdownTimeout  = 15 * time.Second
	healthSyncPeriod = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := cfg.RequireAuthSecrets(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	kafka := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityEventsTopic)
	events := telemetry.Multi{
		telemetryotel.NewEventEmitter(providers.LoggerProvider, providers.MeterProvider.Meter(serviceName)),
	}
	if kafka != nil {
		events = append(events, kafka)
	}

	tokens, err := security.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		return err
	}
	hasher := security.NewHasher(cfg.BcryptCost, cfg.HashWorkers)

	users := userrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	subscriptions := accessrepo.NewPostgresRepository(conn)
	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(conn), log)

	manager := sessionservice.NewManager(sessions, users, tokens, events, log, cfg.RefreshTTL(), cfg.ImpersonationTTL())
	auth := identityservice.NewAuthService(users, manager, hasher, tokens, auditor, events, log)
	admin := adminservice.NewService(users, manager, hasher, auditor, log)
	impersonation := impersonationservice.NewController(users, manager, limiter, auditor, events, log)
	evaluator, err := accessengine.NewOPAEvaluator(ctx, subscriptions, log)
	if err != nil {
		return err
	}
	checker := healthhandler.NewChecker(conn, evaluator, log)

	cookies := httpx.NewCookies(cfg.IsProduction())
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.HTTPDeps{
			Resolver:      auth,
			Auth:          identityhandler.NewHandler(auth, manager, cookies, log),
			Admin:         adminhandler.NewHandler(admin, log),
			Impersonation: impersonationhandler.NewHandler(impersonation, cookies, log),
			Access:        accesshandler.NewHandler(evaluator, log),
			Health:        checker,
			TrustProxy:    cfg.TrustProxy,
			Limiter:       limiter,
			Burst:         ratelimit.NewBurst(cfg.AuthBurstPerMinute),
			Events:        events,
			Log:           log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPCAddr != "" {
		hs := health.NewServer()
		grpcServer := server.NewGRPCServer(server.GRPCDeps{Resolver: auth, Health: hs, Log: log})
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			checker.Sync(gctx, hs, healthSyncPeriod)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	if interval := cfg.SessionPurgeInterval(); interval > 0 {
		g.Go(func() error {
			manager.RunPurger(gctx, interval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Let in-flight async emits finish before the sinks go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if cerr := kafka.Close(); cerr != nil {
		log.Warn("close kafka producer", zap.Error(cerr))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := providers.Shutdown(shutdownCtx); serr != nil {
		log.Warn("shutdown telemetry providers", zap.Error(serr))
	}
	return err
}

// newLimiter builds the configured rate limiter backend and a func that releases it.
func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	if cfg.RateLimitBackend != config.RateLimitBackendRedis {
		return ratelimit.NewMemory(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return ratelimit.NewRedis(client), func() { _ = client.Close() }, nil
}
