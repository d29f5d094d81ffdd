package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"WorkshopPlatform/pkg/config"
	"WorkshopPlatform/pkg/database"
	pkgerrors "WorkshopPlatform/pkg/errors"
	pkggrpc "WorkshopPlatform/pkg/grpc"
	"WorkshopPlatform/pkg/health"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/pkg/rabbitmq"
	"WorkshopPlatform/pkg/ratelimit"
	pkgredis "WorkshopPlatform/pkg/redis"
	"WorkshopPlatform/services/auth-service/internal/audit"
	"WorkshopPlatform/services/auth-service/internal/cache"
	"WorkshopPlatform/services/auth-service/internal/domain"
	authhttp "WorkshopPlatform/services/auth-service/internal/handler/http"
	"WorkshopPlatform/services/auth-service/internal/middleware"
	"WorkshopPlatform/services/auth-service/internal/pkg/csrf"
	"WorkshopPlatform/services/auth-service/internal/pkg/password"
	"WorkshopPlatform/services/auth-service/internal/repository/postgres"
	"WorkshopPlatform/services/auth-service/internal/service"
)

const (
	serviceName = "auth-service"
	version     = "1.0.0"
)

func main() {
	// Инициализация конфигурации
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, cfg.Logger.Format, serviceName)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("auth service stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := metrics.InitializeOpenTelemetry(serviceName, version)

	// Инициализация базы данных
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := database.Connect(connectCtx, database.FromAppConfig(cfg.Database), appLogger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(connectCtx, db.Pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	checker := health.NewComponentChecker(version, 2*time.Second)
	checker.Register("postgres", db.HealthCheck)

	// Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewMetricsWithRegistry("workshop", registry, registry)
	authMetrics := metrics.NewAuthMetrics("workshop", registry)

	sessionCache := cache.NewSessionCache(cache.WithSizeObserver(authMetrics.CacheSize))

	// Redis: шина инвалидации между экземплярами и общий rate limiter
	var (
		bus     cache.Bus = cache.NopBus{}
		limiter ratelimit.RateLimiter = ratelimit.NewMemoryRateLimiter()
	)
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.Connect(connectCtx, pkgredis.FromAppConfig(cfg.Redis), appLogger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()

		checker.Register("redis", redisClient.HealthCheck)
		bus = cache.NewRedisBus(redisClient.Client, cfg.Redis.InvalidationChannel, appLogger)
		limiter = ratelimit.NewRedisRateLimiter(redisClient.Client)
	}

	// RabbitMQ: публикация событий аудита
	var publisher audit.Publisher
	if cfg.RabbitMQ.Enabled {
		rmqConfig := rabbitmq.FromAppConfig(cfg.RabbitMQ)
		conn, err := rabbitmq.Connect(connectCtx, rmqConfig, appLogger)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer conn.Close()

		checker.Register("rabbitmq", conn.HealthCheck)
		publisher = rabbitmq.NewProducer(conn, rmqConfig)
	}

	// Репозитории и сервис
	users := postgres.NewUserRepository(db.Pool)
	sessions := postgres.NewSessionRepository(db.Pool)
	recorder := audit.NewRecorder(postgres.NewAuditRepository(db.Pool), publisher, authMetrics, appLogger)

	defaults := domain.Policy{
		MaxLoginAttempts:      cfg.Auth.MaxLoginAttempts,
		InactiveUserDays:      cfg.Auth.InactiveUserDays,
		SessionTimeoutMinutes: cfg.Auth.SessionTimeoutMinutes,
	}
	policies := service.NewPolicyProvider(
		postgres.NewPolicyRepository(db.Pool),
		defaults,
		config.Duration(cfg.Auth.PolicyCacheTTL, 5*time.Minute),
		appLogger,
	)

	authService := service.NewAuthService(service.Dependencies{
		Users:    users,
		Sessions: sessions,
		Policies: policies,
		Cache:    sessionCache,
		Bus:      bus,
		Audit:    recorder,
		Passwords: password.NewArgon2Hasher(password.Params{
			Time:      cfg.Auth.Password.Argon2Time,
			MemoryKiB: cfg.Auth.Password.Argon2MemoryKiB,
			Threads:   cfg.Auth.Password.Argon2Threads,
		}),
		Metrics:       authMetrics,
		Logger:        appLogger,
		RotateOnRenew: cfg.Auth.RotateOnRenew,
	})

	// Подписка на инвалидации других экземпляров
	go func() {
		err := bus.Subscribe(ctx, func(m cache.Message) {
			n := sessionCache.Apply(m)
			appLogger.Debug("remote invalidation applied",
				logger.String("scope", string(m.Scope)),
				logger.Int("removed", n),
			)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("invalidation subscription stopped", logger.Error(err))
		}
	}()

	// Фоновая очистка истекших сессий
	sweeper := service.NewSweeper(sessions, sessionCache, authMetrics, appLogger,
		cfg.Sweep.Schedule, config.Duration(cfg.Sweep.Timeout, 2*time.Minute))
	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	// HTTP сервер
	handler := authhttp.NewHandler(authService,
		csrf.NewManager(cfg.Auth.CSRF.Secret, config.Duration(cfg.Auth.CSRF.TTL, 12*time.Hour)),
		limiter,
		authhttp.Config{
			Cookie: authhttp.CookieConfig{
				Name:     cfg.Auth.Cookie.Name,
				Domain:   cfg.Auth.Cookie.Domain,
				Path:     cfg.Auth.Cookie.Path,
				Secure:   cfg.Auth.Cookie.Secure,
				SameSite: cfg.Auth.Cookie.SameSite,
			},
			TenantHeader:   cfg.Auth.TenantHeader,
			CSRFHeader:     cfg.Auth.CSRF.HeaderName,
			LoginPerMinute: cfg.RateLimiting.LoginPerMinute,
		},
		appLogger,
	)

	router := chi.NewRouter()
	router.Use(middleware.Logging(appLogger))
	router.Use(pkgerrors.Middleware(appLogger))
	router.Use(httpMetrics.Middleware)

	router.Get("/health", health.Handler(checker))
	router.Get("/ready", health.ReadyHandler(checker))
	router.Get("/live", health.LiveHandler())
	router.Handle("/metrics", httpMetrics.GetHandler())
	router.With(middleware.RateLimit(limiter, "api", cfg.RateLimiting.RequestsPerMinute, time.Minute, middleware.ByIP, appLogger)).
		Mount("/api/v1/auth", handler.Routes())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
		IdleTimeout:  60 * time.Second,
	}

	// gRPC health сервер для оркестратора
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(pkggrpc.UnaryServerInterceptor(appLogger)))
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	go health.SyncGRPC(ctx, healthServer, serviceName, checker, 15*time.Second)

	errCh := make(chan error, 2)
	go func() {
		appLogger.Info("starting http server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if cfg.GRPC.Port > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		go func() {
			appLogger.Info("starting grpc health server", logger.Int("port", cfg.GRPC.Port))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		appLogger.Info("shutting down")
	case err := <-errCh:
		appLogger.Error("server failed", logger.Error(err))
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second))
	defer cancelShutdown()

	healthServer.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", logger.Error(err))
	}
	grpcServer.GracefulStop()
	sweeper.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Warn("tracer shutdown failed", logger.Error(err))
	}

	appLogger.Info("auth service stopped")
	return nil
}
