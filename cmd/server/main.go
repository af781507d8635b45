package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vmail/backend/internal/auth"
	jwtpkg "vmail/backend/internal/auth/jwt"
	"vmail/backend/internal/config"
	"vmail/backend/internal/ingest"
	"vmail/backend/internal/logger"
	"vmail/backend/internal/middleware"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
	"vmail/backend/internal/smtp"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/postgres"
	redisstore "vmail/backend/internal/storage/redis"
	"vmail/backend/internal/storage/turso"
	httptransport "vmail/backend/internal/transport/http"
)

// main 启动同时包含 HTTP API 与 SMTP 接收入口的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting vmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	if cfg.JWT.Secret == "" {
		log.Fatal("jwt.secret is required")
	}

	// 打开存储后端
	opener := storage.StoreOpener{
		OpenTurso: func(url, authToken string) (storage.EmailStore, error) {
			s, err := turso.NewStore(url, authToken)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		OpenPostgres: func(dbCfg *config.DatabaseConfig) (storage.EmailStore, error) {
			s, err := postgres.NewStore(dbCfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
	store, err := opener.Select(cfg, log)
	if err != nil {
		log.Fatal("failed to open storage backend", zap.Error(err))
	}
	defer store.Close()
	log.Info("storage backend ready", zap.String("backend", string(store.Kind())))

	// 监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("storage", store.Health)

	// 服务层与接收管道
	emailService := service.NewEmailService(store, log, metrics)
	normalizer := ingest.NewNormalizer(cfg.Ingest.MessageIDSuffix)
	pipeline := ingest.NewPipeline(normalizer, emailService, log, metrics, cfg.Ingest.Timeout)

	// 邮箱签发组件
	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.Mailbox.TokenExpiry)
	turnstile := auth.NewTurnstileVerifier(cfg.Turnstile.Secret)
	if cfg.Turnstile.Secret == "" {
		log.Warn("turnstile secret not configured, captcha verification disabled")
	}

	// 限流：配置了 Redis 时用共享窗口，否则退化为进程内限流
	var limiter middleware.RateLimiter
	if cfg.Redis.Address != "" {
		redisClient, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		limiter = redisstore.NewFixedWindowLimiter(redisClient, cfg.RateLimit.MailboxPerMinute, time.Minute)
		log.Info("using redis rate limiting", zap.String("address", cfg.Redis.Address))
	} else {
		limiter = middleware.NewLocalLimiter(cfg.RateLimit.MailboxPerMinute)
		log.Info("using in-process rate limiting")
	}

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		EmailService:  emailService,
		JWTManager:    jwtManager,
		Turnstile:     turnstile,
		RateLimiter:   limiter,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SMTP 服务器
	smtpBackend := smtp.NewBackend(pipeline, cfg.SMTP, log)
	smtpServer := smtp.NewServer(smtpBackend, cfg.SMTP)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
			zap.Strings("allowed_domains", cfg.SMTP.AllowedDomains),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
