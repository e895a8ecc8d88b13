package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempinbox/backend/internal/bootstrap"
	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/logger"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/smtp"
	httptransport "tempinbox/backend/internal/transport/http"
	"tempinbox/backend/internal/websocket"
)

// main 启动同时包含 HTTP API 与 SMTP 的综合服务。
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

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting tempinbox server",
		zap.String("domain", cfg.Mail.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	metrics := monitoring.NewMetrics()

	stores, err := bootstrap.OpenStores(cfg, metrics, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 收件链路
	normalizer := service.NewNormalizer(stores.Store, smtp.MIMEParser{}, log)
	normalizer.SetMetrics(metrics)
	if stores.Archive != nil {
		normalizer.SetArchive(stores.Archive)
	}

	inboxService := service.NewInboxService(stores.Store, cfg.Mail.Domain, log)

	// 实时推送：启用 Redis 时经由发布订阅在多实例间广播
	var wsHub *websocket.Hub
	if cfg.WebSocket.Enabled {
		wsHub = websocket.NewHub(cfg.Mail.Domain, cfg.CORS.AllowedOrigins, log)
		wsHub.SetMetrics(metrics)
		wsHub.SetPingInterval(cfg.WebSocket.PingInterval)
		if stores.Cache != nil {
			normalizer.AddPublisher(stores.Cache)
		} else {
			normalizer.AddPublisher(wsHub)
		}
	}

	healthChecker := health.NewHealthChecker(log)
	healthChecker.AddReadinessCheck("storage", stores.Store.Health)
	if stores.Archive != nil {
		healthChecker.AddReadinessCheck("raw_archive", stores.Archive.Health)
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		InboxService: inboxService,
		WebSocketHub: wsHub,
		Health:       healthChecker,
		Metrics:      metrics,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	smtpBackend := smtp.NewBackend(normalizer, cfg.Mail.Domain, log)
	smtpBackend.SetLimiter(smtp.NewConnectionLimiter(
		cfg.SMTP.MaxConnections,
		cfg.SMTP.ConnectionRate,
		cfg.SMTP.ConnectionBurst,
	))
	smtpBackend.SetMetrics(metrics)
	smtpServer := smtp.NewServer(smtpBackend, cfg.SMTP)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("hostname", cfg.SMTP.Hostname),
		)
		if err := smtpServer.ListenAndServe(); err != nil && groupCtx.Err() == nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	if wsHub != nil {
		group.Go(func() error {
			log.Info("starting WebSocket hub")
			wsHub.Run(groupCtx)
			return nil
		})

		if stores.Cache != nil {
			group.Go(func() error {
				log.Info("subscribing to new mail notifications")
				return wsHub.ConsumeRedis(groupCtx, stores.Cache.SubscribeNewMail(groupCtx))
			})
		}
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown warning", zap.Error(err))
			_ = smtpServer.Close()
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}
