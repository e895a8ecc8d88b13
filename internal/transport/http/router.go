package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/middleware"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	InboxService *service.InboxService
	WebSocketHub *websocket.Hub // 为 nil 时不注册 /api/ws
	Health       *health.HealthChecker
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit))

	// 健康检查
	if deps.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			report := deps.Health.CheckHealth()
			status := http.StatusOK
			if report.Status != health.StatusOK {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, report)
		})
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}

	// Prometheus 指标端点
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	inboxHandler := NewInboxHandler(deps.InboxService)
	configHandler := NewConfigHandler(deps.Config.Mail.Domain, deps.Config.Mail.PollInterval)

	api := router.Group("/api")
	api.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))
	{
		api.GET("/config", configHandler.GetConfig)
		api.GET("/emails/detail/:id", inboxHandler.GetEmail)
		api.GET("/emails/:username", inboxHandler.ListEmails)

		if deps.WebSocketHub != nil {
			api.GET("/ws/:username", deps.WebSocketHub.Handler())
		}
	}

	return router
}

// corsConfig 只读接口只需要 GET 与预检请求
func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时不能携带凭证
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			break
		}
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}
