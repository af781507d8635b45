// Package httptransport 组装 HTTP API 路由。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vmail/backend/internal/auth"
	jwtpkg "vmail/backend/internal/auth/jwt"
	"vmail/backend/internal/config"
	"vmail/backend/internal/middleware"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	EmailService  *service.EmailService
	JWTManager    *jwtpkg.Manager
	Turnstile     *auth.TurnstileVerifier
	RateLimiter   middleware.RateLimiter
	Metrics       *monitoring.Metrics
	HealthChecker *monitoring.HealthChecker
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(mm.PanicRecovery())
	router.Use(mm.RequestLogger())
	router.Use(mm.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(
		deps.EmailService,
		deps.JWTManager,
		deps.Turnstile,
		deps.Config.Mailbox.Domain,
		deps.Metrics,
		deps.Logger,
	)

	mailboxAuth := middleware.NewMailboxAuth(deps.JWTManager, deps.Logger)

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", gin.WrapF(deps.HealthChecker.Handler()))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// 邮箱签发：人机校验 + 按 IP 限流
	mailboxHandlers := []gin.HandlerFunc{}
	if deps.RateLimiter != nil {
		mailboxHandlers = append(mailboxHandlers,
			middleware.RateLimit(deps.RateLimiter, deps.Metrics, deps.Logger))
	}
	mailboxHandlers = append(mailboxHandlers, handler.createMailbox)
	router.POST("/mailbox", mailboxHandlers...)

	// 邮件读取：需要邮箱令牌
	router.GET("/mails", mailboxAuth.RequireMailboxToken(), handler.listMails)
	router.GET("/mails/:id", mailboxAuth.RequireMailboxToken(), handler.getMail)

	return router
}
