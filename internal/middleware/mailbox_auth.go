package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vmail/backend/internal/auth/jwt"
)

// ContextKeyMailbox gin 上下文里存放已认证邮箱地址的键。
const ContextKeyMailbox = "mailbox"

// MailboxAuth 邮箱令牌认证中间件
type MailboxAuth struct {
	manager *jwt.Manager
	log     *zap.Logger
}

// NewMailboxAuth 创建邮箱认证中间件
func NewMailboxAuth(manager *jwt.Manager, log *zap.Logger) *MailboxAuth {
	return &MailboxAuth{
		manager: manager,
		log:     log,
	}
}

// RequireMailboxToken 要求携带有效的邮箱令牌。
// 验证通过后把邮箱地址放进上下文，后续处理器据此限定可见范围。
func (ma *MailboxAuth) RequireMailboxToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "mailbox token required",
			})
			c.Abort()
			return
		}

		claims, err := ma.manager.ValidateToken(token)
		if err != nil {
			ma.log.Warn("invalid mailbox token",
				zap.String("ip", c.ClientIP()),
				zap.Error(err),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid mailbox token",
			})
			c.Abort()
			return
		}

		c.Set(ContextKeyMailbox, claims.Mailbox)
		c.Next()
	}
}

// extractToken 从请求提取令牌，优先 Authorization 头，其次 query 参数。
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	return c.Query("token")
}
