package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vmail/backend/internal/auth"
	jwtpkg "vmail/backend/internal/auth/jwt"
	"vmail/backend/internal/middleware"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/namegen"
	"vmail/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	emails        *service.EmailService
	jwtManager    *jwtpkg.Manager
	turnstile     *auth.TurnstileVerifier
	mailboxDomain string
	metrics       *monitoring.Metrics
	log           *zap.Logger
}

// NewHandler 创建 HTTP 处理器。
func NewHandler(emails *service.EmailService, jwtManager *jwtpkg.Manager, turnstile *auth.TurnstileVerifier, mailboxDomain string, metrics *monitoring.Metrics, log *zap.Logger) *Handler {
	return &Handler{
		emails:        emails,
		jwtManager:    jwtManager,
		turnstile:     turnstile,
		mailboxDomain: mailboxDomain,
		metrics:       metrics,
		log:           log,
	}
}

type createMailboxRequest struct {
	TurnstileToken string `json:"turnstileToken"`
}

// createMailbox 签发一个随机邮箱及其访问令牌。
func (h *Handler) createMailbox(c *gin.Context) {
	var req createMailboxRequest
	// 没有配置 turnstile 时允许空请求体
	_ = c.ShouldBindJSON(&req)

	ok, err := h.turnstile.Verify(c.Request.Context(), req.TurnstileToken, c.ClientIP())
	if err != nil {
		h.log.Error("turnstile 校验调用失败", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "captcha verification unavailable",
		})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "captcha verification failed",
		})
		return
	}

	mailbox := namegen.Generate() + "@" + h.mailboxDomain
	token, err := h.jwtManager.GenerateToken(mailbox)
	if err != nil {
		h.log.Error("令牌签发失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to issue mailbox token",
		})
		return
	}

	h.metrics.RecordMailboxCreated()
	c.JSON(http.StatusOK, gin.H{
		"mailbox":   mailbox,
		"token":     token,
		"expiresIn": int64(h.jwtManager.Expiry().Seconds()),
	})
}

// listMails 返回令牌所属邮箱的全部邮件，created_at 降序。
//
// 查询层已经把后端故障中立化成空列表，这里无条件返回 200 数组。
func (h *Handler) listMails(c *gin.Context) {
	mailbox := c.GetString(middleware.ContextKeyMailbox)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	emails := h.emails.ListByRecipient(c.Request.Context(), mailbox, limit)
	c.JSON(http.StatusOK, emails)
}

// getMail 按 id 返回单封邮件。
// 邮件不存在或不属于令牌邮箱时统一返回 404，不泄露存在性。
func (h *Handler) getMail(c *gin.Context) {
	mailbox := c.GetString(middleware.ContextKeyMailbox)
	id := c.Param("id")

	email := h.emails.GetByID(c.Request.Context(), id)
	if email == nil || email.MessageTo != mailbox {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "mail not found",
		})
		return
	}

	c.JSON(http.StatusOK, email)
}
