// Package smtp 实现只收不发的 SMTP 入口。
//
// 服务器只接受发往托管域名的邮件，不做中继。收件人校验只看域名：
// 任何托管域名下的地址都可以收信，不存在"邮箱未注册"的概念。
// DATA 之后的处理交给接收管道，管道内部的失败不会传回发送方。
package smtp

import (
	"context"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"vmail/backend/internal/config"
	"vmail/backend/internal/ingest"
)

// Backend 实现 go-smtp 的 Backend 接口。
type Backend struct {
	pipeline       *ingest.Pipeline
	allowedDomains []string
	maxBytes       int64
	log            *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(pipeline *ingest.Pipeline, cfg config.SMTPConfig, log *zap.Logger) *Backend {
	return &Backend{
		pipeline:       pipeline,
		allowedDomains: cfg.AllowedDomains,
		maxBytes:       cfg.MaxMessageBytes,
		log:            log,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

// NewServer 按配置组装 go-smtp 服务器。
func NewServer(b *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	server := gosmtp.NewServer(b)
	server.Addr = cfg.BindAddr
	server.Domain = cfg.Domain
	server.MaxMessageBytes = cfg.MaxMessageBytes
	server.MaxRecipients = 50
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.AllowInsecureAuth = true
	return server
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 防中继的核心：收件域名不在托管列表里一律 550 拒绝。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	recipientDomain := parts[1]

	allowed := false
	for _, d := range s.backend.allowedDomains {
		if strings.EqualFold(d, recipientDomain) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
//
// 每个收件人各自产生一条独立记录。读完数据之后向发送方
// 确认接收，后续处理的任何失败都只体现在日志和指标里。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, s.backend.maxBytes))
	if err != nil {
		return err
	}

	for _, rcpt := range s.recipients {
		s.backend.pipeline.Ingest(context.Background(), s.fromAddress, rcpt, rawBytes)
	}
	return nil
}

// AuthPlain 处理 PLAIN 认证（此处允许匿名）。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 关闭会话。
func (s *session) Logout() error {
	return nil
}

// normalizeAddress 去掉两侧空白和包裹的尖括号，转为小写。
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(addr)
}
