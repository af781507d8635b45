package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/mailparse"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
)

// Pipeline 接收管道：解析、规整、校验、落库。
//
// 整条管道对投递方是"收下即忘"的：任何一步失败都只丢弃这封邮件，
// 计数并记日志，绝不把错误传回 SMTP 会话。
type Pipeline struct {
	normalizer *Normalizer
	emails     *service.EmailService
	log        *zap.Logger
	metrics    *monitoring.Metrics
	timeout    time.Duration
}

// NewPipeline 创建接收管道。timeout 约束单封邮件的落库耗时。
func NewPipeline(normalizer *Normalizer, emails *service.EmailService, log *zap.Logger, metrics *monitoring.Metrics, timeout time.Duration) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		emails:     emails,
		log:        log,
		metrics:    metrics,
		timeout:    timeout,
	}
}

// Ingest 处理一封投递到某个收件人的原始邮件。
func (p *Pipeline) Ingest(ctx context.Context, envelopeFrom, envelopeTo string, raw []byte) {
	p.metrics.RecordEmailReceived()

	parsed, err := mailparse.Parse(raw)
	if err != nil {
		p.log.Warn("邮件解析失败，丢弃",
			zap.String("from", envelopeFrom),
			zap.String("to", envelopeTo),
			zap.Error(err))
		p.metrics.RecordEmailDropped(monitoring.DropStageParse)
		return
	}

	email := p.normalizer.Normalize(envelopeFrom, envelopeTo, parsed)

	if err := domain.ValidateEmail(email); err != nil {
		p.log.Warn("邮件记录校验失败，丢弃",
			zap.String("email_id", email.ID),
			zap.String("to", envelopeTo),
			zap.Error(err))
		p.metrics.RecordEmailDropped(monitoring.DropStageValidation)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.emails.Insert(ctx, email) {
		p.log.Info("邮件已落库",
			zap.String("email_id", email.ID),
			zap.String("to", envelopeTo),
			zap.String("message_id", email.MessageID))
	}
}
