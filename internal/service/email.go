// Package service 实现查询层。
//
// 存储适配器返回显式错误，查询层在这里把错误中立化：
// 对调用方只给"安全"的空结果，错误本身进日志和指标。
// HTTP 处理器因此永远不会把后端故障泄露成 5xx 或异常响应。
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/storage"
)

// EmailService 邮件查询层。
type EmailService struct {
	store   storage.EmailStore
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewEmailService 创建邮件查询层。
func NewEmailService(store storage.EmailStore, log *zap.Logger, metrics *monitoring.Metrics) *EmailService {
	return &EmailService{
		store:   store,
		log:     log,
		metrics: metrics,
	}
}

// Insert 持久化一条记录，永不返回错误。
// 返回值表示记录是否真正写入：重复 id 和后端故障都返回 false，
// 两者分别计入 duplicate 和 dropped{storage} 指标。
func (s *EmailService) Insert(ctx context.Context, email *domain.Email) bool {
	stored, err := s.store.SaveEmail(ctx, email)
	if err != nil {
		s.recordError("save", err, zap.String("email_id", email.ID))
		s.metrics.RecordEmailDropped(monitoring.DropStageStorage)
		return false
	}
	if !stored {
		s.log.Info("重复邮件被忽略", zap.String("email_id", email.ID))
		s.metrics.RecordEmailDuplicate()
		return false
	}
	s.metrics.RecordEmailStored()
	return true
}

// GetByID 按 id 查询，未找到和后端故障都返回 nil。
func (s *EmailService) GetByID(ctx context.Context, id string) *domain.Email {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrEmailNotFound) {
			s.recordError("get", err, zap.String("email_id", id))
		}
		return nil
	}
	return email
}

// GetRecipientOf 按 id 只查收件人，查不到返回空串。
func (s *EmailService) GetRecipientOf(ctx context.Context, id string) string {
	recipient, err := s.store.GetEmailRecipient(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrEmailNotFound) {
			s.recordError("get_recipient", err, zap.String("email_id", id))
		}
		return ""
	}
	return recipient
}

// ListByRecipient 返回某收件人的记录，后端故障时返回空列表。
// 返回值永远非 nil，序列化成 JSON 一定是数组。
func (s *EmailService) ListByRecipient(ctx context.Context, recipient string, limit int) []domain.Email {
	emails, err := s.store.ListEmailsByRecipient(ctx, recipient, limit)
	if err != nil {
		s.recordError("list", err, zap.String("recipient", recipient))
		return []domain.Email{}
	}
	if emails == nil {
		emails = []domain.Email{}
	}
	return emails
}

// Count 返回记录总数，后端故障时返回 0。
func (s *EmailService) Count(ctx context.Context) int64 {
	count, err := s.store.CountEmails(ctx)
	if err != nil {
		s.recordError("count", err)
		return 0
	}
	return count
}

// Import 批量导入一批记录。导入是操作员前台跑的命令，
// 错误原样返回而不做中立化。
func (s *EmailService) Import(ctx context.Context, emails []*domain.Email) (storage.ImportResult, error) {
	result, err := s.store.ImportEmails(ctx, emails)
	if err != nil {
		s.recordError("import", err)
		return storage.ImportResult{}, err
	}
	return result, nil
}

func (s *EmailService) recordError(op string, err error, fields ...zap.Field) {
	backend := string(s.store.Kind())
	fields = append(fields,
		zap.String("backend", backend),
		zap.String("op", op),
		zap.Error(err))
	s.log.Error("存储操作失败", fields...)
	s.metrics.RecordStorageError(backend, op)
}
