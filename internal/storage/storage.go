package storage

import (
	"context"
	"errors"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
)

var (
	// ErrEmailNotFound 邮件记录未找到错误
	ErrEmailNotFound = errors.New("email not found")
)

// ImportResult 汇总一次批量导入事务的结果。
type ImportResult struct {
	Inserted int // 实际写入的记录数
	Skipped  int // 因主键冲突被跳过的记录数
}

// EmailStore 定义邮件记录的持久化契约，每个后端实现一次。
//
// 错误约定：实现返回显式 error（便于测试和观测），
// "对外永不抛错"的中立化由上层 QueryLayer 负责。
//
// SaveEmail 对主键冲突幂等：重复 id 是静默空操作，
// 返回 (false, nil) 而不是错误。
type EmailStore interface {
	// Kind 返回后端家族的显式标签。后端区分只看这个标签，
	// 不通过探测客户端的附带能力推断。
	Kind() config.DatabaseKind

	// SaveEmail 写入一条记录。stored=false 表示主键冲突被忽略。
	SaveEmail(ctx context.Context, email *domain.Email) (stored bool, err error)

	// GetEmail 按 id 读取。查到多于一行（主键约束下不可能出现）
	// 按未找到处理，绝不随机返回一条。
	GetEmail(ctx context.Context, id string) (*domain.Email, error)

	// GetEmailRecipient 按 id 只取 message_to。
	GetEmailRecipient(ctx context.Context, id string) (string, error)

	// ListEmailsByRecipient 返回某收件人的全部记录，created_at 降序。
	// limit > 0 时限制返回条数；0 表示不限制（默认行为）。
	ListEmailsByRecipient(ctx context.Context, recipient string, limit int) ([]domain.Email, error)

	// CountEmails 返回记录总数。
	CountEmails(ctx context.Context) (int64, error)

	// ImportEmails 在单个事务中写入一批记录，整体提交或整体回滚。
	// 主键冲突的记录计入 Skipped；任何后端错误都会回滚整个事务。
	ImportEmails(ctx context.Context, emails []*domain.Email) (ImportResult, error)

	// Close 释放连接。
	Close() error

	// Health 检查后端健康状态。
	Health(ctx context.Context) error
}
