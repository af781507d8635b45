// Package turso 实现嵌入式复制 SQL 引擎（libsql/Turso）的存储适配器。
//
// 远程 libsql:// URL 走 libsql 驱动；file: URL 走本地 sqlite3 驱动，
// 两者共享同一份 SQL（libsql 与 sqlite 方言一致）。
package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"                          // file: URL 驱动
	_ "github.com/tursodatabase/libsql-client-go/libsql"     // libsql:// URL 驱动

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// timeLayout 固定宽度的 UTC 时间格式。
// 纳秒补零到九位，保证字符串排序与时间排序一致。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id TEXT PRIMARY KEY,
	message_from TEXT NOT NULL,
	message_to TEXT NOT NULL,
	headers TEXT NOT NULL,
	"from" TEXT NOT NULL,
	sender TEXT,
	reply_to TEXT,
	delivered_to TEXT,
	return_path TEXT,
	"to" TEXT,
	cc TEXT,
	bcc TEXT,
	subject TEXT,
	message_id TEXT NOT NULL,
	in_reply_to TEXT,
	"references" TEXT,
	date TEXT,
	html TEXT,
	text TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_emails_message_to_created_at
	ON emails (message_to, created_at DESC);
`

const insertSQL = `
INSERT OR IGNORE INTO emails (
	id, message_from, message_to, headers, "from", sender, reply_to,
	delivered_to, return_path, "to", cc, bcc, subject, message_id,
	in_reply_to, "references", date, html, text, created_at, updated_at
) VALUES (
	:id, :message_from, :message_to, :headers, :from, :sender, :reply_to,
	:delivered_to, :return_path, :to, :cc, :bcc, :subject, :message_id,
	:in_reply_to, :references, :date, :html, :text, :created_at, :updated_at
)`

// Store 嵌入式复制 SQL 引擎的存储实现。
type Store struct {
	db *sqlx.DB
}

// NewStore 创建存储实例并执行建表迁移。
func NewStore(url, authToken string) (*Store, error) {
	driverName := "libsql"
	dsn := url

	if strings.HasPrefix(url, "file:") {
		driverName = "sqlite3"
	} else if authToken != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		dsn = url + sep + "authToken=" + authToken
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to turso: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate turso schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Kind 返回后端标签。
func (s *Store) Kind() config.DatabaseKind {
	return config.DatabaseTurso
}

// SaveEmail 写入一条记录，主键冲突为静默空操作。
func (s *Store) SaveEmail(ctx context.Context, email *domain.Email) (bool, error) {
	row, err := newEmailRow(email)
	if err != nil {
		return false, err
	}

	res, err := s.db.NamedExecContext(ctx, insertSQL, row)
	if err != nil {
		return false, fmt.Errorf("failed to insert email: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetEmail 按 id 读取单条记录。
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	var rows []emailRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM emails WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query email: %w", err)
	}
	// 主键之下多行不应出现，出现时按未找到处理
	if len(rows) != 1 {
		return nil, storage.ErrEmailNotFound
	}
	return rows[0].toDomain()
}

// GetEmailRecipient 按 id 只取收件人。
func (s *Store) GetEmailRecipient(ctx context.Context, id string) (string, error) {
	var recipient string
	err := s.db.GetContext(ctx, &recipient,
		`SELECT message_to FROM emails WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrEmailNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query email recipient: %w", err)
	}
	return recipient, nil
}

// ListEmailsByRecipient 返回某收件人的记录，created_at 降序。
func (s *Store) ListEmailsByRecipient(ctx context.Context, recipient string, limit int) ([]domain.Email, error) {
	query := `SELECT * FROM emails WHERE message_to = ? ORDER BY created_at DESC`
	args := []interface{}{recipient}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	emails := make([]domain.Email, 0, len(rows))
	for i := range rows {
		email, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		emails = append(emails, *email)
	}
	return emails, nil
}

// CountEmails 返回记录总数。
func (s *Store) CountEmails(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM emails`); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return count, nil
}

// ImportEmails 在单个事务中写入一批记录。
func (s *Store) ImportEmails(ctx context.Context, emails []*domain.Email) (storage.ImportResult, error) {
	var result storage.ImportResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, email := range emails {
		row, err := newEmailRow(email)
		if err != nil {
			tx.Rollback()
			return storage.ImportResult{}, err
		}

		res, err := tx.NamedExecContext(ctx, insertSQL, row)
		if err != nil {
			tx.Rollback()
			return storage.ImportResult{}, fmt.Errorf("failed to import email %s: %w", email.ID, err)
		}

		if affected, _ := res.RowsAffected(); affected > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.ImportResult{}, fmt.Errorf("failed to commit import: %w", err)
	}
	return result, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	return s.db.Close()
}

// Health 检查数据库健康状态。
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// emailRow 是 emails 表的行映射。
// JSON 字段存 TEXT，时间戳存固定宽度的 UTC 字符串。
type emailRow struct {
	ID          string  `db:"id"`
	MessageFrom string  `db:"message_from"`
	MessageTo   string  `db:"message_to"`
	Headers     []byte  `db:"headers"`
	From        []byte  `db:"from"`
	Sender      []byte  `db:"sender"`
	ReplyTo     []byte  `db:"reply_to"`
	DeliveredTo *string `db:"delivered_to"`
	ReturnPath  *string `db:"return_path"`
	To          []byte  `db:"to"`
	Cc          []byte  `db:"cc"`
	Bcc         []byte  `db:"bcc"`
	Subject     *string `db:"subject"`
	MessageID   string  `db:"message_id"`
	InReplyTo   *string `db:"in_reply_to"`
	References  *string `db:"references"`
	Date        *string `db:"date"`
	HTML        *string `db:"html"`
	Text        *string `db:"text"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}

func newEmailRow(email *domain.Email) (*emailRow, error) {
	headers, err := marshalHeaders(email.Headers)
	if err != nil {
		return nil, err
	}
	from, err := json.Marshal(email.From)
	if err != nil {
		return nil, fmt.Errorf("failed to encode from: %w", err)
	}

	var sender []byte
	if email.Sender != nil {
		if sender, err = json.Marshal(email.Sender); err != nil {
			return nil, fmt.Errorf("failed to encode sender: %w", err)
		}
	}

	replyTo, err := marshalAddresses(email.ReplyTo)
	if err != nil {
		return nil, err
	}
	to, err := marshalAddresses(email.To)
	if err != nil {
		return nil, err
	}
	cc, err := marshalAddresses(email.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := marshalAddresses(email.Bcc)
	if err != nil {
		return nil, err
	}

	return &emailRow{
		ID:          email.ID,
		MessageFrom: email.MessageFrom,
		MessageTo:   email.MessageTo,
		Headers:     headers,
		From:        from,
		Sender:      sender,
		ReplyTo:     replyTo,
		DeliveredTo: email.DeliveredTo,
		ReturnPath:  email.ReturnPath,
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		Subject:     email.Subject,
		MessageID:   email.MessageID,
		InReplyTo:   email.InReplyTo,
		References:  email.References,
		Date:        email.Date,
		HTML:        email.HTML,
		Text:        email.Text,
		CreatedAt:   email.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   email.UpdatedAt.UTC().Format(timeLayout),
	}, nil
}

func (r *emailRow) toDomain() (*domain.Email, error) {
	email := &domain.Email{
		ID:          r.ID,
		MessageFrom: r.MessageFrom,
		MessageTo:   r.MessageTo,
		Headers:     domain.HeaderList{},
		ReplyTo:     domain.AddressList{},
		To:          domain.AddressList{},
		Cc:          domain.AddressList{},
		Bcc:         domain.AddressList{},
		DeliveredTo: r.DeliveredTo,
		ReturnPath:  r.ReturnPath,
		Subject:     r.Subject,
		MessageID:   r.MessageID,
		InReplyTo:   r.InReplyTo,
		References:  r.References,
		Date:        r.Date,
		HTML:        r.HTML,
		Text:        r.Text,
	}

	if err := unmarshalJSON(r.Headers, &email.Headers); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.From, &email.From); err != nil {
		return nil, err
	}
	if len(r.Sender) > 0 {
		email.Sender = &domain.EmailAddress{}
		if err := unmarshalJSON(r.Sender, email.Sender); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(r.ReplyTo, &email.ReplyTo); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.To, &email.To); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.Cc, &email.Cc); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.Bcc, &email.Bcc); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(timeLayout, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	email.CreatedAt = createdAt
	email.UpdatedAt = updatedAt

	return email, nil
}

// marshalHeaders 编码头序列，nil 按空序列写入。
func marshalHeaders(headers domain.HeaderList) ([]byte, error) {
	if headers == nil {
		headers = domain.HeaderList{}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers: %w", err)
	}
	return data, nil
}

// marshalAddresses 编码地址序列，nil 按空序列写入。
func marshalAddresses(addrs domain.AddressList) ([]byte, error) {
	if addrs == nil {
		addrs = domain.AddressList{}
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode address list: %w", err)
	}
	return data, nil
}

func unmarshalJSON(data []byte, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}
	return nil
}
