// Package importer 从 JSON 导出文件批量导入历史邮件记录。
//
// 导出文件来自旧部署的数据库导出，形状比较杂：JSON 类型的列可能是
// 内联对象也可能是再编码过一层的 JSON 字符串，时间戳可能是 Unix
// 秒数也可能是 ISO 字符串。导入时全部拉平成规范记录。
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
)

// Summary 汇总一次导入的结果。
type Summary struct {
	Files    int // 处理的文件数
	Inserted int // 实际写入的记录数
	Skipped  int // 因已存在被跳过的记录数
	Errored  int // 无法转换成规范记录而被跳过的记录数
}

// Importer 邮件导入器。
type Importer struct {
	emails  *service.EmailService
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewImporter 创建导入器。
func NewImporter(emails *service.EmailService, log *zap.Logger, metrics *monitoring.Metrics) *Importer {
	return &Importer{
		emails:  emails,
		log:     log,
		metrics: metrics,
	}
}

// ImportPath 导入一个 JSON 文件，或目录下的全部 JSON 文件。
//
// 每个文件是一个独立事务：文件内单条记录转换失败只跳过该条，
// 后端写入失败则整个文件回滚并中止导入。
func (i *Importer) ImportPath(ctx context.Context, path string) (Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = findJSONFiles(path)
		if err != nil {
			return Summary{}, err
		}
	}

	var total Summary
	for _, file := range files {
		summary, err := i.importFile(ctx, file)
		total.Files++
		total.Inserted += summary.Inserted
		total.Skipped += summary.Skipped
		total.Errored += summary.Errored
		if err != nil {
			return total, fmt.Errorf("import of %s failed: %w", file, err)
		}
	}
	return total, nil
}

func (i *Importer) importFile(ctx context.Context, path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var records []exportRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return Summary{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var summary Summary
	emails := make([]*domain.Email, 0, len(records))
	for idx, record := range records {
		email, err := record.toEmail()
		if err == nil {
			err = domain.ValidateEmail(email)
		}
		if err != nil {
			summary.Errored++
			i.log.Warn("导出记录无法转换，跳过",
				zap.String("file", path),
				zap.Int("index", idx),
				zap.String("record_id", record.ID),
				zap.Error(err))
			continue
		}
		emails = append(emails, email)
	}

	result, err := i.emails.Import(ctx, emails)
	if err != nil {
		return summary, err
	}
	summary.Inserted = result.Inserted
	summary.Skipped = result.Skipped

	i.metrics.RecordImportOutcome(summary.Inserted, summary.Skipped, summary.Errored)
	i.log.Info("文件导入完成",
		zap.String("file", path),
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errored", summary.Errored))
	return summary, nil
}

func findJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// exportRecord 一条导出记录，snake_case 键。
// JSON 类型的列和时间戳先按原始形态接住，再由 toEmail 拉平。
type exportRecord struct {
	ID          string          `json:"id"`
	MessageFrom string          `json:"message_from"`
	MessageTo   string          `json:"message_to"`
	Headers     json.RawMessage `json:"headers"`
	From        json.RawMessage `json:"from"`
	Sender      json.RawMessage `json:"sender"`
	ReplyTo     json.RawMessage `json:"reply_to"`
	DeliveredTo *string         `json:"delivered_to"`
	ReturnPath  *string         `json:"return_path"`
	To          json.RawMessage `json:"to"`
	Cc          json.RawMessage `json:"cc"`
	Bcc         json.RawMessage `json:"bcc"`
	Subject     *string         `json:"subject"`
	MessageID   string          `json:"message_id"`
	InReplyTo   *string         `json:"in_reply_to"`
	References  *string         `json:"references"`
	Date        *string         `json:"date"`
	HTML        *string         `json:"html"`
	Text        *string         `json:"text"`
	CreatedAt   json.RawMessage `json:"created_at"`
	UpdatedAt   json.RawMessage `json:"updated_at"`
}

func (r *exportRecord) toEmail() (*domain.Email, error) {
	var headers domain.HeaderList
	if err := decodeJSONColumn(r.Headers, &headers); err != nil {
		return nil, fmt.Errorf("invalid headers: %w", err)
	}
	if headers == nil {
		headers = domain.HeaderList{}
	}

	var from domain.EmailAddress
	if err := decodeJSONColumn(r.From, &from); err != nil {
		return nil, fmt.Errorf("invalid from: %w", err)
	}

	var sender *domain.EmailAddress
	if !rawIsNull(r.Sender) {
		sender = &domain.EmailAddress{}
		if err := decodeJSONColumn(r.Sender, sender); err != nil {
			return nil, fmt.Errorf("invalid sender: %w", err)
		}
	}

	replyTo, err := decodeAddressList(r.ReplyTo)
	if err != nil {
		return nil, fmt.Errorf("invalid reply_to: %w", err)
	}
	to, err := decodeAddressList(r.To)
	if err != nil {
		return nil, fmt.Errorf("invalid to: %w", err)
	}
	cc, err := decodeAddressList(r.Cc)
	if err != nil {
		return nil, fmt.Errorf("invalid cc: %w", err)
	}
	bcc, err := decodeAddressList(r.Bcc)
	if err != nil {
		return nil, fmt.Errorf("invalid bcc: %w", err)
	}

	createdAt, err := decodeTimestamp(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	updatedAt, err := decodeTimestamp(r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}

	return &domain.Email{
		ID:          r.ID,
		MessageFrom: r.MessageFrom,
		MessageTo:   r.MessageTo,
		Headers:     headers,
		From:        from,
		Sender:      sender,
		ReplyTo:     replyTo,
		DeliveredTo: r.DeliveredTo,
		ReturnPath:  r.ReturnPath,
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		Subject:     r.Subject,
		MessageID:   r.MessageID,
		InReplyTo:   r.InReplyTo,
		References:  r.References,
		Date:        r.Date,
		HTML:        r.HTML,
		Text:        r.Text,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// decodeJSONColumn 解码一个可能被二次编码的 JSON 列：
// 值是字符串时先解开一层再解码，否则直接解码。
func decodeJSONColumn(raw json.RawMessage, out interface{}) error {
	if rawIsNull(raw) {
		return nil
	}
	data := []byte(raw)
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		data = []byte(inner)
	}
	return json.Unmarshal(data, out)
}

func decodeAddressList(raw json.RawMessage) (domain.AddressList, error) {
	var list domain.AddressList
	if err := decodeJSONColumn(raw, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = domain.AddressList{}
	}
	return list, nil
}

// decodeTimestamp 接受 Unix 秒数或 ISO 字符串。
func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if rawIsNull(raw) {
		return time.Time{}, fmt.Errorf("timestamp is missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err != nil {
		return time.Time{}, err
	}
	seconds := int64(epoch)
	nanos := int64((epoch - float64(seconds)) * float64(time.Second))
	return time.Unix(seconds, nanos).UTC(), nil
}

func rawIsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
