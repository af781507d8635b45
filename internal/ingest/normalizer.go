// Package ingest 实现接收管道：解析产物规整为规范记录，再交给查询层落库。
package ingest

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/mailparse"
)

// Normalizer 把解析产物和信封信息规整成规范邮件记录。
// now 和 newID 可注入，便于测试固定时间和 id。
type Normalizer struct {
	suffix string
	now    func() time.Time
	newID  func() string
}

// NewNormalizer 创建规整器。suffix 是合成 Message-Id 的域名后缀。
func NewNormalizer(suffix string) *Normalizer {
	return &Normalizer{
		suffix: suffix,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return gonanoid.Must() },
	}
}

// Normalize 生成一条规范记录。
//
// 规整规则：
//   - id 每次新生成，与邮件内容无关；
//   - 信封地址（MessageFrom/MessageTo）与头部地址各自独立保留；
//   - 头部缺 From 时用信封发件人补齐 address 和 name；
//   - 缺 Message-Id 时合成 "<id>@<suffix>"；
//   - 可选标量字段缺失存 nil，列表字段缺失存空列表；
//   - created_at 和 updated_at 取同一个当前时间。
func (n *Normalizer) Normalize(envelopeFrom, envelopeTo string, parsed *mailparse.ParsedMail) *domain.Email {
	now := n.now()
	id := n.newID()

	from := parsed.From
	if from == nil {
		from = &domain.EmailAddress{Address: envelopeFrom, Name: envelopeFrom}
	}

	messageID := parsed.MessageID
	if messageID == "" {
		messageID = id + "@" + n.suffix
	}

	return &domain.Email{
		ID:          id,
		MessageFrom: envelopeFrom,
		MessageTo:   envelopeTo,
		Headers:     parsed.Headers,
		From:        *from,
		Sender:      parsed.Sender,
		ReplyTo:     parsed.ReplyTo,
		DeliveredTo: optional(parsed.DeliveredTo),
		ReturnPath:  optional(parsed.ReturnPath),
		To:          parsed.To,
		Cc:          parsed.Cc,
		Bcc:         parsed.Bcc,
		Subject:     optional(parsed.Subject),
		MessageID:   messageID,
		InReplyTo:   optional(parsed.InReplyTo),
		References:  optional(parsed.References),
		Date:        optional(parsed.Date),
		HTML:        optional(parsed.HTML),
		Text:        optional(parsed.Text),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// optional 空串按缺失处理。
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
