package mailparse

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"vmail/backend/internal/domain"
)

func init() {
	// 支持 GBK/Big5/Shift_JIS 等非 UTF-8 字符集
	message.CharsetReader = charset.Reader
}

// ParsedMail 表示 MIME 解析协作方的输出。
//
// 所有字段都是"解析出什么给什么"：缺失的标量为空字符串、
// 缺失的地址为 nil、缺失的列表为空切片。字段的默认值物化
// （空串→null、保证切片非 nil 等）由规范化步骤负责，不在这里做。
type ParsedMail struct {
	Headers     domain.HeaderList
	From        *domain.EmailAddress
	Sender      *domain.EmailAddress
	ReplyTo     domain.AddressList
	To          domain.AddressList
	Cc          domain.AddressList
	Bcc         domain.AddressList
	DeliveredTo string
	ReturnPath  string
	Subject     string
	MessageID   string
	InReplyTo   string
	References  string
	Date        string
	HTML        string
	Text        string
}

// Parse 解析一封原始 MIME 邮件。
//
// 只提取本系统关心的内容：有序邮件头、地址字段、主题、
// 标识头、正文的第一个 text/plain 和第一个 text/html 部分。
// 附件被跳过。未知字符集不视为致命错误。
func Parse(raw []byte) (*ParsedMail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}

	header := mr.Header
	parsed := &ParsedMail{
		Headers:     readHeaderFields(header),
		From:        firstAddress(header, "From"),
		Sender:      firstAddress(header, "Sender"),
		ReplyTo:     addressList(header, "Reply-To"),
		To:          addressList(header, "To"),
		Cc:          addressList(header, "Cc"),
		Bcc:         addressList(header, "Bcc"),
		DeliveredTo: strings.TrimSpace(header.Get("Delivered-To")),
		ReturnPath:  strings.TrimSpace(header.Get("Return-Path")),
		MessageID:   strings.TrimSpace(header.Get("Message-Id")),
		InReplyTo:   strings.TrimSpace(header.Get("In-Reply-To")),
		References:  strings.TrimSpace(header.Get("References")),
	}

	if subject, err := header.Subject(); err == nil || message.IsUnknownCharset(err) {
		parsed.Subject = subject
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		parsed.Date = date.UTC().Format(time.RFC3339)
	}

	readBodyParts(mr, parsed)
	return parsed, nil
}

// readHeaderFields 按邮件中出现的顺序收集全部头字段，重复项保留。
func readHeaderFields(header mail.Header) domain.HeaderList {
	fields := domain.HeaderList{}
	for f := header.Fields(); f.Next(); {
		fields = append(fields, domain.HeaderField{
			Key:   f.Key(),
			Value: f.Value(),
		})
	}
	return fields
}

// readBodyParts 提取正文的第一个 text/plain 和第一个 text/html 部分。
func readBodyParts(mr *mail.Reader, parsed *ParsedMail) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			// 残缺的多部分正文：保留已经解析到的内容
			return
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := inline.ContentType()
		if err != nil {
			contentType = "text/plain"
		}

		switch {
		case strings.HasPrefix(contentType, "text/html"):
			if parsed.HTML == "" {
				if body, err := io.ReadAll(part.Body); err == nil {
					parsed.HTML = string(body)
				}
			}
		case strings.HasPrefix(contentType, "text/plain"):
			if parsed.Text == "" {
				if body, err := io.ReadAll(part.Body); err == nil {
					parsed.Text = string(body)
				}
			}
		}
	}
}

// addressList 解析一个地址头，解析失败按空列表处理。
func addressList(header mail.Header, key string) domain.AddressList {
	out := domain.AddressList{}
	addrs, err := header.AddressList(key)
	if err != nil {
		return out
	}
	for _, addr := range addrs {
		out = append(out, domain.EmailAddress{
			Address: addr.Address,
			Name:    addr.Name,
		})
	}
	return out
}

// firstAddress 返回地址头的第一个地址，缺失或解析失败返回 nil。
func firstAddress(header mail.Header, key string) *domain.EmailAddress {
	addrs, err := header.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	return &domain.EmailAddress{
		Address: addrs[0].Address,
		Name:    addrs[0].Name,
	}
}
