package domain

import (
	"fmt"
	"strings"
)

// ValidationError 表示邮件记录未通过规范形状校验。
// Fields 列出所有违规字段，便于日志定位。
type ValidationError struct {
	Fields []string
}

// Error 实现 error 接口。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("email record validation failed: missing or invalid fields: %s",
		strings.Join(e.Fields, ", "))
}

// ValidateEmail 校验规范化后的邮件记录。
//
// 必填字段: id、messageFrom、messageTo、from.address、messageId。
// from.name 允许为空字符串（发件人可以没有显示名称）。
// 序列字段必须已物化为非 nil 切片，时间戳必须已赋值——
// 这两条是规范化步骤的产物，校验器把它们当作形状的一部分兜底检查。
func ValidateEmail(email *Email) error {
	var fields []string

	if email.ID == "" {
		fields = append(fields, "id")
	}
	if email.MessageFrom == "" {
		fields = append(fields, "messageFrom")
	}
	if email.MessageTo == "" {
		fields = append(fields, "messageTo")
	}
	if email.From.Address == "" {
		fields = append(fields, "from.address")
	}
	if email.MessageID == "" {
		fields = append(fields, "messageId")
	}
	if email.Headers == nil {
		fields = append(fields, "headers")
	}
	if email.ReplyTo == nil {
		fields = append(fields, "replyTo")
	}
	if email.To == nil {
		fields = append(fields, "to")
	}
	if email.Cc == nil {
		fields = append(fields, "cc")
	}
	if email.Bcc == nil {
		fields = append(fields, "bcc")
	}
	if email.CreatedAt.IsZero() {
		fields = append(fields, "createdAt")
	}
	if email.UpdatedAt.IsZero() {
		fields = append(fields, "updatedAt")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
