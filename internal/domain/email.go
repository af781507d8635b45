package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EmailAddress 表示一个结构化的邮件地址。
type EmailAddress struct {
	Address string `json:"address"` // 邮箱地址
	Name    string `json:"name"`    // 显示名称，可为空字符串
}

// HeaderField 表示一条原始邮件头，保留顺序和重复项。
type HeaderField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HeaderList 邮件头序列，按 JSON 存储到数据库。
type HeaderList []HeaderField

// AddressList 地址序列，按 JSON 存储到数据库。
// 规范化后永远不为 nil（缺失时为空序列）。
type AddressList []EmailAddress

// Email 表示一封规范化后的邮件记录。
//
// 这是系统唯一的持久化实体：由接收管道创建一次，之后只读。
// 所有可选字段在存储时必须显式物化为 null 或空序列，
// 保证各个后端存储的形状完全一致。
type Email struct {
	ID          string        `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageFrom string        `json:"messageFrom" db:"message_from" gorm:"column:message_from;type:varchar(255);not null"`
	MessageTo   string        `json:"messageTo" db:"message_to" gorm:"column:message_to;type:varchar(255);not null;index:idx_emails_message_to_created_at,priority:1"`
	Headers     HeaderList    `json:"headers" gorm:"type:jsonb;not null"`
	From        EmailAddress  `json:"from" gorm:"column:from;type:jsonb;not null"`
	Sender      *EmailAddress `json:"sender" gorm:"column:sender;type:jsonb"`
	ReplyTo     AddressList   `json:"replyTo" gorm:"column:reply_to;type:jsonb"`
	DeliveredTo *string       `json:"deliveredTo" db:"delivered_to" gorm:"column:delivered_to"`
	ReturnPath  *string       `json:"returnPath" db:"return_path" gorm:"column:return_path"`
	To          AddressList   `json:"to" gorm:"column:to;type:jsonb"`
	Cc          AddressList   `json:"cc" gorm:"column:cc;type:jsonb"`
	Bcc         AddressList   `json:"bcc" gorm:"column:bcc;type:jsonb"`
	Subject     *string       `json:"subject" db:"subject" gorm:"type:varchar(998)"`
	MessageID   string        `json:"messageId" db:"message_id" gorm:"column:message_id;type:varchar(998);not null"`
	InReplyTo   *string       `json:"inReplyTo" db:"in_reply_to" gorm:"column:in_reply_to"`
	References  *string       `json:"references" db:"references" gorm:"column:references"`
	Date        *string       `json:"date" db:"date" gorm:"column:date;type:varchar(100)"`
	HTML        *string       `json:"html" db:"html" gorm:"column:html"`
	Text        *string       `json:"text" db:"text" gorm:"column:text"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at" gorm:"column:created_at;not null;index:idx_emails_message_to_created_at,priority:2"`
	UpdatedAt   time.Time     `json:"updatedAt" db:"updated_at" gorm:"column:updated_at;not null"`
}

// TableName 指定 GORM 使用的表名。
func (Email) TableName() string {
	return "emails"
}

// Value 实现 driver.Valuer，将头序列编码为 JSON。
func (h HeaderList) Value() (driver.Value, error) {
	if h == nil {
		h = HeaderList{}
	}
	return json.Marshal(h)
}

// Scan 实现 sql.Scanner，从 JSON 列还原头序列。
func (h *HeaderList) Scan(value interface{}) error {
	if value == nil {
		*h = HeaderList{}
		return nil
	}
	data, err := toBytes(value)
	if err != nil {
		return err
	}
	out := HeaderList{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*h = out
	return nil
}

// Value 实现 driver.Valuer，将地址序列编码为 JSON。
// nil 序列按空序列写入，保证数据库中永远不出现缺失的数组字段。
func (a AddressList) Value() (driver.Value, error) {
	if a == nil {
		a = AddressList{}
	}
	return json.Marshal(a)
}

// Scan 实现 sql.Scanner，从 JSON 列还原地址序列。
func (a *AddressList) Scan(value interface{}) error {
	if value == nil {
		*a = AddressList{}
		return nil
	}
	data, err := toBytes(value)
	if err != nil {
		return err
	}
	out := AddressList{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*a = out
	return nil
}

// Value 实现 driver.Valuer，将单个地址编码为 JSON。
func (e EmailAddress) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// Scan 实现 sql.Scanner，从 JSON 列还原单个地址。
func (e *EmailAddress) Scan(value interface{}) error {
	if value == nil {
		*e = EmailAddress{}
		return nil
	}
	data, err := toBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, e)
}

func toBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T for JSON field", value)
	}
}
