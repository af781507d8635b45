package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEmail() *Email {
	now := time.Now()
	subject := "hello"
	return &Email{
		ID:          "abc123",
		MessageFrom: "sender@a.com",
		MessageTo:   "box1@domain",
		Headers:     HeaderList{{Key: "Subject", Value: "hello"}},
		From:        EmailAddress{Address: "a@x.com", Name: "Alice"},
		ReplyTo:     AddressList{},
		To:          AddressList{{Address: "box1@domain", Name: ""}},
		Cc:          AddressList{},
		Bcc:         AddressList{},
		Subject:     &subject,
		MessageID:   "<id-1@x.com>",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestValidateEmail(t *testing.T) {
	t.Run("合法记录通过校验", func(t *testing.T) {
		assert.NoError(t, ValidateEmail(validEmail()))
	})

	t.Run("缺少必填字段时报告字段名", func(t *testing.T) {
		email := validEmail()
		email.ID = ""
		email.MessageTo = ""
		email.From.Address = ""

		err := ValidateEmail(email)
		require.Error(t, err)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.ElementsMatch(t, []string{"id", "messageTo", "from.address"}, vErr.Fields)
		assert.Contains(t, err.Error(), "messageTo")
	})

	t.Run("发件人显示名称允许为空", func(t *testing.T) {
		email := validEmail()
		email.From.Name = ""
		assert.NoError(t, ValidateEmail(email))
	})

	t.Run("nil序列视为形状违规", func(t *testing.T) {
		email := validEmail()
		email.Cc = nil
		email.Bcc = nil

		err := ValidateEmail(email)
		require.Error(t, err)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.ElementsMatch(t, []string{"cc", "bcc"}, vErr.Fields)
	})

	t.Run("缺少messageId不通过", func(t *testing.T) {
		email := validEmail()
		email.MessageID = ""
		assert.Error(t, ValidateEmail(email))
	})
}
