package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vmail/backend/internal/auth"
	jwtpkg "vmail/backend/internal/auth/jwt"
	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
	"vmail/backend/internal/storage"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// mapStore 内存存储桩。
type mapStore struct {
	emails map[string]*domain.Email
}

func newMapStore() *mapStore {
	return &mapStore{emails: make(map[string]*domain.Email)}
}

func (m *mapStore) Kind() config.DatabaseKind { return config.DatabaseTurso }

func (m *mapStore) SaveEmail(ctx context.Context, email *domain.Email) (bool, error) {
	if _, ok := m.emails[email.ID]; ok {
		return false, nil
	}
	m.emails[email.ID] = email
	return true, nil
}

func (m *mapStore) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	email, ok := m.emails[id]
	if !ok {
		return nil, storage.ErrEmailNotFound
	}
	return email, nil
}

func (m *mapStore) GetEmailRecipient(ctx context.Context, id string) (string, error) {
	email, ok := m.emails[id]
	if !ok {
		return "", storage.ErrEmailNotFound
	}
	return email.MessageTo, nil
}

func (m *mapStore) ListEmailsByRecipient(ctx context.Context, recipient string, limit int) ([]domain.Email, error) {
	out := make([]domain.Email, 0)
	for _, email := range m.emails {
		if email.MessageTo == recipient {
			out = append(out, *email)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mapStore) CountEmails(ctx context.Context) (int64, error) {
	return int64(len(m.emails)), nil
}

func (m *mapStore) ImportEmails(ctx context.Context, emails []*domain.Email) (storage.ImportResult, error) {
	var result storage.ImportResult
	for _, email := range emails {
		stored, _ := m.SaveEmail(ctx, email)
		if stored {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

func (m *mapStore) Close() error { return nil }
func (m *mapStore) Health(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, store storage.EmailStore) (*gin.Engine, *jwtpkg.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetrics()
	jwtManager := jwtpkg.NewManager(testJWTSecret, "vmail", 2*time.Hour)

	router := NewRouter(RouterDependencies{
		Config: &config.Config{
			Mailbox: config.MailboxConfig{Domain: "vmail.dev", TokenExpiry: 2 * time.Hour},
			CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
		},
		EmailService: service.NewEmailService(store, zap.NewNop(), metrics),
		JWTManager:   jwtManager,
		Turnstile:    auth.NewTurnstileVerifier(""), // 未配置密钥，校验直接放行
		Metrics:      metrics,
		Logger:       zap.NewNop(),
	})
	return router, jwtManager
}

func storedEmail(id, recipient string, createdAt time.Time) *domain.Email {
	subject := "subject " + id
	return &domain.Email{
		ID:          id,
		MessageFrom: "sender@x.com",
		MessageTo:   recipient,
		Headers:     domain.HeaderList{},
		From:        domain.EmailAddress{Address: "sender@x.com"},
		ReplyTo:     domain.AddressList{},
		To:          domain.AddressList{{Address: recipient}},
		Cc:          domain.AddressList{},
		Bcc:         domain.AddressList{},
		Subject:     &subject,
		MessageID:   "<" + id + "@x.com>",
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func authGet(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateMailbox(t *testing.T) {
	router, jwtManager := newTestRouter(t, newMapStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/mailbox", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Mailbox   string `json:"mailbox"`
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Regexp(t, `^[a-z]+\.[a-z]+\d{2}@vmail\.dev$`, body.Mailbox)
	assert.Equal(t, int64(7200), body.ExpiresIn)

	claims, err := jwtManager.ValidateToken(body.Token)
	require.NoError(t, err)
	assert.Equal(t, body.Mailbox, claims.Mailbox)
}

func TestListMailsRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, newMapStore())

	rec := authGet(router, "/mails", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = authGet(router, "/mails", "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListMailsScopedToTokenMailbox(t *testing.T) {
	store := newMapStore()
	now := time.Now().UTC()
	store.emails["m1"] = storedEmail("m1", "alice.reed01@vmail.dev", now)
	store.emails["m2"] = storedEmail("m2", "alice.reed01@vmail.dev", now.Add(time.Minute))
	store.emails["m3"] = storedEmail("m3", "other.box99@vmail.dev", now)

	router, jwtManager := newTestRouter(t, store)
	token, err := jwtManager.GenerateToken("alice.reed01@vmail.dev")
	require.NoError(t, err)

	rec := authGet(router, "/mails", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var emails []domain.Email
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &emails))
	require.Len(t, emails, 2)
	// created_at 降序
	assert.Equal(t, "m2", emails[0].ID)
	assert.Equal(t, "m1", emails[1].ID)
}

func TestListMailsEmptyIsJSONArray(t *testing.T) {
	router, jwtManager := newTestRouter(t, newMapStore())
	token, err := jwtManager.GenerateToken("empty.box00@vmail.dev")
	require.NoError(t, err)

	rec := authGet(router, "/mails", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

func TestListMailsLimit(t *testing.T) {
	store := newMapStore()
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		store.emails[id] = storedEmail(id, "box@vmail.dev", now)
		now = now.Add(time.Second)
	}

	router, jwtManager := newTestRouter(t, store)
	token, err := jwtManager.GenerateToken("box@vmail.dev")
	require.NoError(t, err)

	rec := authGet(router, "/mails?limit=2", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var emails []domain.Email
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &emails))
	assert.Len(t, emails, 2)
}

func TestGetMail(t *testing.T) {
	store := newMapStore()
	store.emails["m1"] = storedEmail("m1", "alice.reed01@vmail.dev", time.Now().UTC())

	router, jwtManager := newTestRouter(t, store)
	owner, err := jwtManager.GenerateToken("alice.reed01@vmail.dev")
	require.NoError(t, err)
	stranger, err := jwtManager.GenerateToken("other.box99@vmail.dev")
	require.NoError(t, err)

	t.Run("所有者可以读取", func(t *testing.T) {
		rec := authGet(router, "/mails/m1", owner)
		require.Equal(t, http.StatusOK, rec.Code)
		var email domain.Email
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &email))
		assert.Equal(t, "m1", email.ID)
	})

	t.Run("他人的令牌得到 404", func(t *testing.T) {
		rec := authGet(router, "/mails/m1", stranger)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("不存在的 id 得到 404", func(t *testing.T) {
		rec := authGet(router, "/mails/missing", owner)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, newMapStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
