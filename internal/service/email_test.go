package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/storage"
)

// fakeStore 可编程的存储桩。
type fakeStore struct {
	saveStored bool
	saveErr    error
	getEmail   *domain.Email
	getErr     error
	recipient  string
	recErr     error
	list       []domain.Email
	listErr    error
	count      int64
	countErr   error
	importRes  storage.ImportResult
	importErr  error
}

func (f *fakeStore) Kind() config.DatabaseKind { return config.DatabaseTurso }

func (f *fakeStore) SaveEmail(ctx context.Context, email *domain.Email) (bool, error) {
	return f.saveStored, f.saveErr
}

func (f *fakeStore) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	return f.getEmail, f.getErr
}

func (f *fakeStore) GetEmailRecipient(ctx context.Context, id string) (string, error) {
	return f.recipient, f.recErr
}

func (f *fakeStore) ListEmailsByRecipient(ctx context.Context, recipient string, limit int) ([]domain.Email, error) {
	return f.list, f.listErr
}

func (f *fakeStore) CountEmails(ctx context.Context) (int64, error) {
	return f.count, f.countErr
}

func (f *fakeStore) ImportEmails(ctx context.Context, emails []*domain.Email) (storage.ImportResult, error) {
	return f.importRes, f.importErr
}

func (f *fakeStore) Close() error { return nil }
func (f *fakeStore) Health(ctx context.Context) error { return nil }

func newTestService(store storage.EmailStore) (*EmailService, *monitoring.Metrics) {
	metrics := monitoring.NewMetrics()
	return NewEmailService(store, zap.NewNop(), metrics), metrics
}

func sampleEmail() *domain.Email {
	now := time.Now().UTC()
	return &domain.Email{
		ID:          "id-1",
		MessageFrom: "a@x.com",
		MessageTo:   "box1@domain",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestInsertStored(t *testing.T) {
	svc, metrics := newTestService(&fakeStore{saveStored: true})

	assert.True(t, svc.Insert(context.Background(), sampleEmail()))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EmailsStored))
}

func TestInsertDuplicate(t *testing.T) {
	svc, metrics := newTestService(&fakeStore{saveStored: false})

	assert.False(t, svc.Insert(context.Background(), sampleEmail()))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EmailsDuplicate))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.EmailsStored))
}

func TestInsertStorageErrorIsNeutralized(t *testing.T) {
	svc, metrics := newTestService(&fakeStore{saveErr: errors.New("connection reset")})

	// 后端故障不向调用方传播，只进指标
	assert.False(t, svc.Insert(context.Background(), sampleEmail()))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("turso", "save")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.EmailsDropped.WithLabelValues(monitoring.DropStageStorage)))
}

func TestGetByIDNotFound(t *testing.T) {
	svc, metrics := newTestService(&fakeStore{getErr: storage.ErrEmailNotFound})

	assert.Nil(t, svc.GetByID(context.Background(), "missing"))
	// 未找到不是后端故障，不应计入错误指标
	assert.Equal(t, float64(0),
		testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("turso", "get")))
}

func TestGetByIDBackendError(t *testing.T) {
	svc, metrics := newTestService(&fakeStore{getErr: errors.New("timeout")})

	assert.Nil(t, svc.GetByID(context.Background(), "id-1"))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("turso", "get")))
}

func TestGetRecipientOf(t *testing.T) {
	svc, _ := newTestService(&fakeStore{recipient: "box1@domain"})
	assert.Equal(t, "box1@domain", svc.GetRecipientOf(context.Background(), "id-1"))

	svc, _ = newTestService(&fakeStore{recErr: storage.ErrEmailNotFound})
	assert.Empty(t, svc.GetRecipientOf(context.Background(), "missing"))
}

func TestListByRecipientNeverNil(t *testing.T) {
	t.Run("后端故障返回空列表", func(t *testing.T) {
		svc, metrics := newTestService(&fakeStore{listErr: errors.New("timeout")})

		emails := svc.ListByRecipient(context.Background(), "box1@domain", 0)
		assert.NotNil(t, emails)
		assert.Empty(t, emails)
		assert.Equal(t, float64(1),
			testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("turso", "list")))
	})

	t.Run("后端返回 nil 切片时修正为空列表", func(t *testing.T) {
		svc, _ := newTestService(&fakeStore{list: nil})

		emails := svc.ListByRecipient(context.Background(), "box1@domain", 0)
		assert.NotNil(t, emails)
	})
}

func TestCountBackendError(t *testing.T) {
	svc, _ := newTestService(&fakeStore{countErr: errors.New("timeout")})
	assert.Equal(t, int64(0), svc.Count(context.Background()))
}

func TestImportPassesErrorsThrough(t *testing.T) {
	wantErr := errors.New("constraint violation")
	svc, _ := newTestService(&fakeStore{importErr: wantErr})

	_, err := svc.Import(context.Background(), []*domain.Email{sampleEmail()})
	require.ErrorIs(t, err, wantErr)

	svc, _ = newTestService(&fakeStore{importRes: storage.ImportResult{Inserted: 2, Skipped: 1}})
	result, err := svc.Import(context.Background(), []*domain.Email{sampleEmail()})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Skipped)
}
