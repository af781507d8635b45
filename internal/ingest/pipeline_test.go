package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
	"vmail/backend/internal/storage"
)

// recordingStore 记录写入并可注入故障。
type recordingStore struct {
	saved   []*domain.Email
	saveErr error
}

func (r *recordingStore) Kind() config.DatabaseKind { return config.DatabaseTurso }

func (r *recordingStore) SaveEmail(ctx context.Context, email *domain.Email) (bool, error) {
	if r.saveErr != nil {
		return false, r.saveErr
	}
	r.saved = append(r.saved, email)
	return true, nil
}

func (r *recordingStore) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	return nil, storage.ErrEmailNotFound
}

func (r *recordingStore) GetEmailRecipient(ctx context.Context, id string) (string, error) {
	return "", storage.ErrEmailNotFound
}

func (r *recordingStore) ListEmailsByRecipient(ctx context.Context, recipient string, limit int) ([]domain.Email, error) {
	return []domain.Email{}, nil
}

func (r *recordingStore) CountEmails(ctx context.Context) (int64, error) {
	return int64(len(r.saved)), nil
}

func (r *recordingStore) ImportEmails(ctx context.Context, emails []*domain.Email) (storage.ImportResult, error) {
	return storage.ImportResult{}, nil
}

func (r *recordingStore) Close() error { return nil }
func (r *recordingStore) Health(ctx context.Context) error { return nil }

func newTestPipeline(store storage.EmailStore) (*Pipeline, *monitoring.Metrics) {
	metrics := monitoring.NewMetrics()
	emails := service.NewEmailService(store, zap.NewNop(), metrics)
	pipeline := NewPipeline(NewNormalizer("vmail.generated"), emails, zap.NewNop(), metrics, 5*time.Second)
	return pipeline, metrics
}

const rawMessage = "From: \"Alice\" <a@x.com>\r\n" +
	"To: box1@domain\r\n" +
	"Subject: Hi\r\n" +
	"Message-Id: <msg-1@x.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello body\r\n"

func TestIngestStoresMessage(t *testing.T) {
	store := &recordingStore{}
	pipeline, metrics := newTestPipeline(store)

	pipeline.Ingest(context.Background(), "env@x.com", "box1@domain", []byte(rawMessage))

	assert.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, "env@x.com", saved.MessageFrom)
	assert.Equal(t, "box1@domain", saved.MessageTo)
	assert.Equal(t, "<msg-1@x.com>", saved.MessageID)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EmailsReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EmailsStored))
}

func TestIngestDropsUnparsableMessage(t *testing.T) {
	store := &recordingStore{}
	pipeline, metrics := newTestPipeline(store)

	pipeline.Ingest(context.Background(), "env@x.com", "box1@domain",
		[]byte("\x00\x01 definitely not mail"))

	assert.Empty(t, store.saved)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.EmailsDropped.WithLabelValues(monitoring.DropStageParse)))
}

func TestIngestDropsOnStorageError(t *testing.T) {
	store := &recordingStore{saveErr: errors.New("backend down")}
	pipeline, metrics := newTestPipeline(store)

	// 后端故障既不 panic 也不向调用方返回任何东西
	pipeline.Ingest(context.Background(), "env@x.com", "box1@domain", []byte(rawMessage))

	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.EmailsDropped.WithLabelValues(monitoring.DropStageStorage)))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("turso", "save")))
}

func TestIngestEachRecipientGetsOwnRecord(t *testing.T) {
	store := &recordingStore{}
	pipeline, _ := newTestPipeline(store)

	pipeline.Ingest(context.Background(), "env@x.com", "box1@domain", []byte(rawMessage))
	pipeline.Ingest(context.Background(), "env@x.com", "box2@domain", []byte(rawMessage))

	assert.Len(t, store.saved, 2)
	assert.NotEqual(t, store.saved[0].ID, store.saved[1].ID)
	assert.Equal(t, "box1@domain", store.saved[0].MessageTo)
	assert.Equal(t, "box2@domain", store.saved[1].MessageTo)
}
