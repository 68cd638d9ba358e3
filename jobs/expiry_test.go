package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearsight-optics/clearsight/internal/notify"
)

type mockExpirer struct {
	lastLimit int
	expired   int64
	err       error
}

func (m *mockExpirer) ExpireDue(ctx context.Context, asOf time.Time, limit int) (int64, error) {
	m.lastLimit = limit
	return m.expired, m.err
}

func TestHandleExpireQuotations(t *testing.T) {
	expirer := &mockExpirer{expired: 3}
	handler := HandleExpireQuotations(expirer, nil)

	task, err := NewExpireQuotationsTask(250)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, 250, expirer.lastLimit)
}

func TestHandleExpireQuotationsDefaultBatch(t *testing.T) {
	expirer := &mockExpirer{}
	handler := HandleExpireQuotations(expirer, nil)

	task, err := NewExpireQuotationsTask(0)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, 500, expirer.lastLimit)
}

func TestHandleExpireQuotationsPropagatesError(t *testing.T) {
	expirer := &mockExpirer{err: errors.New("db down")}
	handler := HandleExpireQuotations(expirer, nil)

	task, err := NewExpireQuotationsTask(10)
	require.NoError(t, err)

	assert.Error(t, handler(context.Background(), task))
}

func TestHandleExpireQuotationsBadPayload(t *testing.T) {
	expirer := &mockExpirer{}
	handler := HandleExpireQuotations(expirer, nil)

	err := handler(context.Background(), asynq.NewTask(TaskTypeExpireQuotations, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestMailerDropsInvalidRecipient(t *testing.T) {
	mailer := NewMailer(MailerConfig{Host: "127.0.0.1", Port: 1025, From: "no-reply@clearsight.local"}, nil)

	n := notify.New(nil, "not an address", notify.TypeQuotationApproved, map[string]any{
		"quotation_number": "QUO-20260815-4821",
	})
	task, err := notify.NewSendTask(n)
	require.NoError(t, err)

	// Rejected at message construction, before any SMTP dial.
	assert.ErrorIs(t, mailer.HandleSendNotification(context.Background(), task), asynq.SkipRetry)
}

func TestMailerDropsMissingEmail(t *testing.T) {
	mailer := NewMailer(MailerConfig{Host: "127.0.0.1", Port: 1025, From: "no-reply@clearsight.local"}, nil)

	n := notify.New(nil, "", notify.TypeQuotationApproved, nil)
	task, err := notify.NewSendTask(n)
	require.NoError(t, err)

	assert.ErrorIs(t, mailer.HandleSendNotification(context.Background(), task), asynq.SkipRetry)
}

func TestRenderNotification(t *testing.T) {
	n := notify.New(nil, "jordan@example.com", notify.TypeQuotationConverted, map[string]any{
		"quotation_number": "QUO-20260815-4821",
		"order_number":     "ORD-20260830-1234",
	})

	subject, body := renderNotification(n)
	assert.Contains(t, subject, "ORD-20260830-1234")
	assert.Contains(t, body, "QUO-20260815-4821")

	n.Type = "something.else"
	subject, _ = renderNotification(n)
	assert.NotEmpty(t, subject)
}
