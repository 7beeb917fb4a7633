package notification

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/config"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	got []models.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func execution() models.Execution {
	records := int64(10)
	return models.Execution{ID: 7, JobID: 3, JobName: "orders", Trigger: models.TriggerManual, RecordsProcessed: &records}
}

func TestServiceFansOut(t *testing.T) {
	first := &recordingNotifier{err: errors.New("unreachable")}
	second := &recordingNotifier{}
	svc := NewService(zerolog.Nop(), first, nil, second)

	require.NoError(t, svc.NotifyExecutionSucceeded(context.Background(), execution()))

	require.Len(t, first.got, 1)
	require.Len(t, second.got, 1)
	n := second.got[0]
	assert.Equal(t, models.NotificationEventExecutionSucceeded, n.EventType)
	assert.Equal(t, "Execution succeeded: orders", n.Title)
	assert.EqualValues(t, 10, n.Metadata["records_processed"])
	assert.NotEmpty(t, n.ID)
}

func TestServiceFailureEvent(t *testing.T) {
	rec := &recordingNotifier{}
	svc := NewService(zerolog.Nop(), rec)

	require.NoError(t, svc.NotifyExecutionFailed(context.Background(), execution(), "  "))
	require.Len(t, rec.got, 1)
	assert.Equal(t, models.NotificationSeverityError, rec.got[0].Severity)
	assert.Equal(t, "Unknown error", rec.got[0].Metadata["reason"])

	_, err := svc.Publish(context.Background(), Event{})
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(zerolog.Nop(), NewLogNotifier(zerolog.New(&buf)))

	require.NoError(t, svc.NotifyExecutionStarted(context.Background(), execution()))
	assert.Contains(t, buf.String(), `"event_type":"execution_started"`)
	assert.Contains(t, buf.String(), `"job_name":"orders"`)
}

func TestEmailNotifier(t *testing.T) {
	_, err := NewEmailNotifier(config.EmailConfig{From: "x@example.com"}, zerolog.Nop())
	assert.Error(t, err)

	n, err := NewEmailNotifier(config.EmailConfig{
		From:       "factory@example.com",
		SMTPHost:   "smtp.example.com",
		Recipients: []string{" ops@example.com ", ""},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 587, n.port)

	var sent []string
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, addr+"|"+strings.Join(to, ",")+"|"+string(msg))
		return nil
	}

	svc := NewService(zerolog.Nop(), n)
	require.NoError(t, svc.NotifyExecutionSucceeded(context.Background(), execution()))
	assert.Empty(t, sent, "successes are not mailed by default")

	require.NoError(t, svc.NotifyExecutionFailed(context.Background(), execution(), "disk full"))
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "smtp.example.com:587|ops@example.com|"))
	assert.Contains(t, sent[0], "Subject: [DataFactory] Execution failed: orders")
	assert.Contains(t, sent[0], "disk full")
}
