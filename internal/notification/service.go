package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/models"
)

type Event struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

// Service fans execution events out to the configured notifiers.
// Delivery failures are logged and never returned to the run.
type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyExecutionStarted(ctx context.Context, exec models.Execution) error
	NotifyExecutionSucceeded(ctx context.Context, exec models.Execution) error
	NotifyExecutionFailed(ctx context.Context, exec models.Execution, reason string) error
}

type service struct {
	logger    zerolog.Logger
	notifiers []Notifier
	now       func() time.Time
}

func NewService(logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
		now:       time.Now,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}

	notif := models.Notification{
		ID:        uuid.NewString(),
		EventType: evt.Event,
		Severity:  evt.Severity,
		Title:     title,
		Message:   strings.TrimSpace(evt.Message),
		Metadata:  evt.Metadata,
		CreatedAt: s.now().UTC(),
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

// executionEvent describes exec in the shape every notifier receives.
func executionEvent(kind models.NotificationEvent, exec models.Execution) Event {
	evt := Event{
		Event:    kind,
		Severity: models.NotificationSeverityInfo,
		Metadata: map[string]interface{}{
			"job_id":       exec.JobID,
			"job_name":     exec.JobName,
			"execution_id": exec.ID,
			"trigger":      string(exec.Trigger),
		},
	}
	switch kind {
	case models.NotificationEventExecutionStarted:
		evt.Title = "Execution started: " + exec.JobName
		evt.Message = fmt.Sprintf("Job %s execution %d has started (%s).", exec.JobName, exec.ID, exec.Trigger)
	case models.NotificationEventExecutionSucceeded:
		evt.Title = "Execution succeeded: " + exec.JobName
		evt.Message = fmt.Sprintf("Job %s execution %d completed successfully.", exec.JobName, exec.ID)
		if exec.RecordsProcessed != nil {
			evt.Metadata["records_processed"] = *exec.RecordsProcessed
		}
	case models.NotificationEventExecutionFailed:
		evt.Severity = models.NotificationSeverityError
		evt.Title = "Execution failed: " + exec.JobName
	}
	return evt
}

func (s *service) NotifyExecutionStarted(ctx context.Context, exec models.Execution) error {
	_, err := s.Publish(ctx, executionEvent(models.NotificationEventExecutionStarted, exec))
	return err
}

func (s *service) NotifyExecutionSucceeded(ctx context.Context, exec models.Execution) error {
	_, err := s.Publish(ctx, executionEvent(models.NotificationEventExecutionSucceeded, exec))
	return err
}

func (s *service) NotifyExecutionFailed(ctx context.Context, exec models.Execution, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Unknown error"
	}
	evt := executionEvent(models.NotificationEventExecutionFailed, exec)
	evt.Message = fmt.Sprintf("Job %s execution %d failed: %s", exec.JobName, exec.ID, reason)
	evt.Metadata["reason"] = reason
	_, err := s.Publish(ctx, evt)
	return err
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
