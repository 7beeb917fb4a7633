package notification

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// LogNotifier writes every notification to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("notifier", "log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, notif models.Notification) error {
	evt := n.logger.Info()
	if notif.Severity == models.NotificationSeverityError {
		evt = n.logger.Warn()
	}
	evt.Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Fields(notif.Metadata).
		Msg(notif.Message)
	return nil
}

func (n *LogNotifier) String() string {
	return "LogNotifier"
}

func sanitizeRecipients(recipients []string) []string {
	var cleaned []string
	for _, recipient := range recipients {
		if r := strings.TrimSpace(recipient); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return cleaned
}

func logNotifyError(logger zerolog.Logger, err error, channel string, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
