package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/config"
	"github.com/stanstork/datafactory/internal/models"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails execution events to a fixed recipient list. Unless
// on_success is set only failures are sent.
type EmailNotifier struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
	onSuccess  bool
	send       sendFunc
	logger     zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) (*EmailNotifier, error) {
	n := &EmailNotifier{
		host:       strings.TrimSpace(cfg.SMTPHost),
		port:       cfg.SMTPPort,
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		from:       strings.TrimSpace(cfg.From),
		recipients: sanitizeRecipients(cfg.Recipients),
		onSuccess:  cfg.OnSuccess,
		send:       smtp.SendMail,
		logger:     logger.With().Str("notifier", "email").Logger(),
	}
	switch {
	case n.host == "":
		return nil, fmt.Errorf("smtp_host is required for email notifier")
	case n.from == "":
		return nil, fmt.Errorf("from is required for email notifier")
	}
	if n.port == 0 {
		n.port = 587
	}
	return n, nil
}

func (n *EmailNotifier) wants(notif models.Notification) bool {
	if len(n.recipients) == 0 {
		return false
	}
	return notif.Severity == models.NotificationSeverityError || n.onSuccess
}

// message renders a plain-text mail with metadata listed one key per line in
// key order.
func (n *EmailNotifier) message(notif models.Notification) []byte {
	title := strings.TrimSpace(notif.Title)
	if title == "" {
		title = string(notif.EventType)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.recipients, ","))
	fmt.Fprintf(&b, "Subject: [DataFactory] %s\r\n", title)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")

	b.WriteString(strings.TrimSpace(notif.Message))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "event: %s\nseverity: %s\nat: %s\n",
		notif.EventType, notif.Severity, notif.CreatedAt.Format(time.RFC3339))

	keys := make([]string, 0, len(notif.Metadata))
	for k := range notif.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, notif.Metadata[k])
	}
	return []byte(b.String())
}

func (n *EmailNotifier) Notify(_ context.Context, notif models.Notification) error {
	if !n.wants(notif) {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	if err := n.send(addr, auth, n.from, n.recipients, n.message(notif)); err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Strs("recipients", n.recipients).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}
