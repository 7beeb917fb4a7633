package models

import "time"

type NotificationSeverity string

const (
	NotificationSeverityInfo  NotificationSeverity = "info"
	NotificationSeverityError NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventExecutionStarted   NotificationEvent = "execution_started"
	NotificationEventExecutionSucceeded NotificationEvent = "execution_succeeded"
	NotificationEventExecutionFailed    NotificationEvent = "execution_failed"
)

type Notification struct {
	ID        string                 `json:"id"`
	EventType NotificationEvent      `json:"event_type"`
	Severity  NotificationSeverity   `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
