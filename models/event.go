package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventSessionStart     = "session_start"
	EventSessionEnd       = "session_end"
	EventPageView         = "page_view"
	EventScrollMilestone  = "scroll_milestone"
	EventClick            = "click"
	EventRageClick        = "rage_click"
	EventDeadClick        = "dead_click"
	EventCartAdd          = "cart_add"
	EventCartRemove       = "cart_remove"
	EventCartStatus       = "cart_status_changed"
	EventVisibilityChange = "visibility_change"
	EventFormStart        = "form_start"
	EventCopy             = "copy"
	EventPaste            = "paste"
)

// TimelineEvent is an immutable record of a discrete occurrence in a session.
// EventID is the sink's idempotency key: storing the same event twice is a no-op.
type TimelineEvent struct {
	EventID   string          `json:"event_id" ch:"event_id"`
	UserID    string          `json:"user_id" ch:"user_id"`
	SessionID string          `json:"session_id" ch:"session_id"`
	Timestamp time.Time       `json:"timestamp" ch:"timestamp"`
	EventType string          `json:"event_type" ch:"event_type"`
	Message   string          `json:"message" ch:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty" ch:"metadata"`
}

// NewTimelineEvent stamps a fresh event id. A metadata value that cannot be
// encoded is dropped rather than failing the event.
func NewTimelineEvent(userID, sessionID, eventType, message string, at time.Time, metadata any) TimelineEvent {
	ev := TimelineEvent{
		EventID:   uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: at.UTC(),
		EventType: eventType,
		Message:   message,
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			ev.Metadata = raw
		}
	}
	return ev
}

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}
