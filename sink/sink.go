// Package sink defines the remote store the tracker ships to and an HTTP
// client for the ingest API.
package sink

import (
	"context"
	"time"

	"mabletask/tracker/models"
)

// Sink is the remote store. Every call may fail and is retried by the
// caller, so each must be idempotent: users upsert on UserID, sessions are
// inserted only if absent, timeline events are keyed by EventID and profile
// updates carry their own timestamp.
type Sink interface {
	UpsertUser(ctx context.Context, v models.Visitor) error
	InsertSessionIfAbsent(ctx context.Context, s models.Session) error
	UpdateSessionProfile(ctx context.Context, sessionID string, profile models.BehaviorSnapshot, updatedAt time.Time) error
	InsertTimelineEvents(ctx context.Context, events []models.TimelineEvent) error
}

// TimelineBatch is the request body of a timeline insert.
type TimelineBatch struct {
	Events []models.TimelineEvent `json:"events" binding:"required,dive"`
}
