package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mabletask/tracker/models"
)

// VisitorStore keeps visitors and sessions in Postgres. Every write is
// idempotent so tracker retries are harmless.
type VisitorStore struct {
	db *sql.DB
}

func NewVisitorStore(db *sql.DB) *VisitorStore {
	return &VisitorStore{db: db}
}

// UpsertVisitor inserts the visitor or refreshes its last-seen data. The
// first-seen time of an existing visitor is kept.
func (s *VisitorStore) UpsertVisitor(ctx context.Context, siteID int, v models.Visitor) error {
	device, err := json.Marshal(v.Device)
	if err != nil {
		return fmt.Errorf("failed to encode device: %w", err)
	}
	query := `
		INSERT INTO visitors (site_id, user_id, first_seen_at, last_seen_at, is_returning, device)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (site_id, user_id) DO UPDATE SET
			last_seen_at = GREATEST(visitors.last_seen_at, EXCLUDED.last_seen_at),
			is_returning = visitors.is_returning OR EXCLUDED.is_returning,
			device       = EXCLUDED.device;
	`
	if _, err := s.db.ExecContext(ctx, query, siteID, v.UserID, v.FirstSeenAt, v.LastSeenAt, v.IsReturning, device); err != nil {
		return fmt.Errorf("failed to upsert visitor %s: %w", v.UserID, err)
	}
	return nil
}

// InsertSessionIfAbsent is a no-op when the session already exists.
func (s *VisitorStore) InsertSessionIfAbsent(ctx context.Context, siteID int, sess models.Session) error {
	sessCtx, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("failed to encode session context: %w", err)
	}
	query := `
		INSERT INTO sessions (site_id, session_id, user_id, started_at, context)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (site_id, session_id) DO NOTHING;
	`
	if _, err := s.db.ExecContext(ctx, query, siteID, sess.SessionID, sess.UserID, sess.StartedAt, sessCtx); err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.SessionID, err)
	}
	return nil
}

// UpdateSessionProfile stores a profile snapshot unless a newer one is
// already stored, so a late retry never overwrites fresher data. It reports
// whether the row changed.
func (s *VisitorStore) UpdateSessionProfile(ctx context.Context, siteID int, sessionID string, profile models.BehaviorSnapshot, updatedAt time.Time) (bool, error) {
	encoded, err := json.Marshal(profile)
	if err != nil {
		return false, fmt.Errorf("failed to encode profile: %w", err)
	}
	query := `
		UPDATE sessions
		SET profile = $3, profile_updated_at = $4
		WHERE site_id = $1 AND session_id = $2
			AND (profile_updated_at IS NULL OR profile_updated_at <= $4);
	`
	res, err := s.db.ExecContext(ctx, query, siteID, sessionID, encoded, updatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update profile for session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}
