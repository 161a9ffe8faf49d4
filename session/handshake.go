package session

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"

	"mabletask/tracker/models"
	"mabletask/tracker/sink"
)

// handshake makes the sink ready for this page load: the visitor is
// upserted and, for a new session, the session record is inserted. Both
// calls are idempotent so the whole step is retried as a unit.
func handshake(ctx context.Context, s sink.Sink, v models.Visitor, sess models.Session, fresh bool, attempts uint, bo backoff.BackOff) error {
	op := func() (struct{}, error) {
		if err := s.UpsertUser(ctx, v); err != nil {
			return struct{}{}, fmt.Errorf("upsert user: %w", err)
		}
		if fresh {
			if err := s.InsertSessionIfAbsent(ctx, sess); err != nil {
				return struct{}{}, fmt.Errorf("insert session: %w", err)
			}
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(attempts))
	return err
}
