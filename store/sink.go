package store

import (
	"context"
	"log"
	"time"

	"mabletask/tracker/models"
)

// Mirror receives timeline batches after they are stored.
type Mirror interface {
	PublishTimeline(ctx context.Context, siteID int, events []models.TimelineEvent) error
}

// SiteSink is the server side of the tracker's sink for one site: users and
// sessions go to Postgres, timeline events to ClickHouse and, when a mirror
// is configured, on to Kafka.
type SiteSink struct {
	SiteID    int
	Visitors  *VisitorStore
	Analytics *AnalyticsStore
	Mirror    Mirror
}

func (s *SiteSink) UpsertUser(ctx context.Context, v models.Visitor) error {
	return s.Visitors.UpsertVisitor(ctx, s.SiteID, v)
}

func (s *SiteSink) InsertSessionIfAbsent(ctx context.Context, sess models.Session) error {
	return s.Visitors.InsertSessionIfAbsent(ctx, s.SiteID, sess)
}

func (s *SiteSink) UpdateSessionProfile(ctx context.Context, sessionID string, profile models.BehaviorSnapshot, updatedAt time.Time) error {
	updated, err := s.Visitors.UpdateSessionProfile(ctx, s.SiteID, sessionID, profile, updatedAt)
	if err != nil {
		return err
	}
	if !updated {
		log.Printf("Profile update for session %s skipped (unknown session or newer profile stored).", sessionID)
	}
	return nil
}

// InsertTimelineEvents stores the batch. Mirror failures are logged only:
// the batch is already durable and the tracker must not resend it.
func (s *SiteSink) InsertTimelineEvents(ctx context.Context, events []models.TimelineEvent) error {
	if err := s.Analytics.InsertTimelineEvents(ctx, s.SiteID, events); err != nil {
		return err
	}
	if s.Mirror != nil && len(events) > 0 {
		if err := s.Mirror.PublishTimeline(ctx, s.SiteID, events); err != nil {
			log.Printf("Timeline mirror failed for site %d (%d events): %v", s.SiteID, len(events), err)
		}
	}
	return nil
}
