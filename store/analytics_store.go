package store

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"mabletask/tracker/database"
	"mabletask/tracker/models"
	"mabletask/tracker/utils"
)

// AnalyticsStore writes timeline events to ClickHouse and answers the stats
// queries over them.
type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

// InsertTimelineEvents appends a batch. Redelivered events share their
// event_id and collapse in the ReplacingMergeTree.
func (s *AnalyticsStore) InsertTimelineEvents(ctx context.Context, siteID int, events []models.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO timeline_events (
			event_id, site_id, user_id, session_id, timestamp, event_type, message, metadata
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		metadata := string(event.Metadata)
		if metadata == "" {
			metadata = "{}"
		}
		if err := batch.Append(
			event.EventID,
			int32(siteID),
			event.UserID,
			event.SessionID,
			event.Timestamp,
			event.EventType,
			event.Message,
			metadata,
		); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append event %s: %w", event.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Inserted %d timeline events for site %d.", len(events), siteID)
	return nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, siteID int, interval string, start, end time.Time, eventTypeFilter string) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []any{int32(siteID), start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE site_id = ? AND timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM timeline_events FINAL
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket time.Time
			count      uint64
			eventType  string
			current    EventTypeCountByTime
		)
		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventType); err != nil {
				log.Printf("Error scanning row for event counts over time (with type filter): %v", err)
				continue
			}
			current.EventType = &eventType
		} else if err := rows.Scan(&timeBucket, &count); err != nil {
			log.Printf("Error scanning row for event counts over time: %v", err)
			continue
		}
		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetUniqueVisitorsOverTime(ctx context.Context, siteID int, interval string, start, end time.Time) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(user_id) AS unique_visitors
		FROM timeline_events
		WHERE site_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, int32(siteID), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var visitors uint64
		if err := rows.Scan(&timeBucket, &visitors); err != nil {
			log.Printf("Error scanning row for unique visitors: %v", err)
			continue
		}
		results = append(results, EventTypeCountByTime{Time: timeBucket, Count: visitors})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetTopNPagePaths(ctx context.Context, siteID int, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT page_path, count() AS view_count
		FROM timeline_events FINAL
		WHERE site_id = ? AND event_type = 'page_view' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, int32(siteID), start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var pagePath string
		var count uint64
		if err := rows.Scan(&pagePath, &count); err != nil {
			log.Printf("Error scanning row for top page paths: %v", err)
			continue
		}
		results = append(results, models.TopPathResult{PagePath: pagePath, Count: count})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}
	return results, nil
}

// GetAverageMetadataValue averages a numeric metadata field, e.g. the
// cart_value of cart_add events. No matching rows averages to 0.
func (s *AnalyticsStore) GetAverageMetadataValue(ctx context.Context, siteID int, eventType, key string, start, end time.Time) (float64, error) {
	if key == "" {
		return 0, fmt.Errorf("metadata key for average calculation cannot be empty")
	}

	query := `
		SELECT avg(JSONExtractFloat(metadata, ?))
		FROM timeline_events FINAL
		WHERE site_id = ? AND event_type = ? AND timestamp >= ? AND timestamp <= ?
	`
	var avgValue float64
	if err := s.DB.Conn.QueryRow(ctx, query, key, int32(siteID), eventType, start, end).Scan(&avgValue); err != nil {
		return 0, fmt.Errorf("failed to query average of metadata field %q: %w", key, err)
	}

	// avg over no rows is NaN, which JSON cannot carry.
	if math.IsNaN(avgValue) {
		return 0, nil
	}
	return avgValue, nil
}
