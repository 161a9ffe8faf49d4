package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mabletask/tracker/middleware"
	"mabletask/tracker/models"
	"mabletask/tracker/store"
	"mabletask/tracker/utils"
)

// StatsRepository answers the dashboard queries over a site's timeline.
type StatsRepository interface {
	GetEventCountsOverTime(ctx context.Context, siteID int, interval string, start, end time.Time, eventType string) ([]store.EventTypeCountByTime, error)
	GetUniqueVisitorsOverTime(ctx context.Context, siteID int, interval string, start, end time.Time) ([]store.EventTypeCountByTime, error)
	GetTopNPagePaths(ctx context.Context, siteID int, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
	GetAverageMetadataValue(ctx context.Context, siteID int, eventType, key string, start, end time.Time) (float64, error)
}

const (
	defaultTopPaths = 10
	maxTopPaths     = 100
)

type StatsHandlers struct {
	Stats StatsRepository
	Now   func() time.Time
}

func NewStatsHandlers(stats StatsRepository) *StatsHandlers {
	return &StatsHandlers{Stats: stats, Now: time.Now}
}

// timeRange reads start and end, answering 400 itself when they are invalid.
func (h *StatsHandlers) timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time range. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)", "details": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *StatsHandlers) interval(c *gin.Context) (string, bool) {
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter must be one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return "", false
	}
	return interval, true
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	interval, ok := h.interval(c)
	if !ok {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetEventCountsOverTime(ctx, c.GetInt(middleware.SiteIDKey), interval, start, end, c.Query("eventType"))
	if err != nil {
		log.Printf("Error getting event counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetUniqueVisitorsOverTime(c *gin.Context) {
	interval, ok := h.interval(c)
	if !ok {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetUniqueVisitorsOverTime(ctx, c.GetInt(middleware.SiteIDKey), interval, start, end)
	if err != nil {
		log.Printf("Error getting unique visitors over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique visitor statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopNPagePaths(c *gin.Context) {
	limit := uint64(defaultTopPaths)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 || n > maxTopPaths {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetTopNPagePaths(ctx, c.GetInt(middleware.SiteIDKey), start, end, limit)
	if err != nil {
		log.Printf("Error getting top page paths: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page paths"})
		return
	}
	c.JSON(http.StatusOK, results)
}

// GetAverageMetadataValue averages a numeric metadata field, such as
// cart_value on cart_add events or duration_ms on session_end.
func (h *StatsHandlers) GetAverageMetadataValue(c *gin.Context) {
	eventType := c.Query("eventType")
	key := c.Query("key")
	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "eventType query parameter is required"})
		return
	}
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key query parameter is required (e.g., 'cart_value', 'duration_ms')"})
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avg, err := h.Stats.GetAverageMetadataValue(ctx, c.GetInt(middleware.SiteIDKey), eventType, key, start, end)
	if err != nil {
		log.Printf("Error getting average of %s on %s: %v", key, eventType, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"eventType": eventType,
		"key":       key,
		"startDate": start.Format(time.RFC3339),
		"endDate":   end.Format(time.RFC3339),
		"average":   avg,
	})
}
