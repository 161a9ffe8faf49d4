package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mabletask/tracker/dispatch"
	"mabletask/tracker/middleware"
	"mabletask/tracker/models"
	"mabletask/tracker/sink"
)

// IngestHandlers serve the tracker's sink calls. SinkFor returns the store
// for the authenticated site.
type IngestHandlers struct {
	SinkFor func(siteID int) sink.Sink
	Timeout time.Duration
}

func NewIngestHandlers(sinkFor func(siteID int) sink.Sink) *IngestHandlers {
	return &IngestHandlers{SinkFor: sinkFor, Timeout: 15 * time.Second}
}

func (h *IngestHandlers) siteSink(c *gin.Context) (sink.Sink, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	return h.SinkFor(c.GetInt(middleware.SiteIDKey)), ctx, cancel
}

func (h *IngestHandlers) UpsertUser(c *gin.Context) {
	var v models.Visitor
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if v.LastSeenAt.IsZero() {
		v.LastSeenAt = time.Now().UTC()
	}
	if v.FirstSeenAt.IsZero() {
		v.FirstSeenAt = v.LastSeenAt
	}

	s, ctx, cancel := h.siteSink(c)
	defer cancel()
	if err := s.UpsertUser(ctx, v); err != nil {
		log.Printf("Error upserting visitor %s: %v", v.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store visitor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": v.UserID})
}

func (h *IngestHandlers) InsertSession(c *gin.Context) {
	var sess models.Session
	if err := c.ShouldBindJSON(&sess); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}

	s, ctx, cancel := h.siteSink(c)
	defer cancel()
	if err := s.InsertSessionIfAbsent(ctx, sess); err != nil {
		log.Printf("Error inserting session %s: %v", sess.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.SessionID})
}

func (h *IngestHandlers) UpdateProfile(c *gin.Context) {
	sessionID := c.Param("id")
	var upd models.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	s, ctx, cancel := h.siteSink(c)
	defer cancel()
	if err := s.UpdateSessionProfile(ctx, sessionID, upd.Profile, upd.UpdatedAt); err != nil {
		log.Printf("Error updating profile of session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store profile"})
		return
	}
	c.Status(http.StatusNoContent)
}

// InsertTimeline stores a batch as sent. Event ids come from the tracker so
// a resent batch is recognised as the same events.
func (h *IngestHandlers) InsertTimeline(c *gin.Context) {
	var batch sink.TimelineBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if len(batch.Events) > dispatch.MaxBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Too many events in one batch"})
		return
	}
	for i, ev := range batch.Events {
		if ev.EventID == "" || ev.EventType == "" || ev.SessionID == "" || ev.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Event is missing event_id, event_type, session_id or user_id", "index": i})
			return
		}
	}
	if len(batch.Events) == 0 {
		c.JSON(http.StatusAccepted, gin.H{"accepted": 0})
		return
	}

	s, ctx, cancel := h.siteSink(c)
	defer cancel()
	if err := s.InsertTimelineEvents(ctx, batch.Events); err != nil {
		log.Printf("Error inserting %d timeline events: %v", len(batch.Events), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record timeline events"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(batch.Events)})
}
