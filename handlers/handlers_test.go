package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"mabletask/tracker/dispatch"
	"mabletask/tracker/middleware"
	"mabletask/tracker/models"
	"mabletask/tracker/sink"
	"mabletask/tracker/store"
	"mabletask/tracker/utils"
)

type fakeSites struct {
	mu    sync.Mutex
	sites map[string]*models.Site
}

func (f *fakeSites) CreateSite(ctx context.Context, domain string, hashed []byte) (*models.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sites == nil {
		f.sites = map[string]*models.Site{}
	}
	if _, ok := f.sites[domain]; ok {
		return nil, fmt.Errorf("domain %q: %w", domain, store.ErrSiteExists)
	}
	site := &models.Site{ID: len(f.sites) + 1, Domain: domain, HashedSecret: hashed}
	f.sites[domain] = site
	return site, nil
}

func (f *fakeSites) GetSiteByDomain(ctx context.Context, domain string) (*models.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	site, ok := f.sites[domain]
	if !ok {
		return nil, store.ErrSiteNotFound
	}
	return site, nil
}

type fakeSink struct {
	mu       sync.Mutex
	siteID   int
	users    []models.Visitor
	sessions []models.Session
	profiles []string
	events   []models.TimelineEvent
	fail     bool
}

func (f *fakeSink) UpsertUser(ctx context.Context, v models.Visitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, v)
	return nil
}

func (f *fakeSink) InsertSessionIfAbsent(ctx context.Context, sess models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sess)
	return nil
}

func (f *fakeSink) UpdateSessionProfile(ctx context.Context, sessionID string, p models.BehaviorSnapshot, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, sessionID)
	return nil
}

func (f *fakeSink) InsertTimelineEvents(ctx context.Context, events []models.TimelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("clickhouse down")
	}
	f.events = append(f.events, events...)
	return nil
}

type statsCall struct {
	siteID     int
	interval   string
	start, end time.Time
	eventType  string
	key        string
	limit      uint64
}

type fakeStats struct {
	last statsCall
}

func (f *fakeStats) GetEventCountsOverTime(ctx context.Context, siteID int, interval string, start, end time.Time, eventType string) ([]store.EventTypeCountByTime, error) {
	f.last = statsCall{siteID: siteID, interval: interval, start: start, end: end, eventType: eventType}
	return []store.EventTypeCountByTime{{Time: start, Count: 4}}, nil
}

func (f *fakeStats) GetUniqueVisitorsOverTime(ctx context.Context, siteID int, interval string, start, end time.Time) ([]store.EventTypeCountByTime, error) {
	f.last = statsCall{siteID: siteID, interval: interval, start: start, end: end}
	return nil, errors.New("timeout")
}

func (f *fakeStats) GetTopNPagePaths(ctx context.Context, siteID int, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	f.last = statsCall{siteID: siteID, start: start, end: end, limit: limit}
	return []models.TopPathResult{{PagePath: "/products/shoe", Count: 9}}, nil
}

func (f *fakeStats) GetAverageMetadataValue(ctx context.Context, siteID int, eventType, key string, start, end time.Time) (float64, error) {
	f.last = statsCall{siteID: siteID, start: start, end: end, eventType: eventType, key: key}
	return 42.5, nil
}

// withSite stands in for AuthRequired.
func withSite(id int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.SiteIDKey, id)
		c.Next()
	}
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("handlers-secret")
	h := NewAuthHandlers(&fakeSites{}, secret)
	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)

	body := `{"domain":"shop.example","secret":"a-long-enough-secret"}`
	if w := do(r, http.MethodPost, "/register", body); w.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/register", body); w.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d, want 409", w.Code)
	}
	if w := do(r, http.MethodPost, "/register", `{"domain":"x.example","secret":"short"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("short secret = %d, want 400", w.Code)
	}

	w := do(r, http.MethodPost, "/login", body)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		SiteID int    `json:"site_id"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	claims, err := utils.ValidateJWT(resp.Token, secret)
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.SiteID != resp.SiteID || claims.Domain != "shop.example" {
		t.Errorf("claims = %+v", claims)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "jwt_token=") {
		t.Error("login did not set the token cookie")
	}

	bad := []string{
		`{"domain":"shop.example","secret":"the-wrong-secret-value"}`,
		`{"domain":"nowhere.example","secret":"a-long-enough-secret"}`,
	}
	for _, b := range bad {
		if w := do(r, http.MethodPost, "/login", b); w.Code != http.StatusUnauthorized {
			t.Errorf("login %s = %d, want 401", b, w.Code)
		}
	}

	if w := do(r, http.MethodPost, "/logout", ""); !strings.Contains(w.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Errorf("logout cookie = %q", w.Header().Get("Set-Cookie"))
	}
}

func ingestRouter(fs *fakeSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewIngestHandlers(func(siteID int) sink.Sink {
		fs.mu.Lock()
		fs.siteID = siteID
		fs.mu.Unlock()
		return fs
	})
	r := gin.New()
	g := r.Group("/", withSite(7))
	g.PUT("/users", h.UpsertUser)
	g.POST("/sessions", h.InsertSession)
	g.PATCH("/sessions/:id/profile", h.UpdateProfile)
	g.POST("/timeline", h.InsertTimeline)
	return r
}

func TestIngest(t *testing.T) {
	fs := &fakeSink{}
	r := ingestRouter(fs)

	if w := do(r, http.MethodPut, "/users", `{"user_id":"u-1","is_returning":true}`); w.Code != http.StatusOK {
		t.Fatalf("users = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPut, "/users", `{"is_returning":true}`); w.Code != http.StatusBadRequest {
		t.Errorf("user without id = %d, want 400", w.Code)
	}
	if w := do(r, http.MethodPost, "/sessions", `{"session_id":"s-1","user_id":"u-1"}`); w.Code != http.StatusOK {
		t.Fatalf("sessions = %d %s", w.Code, w.Body.String())
	}
	profile := `{"profile":{"engagement_score":40},"updated_at":"2026-01-02T15:04:05Z"}`
	if w := do(r, http.MethodPatch, "/sessions/s-1/profile", profile); w.Code != http.StatusNoContent {
		t.Fatalf("profile = %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPatch, "/sessions/s-1/profile", `{"profile":{}}`); w.Code != http.StatusBadRequest {
		t.Errorf("profile without updated_at = %d, want 400", w.Code)
	}

	batch := `{"events":[
		{"event_id":"e-1","user_id":"u-1","session_id":"s-1","event_type":"page_view","timestamp":"2026-01-02T15:04:05Z"},
		{"event_id":"e-2","user_id":"u-1","session_id":"s-1","event_type":"click","timestamp":"2026-01-02T15:04:06Z","metadata":{"path":"/"}}
	]}`
	w := do(r, http.MethodPost, "/timeline", batch)
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"accepted":2`) {
		t.Fatalf("timeline = %d %s", w.Code, w.Body.String())
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.siteID != 7 {
		t.Errorf("sink built for site %d, want 7", fs.siteID)
	}
	if len(fs.users) != 1 || fs.users[0].LastSeenAt.IsZero() || !fs.users[0].FirstSeenAt.Equal(fs.users[0].LastSeenAt) {
		t.Errorf("users = %+v", fs.users)
	}
	if len(fs.sessions) != 1 || fs.sessions[0].StartedAt.IsZero() {
		t.Errorf("sessions = %+v", fs.sessions)
	}
	if len(fs.profiles) != 1 || fs.profiles[0] != "s-1" {
		t.Errorf("profiles = %v", fs.profiles)
	}
	if len(fs.events) != 2 || fs.events[1].EventID != "e-2" || string(fs.events[1].Metadata) != `{"path":"/"}` {
		t.Errorf("events = %+v", fs.events)
	}
}

func TestIngestTimelineRejects(t *testing.T) {
	fs := &fakeSink{}
	r := ingestRouter(fs)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing events", `{}`, http.StatusBadRequest},
		{"empty batch", `{"events":[]}`, http.StatusAccepted},
		{"missing event id", `{"events":[{"user_id":"u","session_id":"s","event_type":"click"}]}`, http.StatusBadRequest},
		{"missing session", `{"events":[{"event_id":"e","user_id":"u","event_type":"click"}]}`, http.StatusBadRequest},
		{"not json", `events`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, http.MethodPost, "/timeline", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if len(fs.events) != 0 {
		t.Errorf("rejected batches stored %d events", len(fs.events))
	}

	fs.fail = true
	body := `{"events":[{"event_id":"e","user_id":"u","session_id":"s","event_type":"click"}]}`
	if w := do(r, http.MethodPost, "/timeline", body); w.Code != http.StatusInternalServerError {
		t.Errorf("failing store = %d, want 500", w.Code)
	}
}

func TestIngestDrainsFullQueue(t *testing.T) {
	fs := &fakeSink{}
	srv := httptest.NewServer(http.StripPrefix("/api", ingestRouter(fs)))
	defer srv.Close()

	// The tracker asks for more buffer than the API takes in one batch.
	d := dispatch.NewDispatcher(dispatch.NewQueue(dispatch.MaxBatch+1000), sink.NewHTTP(srv.URL, "token"))
	at := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	for i := 0; i <= dispatch.MaxBatch; i++ {
		d.Enqueue(models.TimelineEvent{
			EventID:   fmt.Sprintf("e-%d", i),
			UserID:    "u-1",
			SessionID: "s-1",
			EventType: models.EventClick,
			Timestamp: at.Add(time.Duration(i) * time.Millisecond),
		})
	}
	if err := d.MarkReady(context.Background()); err != nil {
		t.Fatalf("flush of a full queue: %v", err)
	}
	if d.Queue().Len() != 0 {
		t.Errorf("%d events left after flush", d.Queue().Len())
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.events) != dispatch.MaxBatch {
		t.Fatalf("stored %d events, want %d", len(fs.events), dispatch.MaxBatch)
	}
	if fs.events[0].EventID != "e-1" {
		t.Errorf("first stored event = %s, want e-1 (oldest dropped)", fs.events[0].EventID)
	}
}

func TestStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fs := &fakeStats{}
	h := NewStatsHandlers(fs)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h.Now = func() time.Time { return now }

	r := gin.New()
	g := r.Group("/stats", withSite(5))
	g.GET("/event-counts", h.GetEventCountsOverTime)
	g.GET("/unique-visitors", h.GetUniqueVisitorsOverTime)
	g.GET("/top-pages", h.GetTopNPagePaths)
	g.GET("/average-metadata", h.GetAverageMetadataValue)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"counts", "/stats/event-counts?interval=Hour&eventType=click", http.StatusOK},
		{"counts without interval", "/stats/event-counts", http.StatusBadRequest},
		{"counts with unknown interval", "/stats/event-counts?interval=Fortnight", http.StatusBadRequest},
		{"counts with bad start", "/stats/event-counts?interval=Day&start=yesterday", http.StatusBadRequest},
		{"inverted range", "/stats/top-pages?start=2026-03-10T00:00:00Z&end=2026-03-09T00:00:00Z", http.StatusBadRequest},
		{"store failure", "/stats/unique-visitors?interval=Day", http.StatusInternalServerError},
		{"top pages", "/stats/top-pages?limit=3", http.StatusOK},
		{"top pages limit too large", "/stats/top-pages?limit=1000", http.StatusBadRequest},
		{"average without key", "/stats/average-metadata?eventType=cart_add", http.StatusBadRequest},
		{"average", "/stats/average-metadata?eventType=cart_add&key=cart_value", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	do(r, http.MethodGet, "/stats/event-counts?interval=Hour&eventType=click", "")
	if fs.last.siteID != 5 || fs.last.interval != "Hour" || fs.last.eventType != "click" {
		t.Errorf("counts call = %+v", fs.last)
	}
	if !fs.last.end.Equal(now) || !fs.last.start.Equal(now.Add(-utils.DefaultRange)) {
		t.Errorf("default range = %s..%s", fs.last.start, fs.last.end)
	}

	do(r, http.MethodGet, "/stats/top-pages", "")
	if fs.last.limit != defaultTopPaths {
		t.Errorf("default limit = %d", fs.last.limit)
	}

	w := do(r, http.MethodGet, "/stats/average-metadata?eventType=cart_add&key=cart_value", "")
	var avg struct {
		Average float64 `json:"average"`
		Key     string  `json:"key"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &avg); err != nil {
		t.Fatal(err)
	}
	if avg.Average != 42.5 || avg.Key != "cart_value" || fs.last.key != "cart_value" {
		t.Errorf("average = %+v, call = %+v", avg, fs.last)
	}
}
