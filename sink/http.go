package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mabletask/tracker/models"
)

// HTTP talks to the ingest API's /api routes with a site token.
type HTTP struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTP(baseURL, token string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTP) UpsertUser(ctx context.Context, v models.Visitor) error {
	return h.send(ctx, http.MethodPut, "/api/users", v)
}

func (h *HTTP) InsertSessionIfAbsent(ctx context.Context, s models.Session) error {
	return h.send(ctx, http.MethodPost, "/api/sessions", s)
}

func (h *HTTP) UpdateSessionProfile(ctx context.Context, sessionID string, profile models.BehaviorSnapshot, updatedAt time.Time) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/profile"
	return h.send(ctx, http.MethodPatch, path, models.ProfileUpdate{Profile: profile, UpdatedAt: updatedAt})
}

func (h *HTTP) InsertTimelineEvents(ctx context.Context, events []models.TimelineEvent) error {
	return h.send(ctx, http.MethodPost, "/api/timeline", TimelineBatch{Events: events})
}

func (h *HTTP) send(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sink: encode %s %s: %w", method, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sink: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sink: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
