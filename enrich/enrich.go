// Package enrich attaches geographic and temporal context to a session. The
// geographic half comes from an external provider and may be missing; the
// temporal half is always computed locally.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"mabletask/tracker/models"
)

// Provider looks up the visitor's location.
type Provider interface {
	Lookup(ctx context.Context) (*models.GeoRecord, error)
}

// Resolve returns a record whose temporal fields are always set. A provider
// failure leaves Geo nil. When the provider reports a timezone the temporal
// fields use it; otherwise now's own location is used.
func Resolve(ctx context.Context, p Provider, now time.Time) models.Enrichment {
	var geo *models.GeoRecord
	if p != nil {
		g, err := p.Lookup(ctx)
		if err != nil {
			log.Printf("enrich: geo lookup failed: %v", err)
		} else {
			geo = g
		}
	}

	local := now
	southern := false
	if geo != nil {
		if geo.Timezone != nil {
			if loc, err := time.LoadLocation(*geo.Timezone); err == nil {
				local = now.In(loc)
			}
		}
		southern = geo.Latitude != nil && *geo.Latitude < 0
	}
	return models.Enrichment{Geo: geo, Temporal: Temporal(local, southern)}
}

// Temporal derives the temporal record from a local time.
func Temporal(local time.Time, southernHemisphere bool) models.TemporalRecord {
	wd := local.Weekday()
	return models.TemporalRecord{
		LocalHour: local.Hour(),
		LocalDay:  wd.String(),
		PartOfDay: partOfDay(local.Hour()),
		IsWeekend: wd == time.Saturday || wd == time.Sunday,
		Season:    season(local.Month(), southernHemisphere),
	}
}

func partOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 21:
		return "evening"
	default:
		return "night"
	}
}

var northernSeasons = [...]string{"winter", "spring", "summer", "autumn"}

func season(m time.Month, southern bool) string {
	// Dec-Feb is index 0, Mar-May 1, Jun-Aug 2, Sep-Nov 3.
	idx := (int(m) % 12) / 3
	if southern {
		idx = (idx + 2) % 4
	}
	return northernSeasons[idx]
}

// HTTPProvider reads an ipapi-style JSON endpoint.
type HTTPProvider struct {
	URL    string
	Client *http.Client
}

func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{URL: url, Client: &http.Client{Timeout: 3 * time.Second}}
}

type ipapiResponse struct {
	Error      bool     `json:"error"`
	Country    *string  `json:"country_name"`
	Region     *string  `json:"region"`
	City       *string  `json:"city"`
	PostalCode *string  `json:"postal"`
	Timezone   *string  `json:"timezone"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

func (p *HTTPProvider) Lookup(ctx context.Context) (*models.GeoRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("enrich: build request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrich: lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrich: lookup: unexpected status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("enrich: decode response: %w", err)
	}
	if body.Error {
		return nil, fmt.Errorf("enrich: provider reported an error")
	}
	return &models.GeoRecord{
		Country:    body.Country,
		Region:     body.Region,
		City:       body.City,
		PostalCode: body.PostalCode,
		Timezone:   body.Timezone,
		Latitude:   body.Latitude,
		Longitude:  body.Longitude,
	}, nil
}
