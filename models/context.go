package models

import (
	"strings"
	"time"
)

// SessionContext describes where a session came from. It is captured once at
// session start and stored with the remote session record.
type SessionContext struct {
	Traffic    TrafficInfo    `json:"traffic"`
	Device     DeviceInfo     `json:"device"`
	Storefront StorefrontInfo `json:"storefront"`
	History    HistoryInfo    `json:"user_history"`
}

type TrafficInfo struct {
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
}

type DeviceInfo struct {
	DeviceType   string `json:"device_type"`
	OS           string `json:"os,omitempty"`
	Browser      string `json:"browser,omitempty"`
	ScreenWidth  int    `json:"screen_width,omitempty"`
	ScreenHeight int    `json:"screen_height,omitempty"`
}

type StorefrontInfo struct {
	PagePath         string   `json:"page_path"`
	ProductTags      []string `json:"product_tags,omitempty"`
	CollectionViewed string   `json:"collection_viewed,omitempty"`
	CartStatus       string   `json:"cart_status,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	Language         string   `json:"language,omitempty"`
}

type HistoryInfo struct {
	IsReturning            bool       `json:"is_returning"`
	LastSeen               *time.Time `json:"last_seen,omitempty"`
	PagesViewedLastSession []string   `json:"pages_viewed_last_session,omitempty"`
	LastSessionCartStatus  string     `json:"last_session_cart_status,omitempty"`
}

// GeoRecord is filled by the enrichment provider. Any field may be missing.
type GeoRecord struct {
	Country    *string  `json:"country"`
	Region     *string  `json:"region"`
	City       *string  `json:"city"`
	PostalCode *string  `json:"postal_code"`
	Timezone   *string  `json:"timezone"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

// TemporalRecord is always computable locally.
type TemporalRecord struct {
	LocalHour int    `json:"local_hour"`
	LocalDay  string `json:"local_day"`
	PartOfDay string `json:"part_of_day"`
	IsWeekend bool   `json:"is_weekend"`
	Season    string `json:"season"`
}

type Enrichment struct {
	Geo      *GeoRecord     `json:"geo"`
	Temporal TemporalRecord `json:"temporal"`
}

// DeviceTypeFor reports "mobile" for mobile user agents and "desktop" otherwise.
func DeviceTypeFor(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "mobi") || strings.Contains(ua, "android") {
		return "mobile"
	}
	return "desktop"
}
