package models

import "time"

type RegisterSiteRequest struct {
	Domain string `json:"domain" binding:"required"`
	Secret string `json:"secret" binding:"required,min=16"`
}

type LoginRequest struct {
	Domain string `json:"domain" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// Site is a storefront allowed to ship telemetry to the ingest API.
type Site struct {
	ID           int       `json:"id"`
	Domain       string    `json:"domain"`
	HashedSecret []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Visitor is the remote user record, upserted on UserID.
type Visitor struct {
	UserID      string     `json:"user_id" binding:"required"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	IsReturning bool       `json:"is_returning"`
	PrevSeenAt  *time.Time `json:"prev_seen_at,omitempty"`
	Device      DeviceInfo `json:"device"`
}

// Session is the remote session record. It is inserted once and afterwards
// only its profile is updated.
type Session struct {
	SessionID string         `json:"session_id" binding:"required"`
	UserID    string         `json:"user_id" binding:"required"`
	StartedAt time.Time      `json:"started_at"`
	Context   SessionContext `json:"context"`
}

type ProfileUpdate struct {
	Profile   BehaviorSnapshot `json:"profile"`
	UpdatedAt time.Time        `json:"updated_at" binding:"required"`
}
