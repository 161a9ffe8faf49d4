// Package identity resolves the durable visitor id and the renewable session
// id, and keeps the small amount of cross-session continuity state the next
// page load needs.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mabletask/tracker/storage"
)

// DefaultIdleExpiry is the wall-clock gap between page loads after which a
// session is superseded.
const DefaultIdleExpiry = 30 * time.Minute

// maxLastPages bounds the persisted page history.
const maxLastPages = 20

const (
	keyVisitorID      = "visitor_id"
	keySession        = "session"
	keyLastSeen       = "last_seen"
	keyLastPages      = "last_pages"
	keyLastCartStatus = "last_cart_status"
)

// Session is the renewable session identity held in the ephemeral namespace.
type Session struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	LastTouchedAt time.Time `json:"last_touched_at"`
}

// Continuity is what one page load leaves for the next.
type Continuity struct {
	LastSeen       *time.Time
	LastPages      []string
	LastCartStatus string
}

// IsReturning reports whether a previous page load recorded itself.
func (c Continuity) IsReturning() bool { return c.LastSeen != nil }

type Store struct {
	durable    storage.KV
	ephemeral  storage.KV
	idleExpiry time.Duration
	newID      func() string
}

func NewStore(durable, ephemeral storage.KV, idleExpiry time.Duration) *Store {
	if idleExpiry <= 0 {
		idleExpiry = DefaultIdleExpiry
	}
	return &Store{
		durable:    durable,
		ephemeral:  ephemeral,
		idleExpiry: idleExpiry,
		newID:      func() string { return uuid.New().String() },
	}
}

// GetOrCreateVisitorID returns the stored visitor id, creating and storing a
// new one on first use.
func (s *Store) GetOrCreateVisitorID() (string, error) {
	id, err := s.durable.Get(keyVisitorID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("identity: read visitor id: %w", err)
	}
	id = s.newID()
	if err := s.durable.Set(keyVisitorID, id); err != nil {
		return "", fmt.Errorf("identity: write visitor id: %w", err)
	}
	return id, nil
}

// GetOrRenewSession reuses the stored session when it was touched within the
// idle expiry window and otherwise starts a new one. Either way the session
// is written back touched at now. fresh reports whether a new id was minted.
// Expiry is evaluated only here, once per page load.
func (s *Store) GetOrRenewSession(now time.Time) (sess Session, fresh bool, err error) {
	raw, err := s.ephemeral.Get(keySession)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal([]byte(raw), &sess); jsonErr != nil {
			log.Printf("identity: discarding unreadable session record: %v", jsonErr)
			sess = Session{}
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return Session{}, false, fmt.Errorf("identity: read session: %w", err)
	}

	if sess.ID == "" || now.Sub(sess.LastTouchedAt) > s.idleExpiry {
		sess = Session{ID: s.newID(), StartedAt: now}
		fresh = true
	}
	sess.LastTouchedAt = now

	encoded, err := json.Marshal(sess)
	if err != nil {
		return Session{}, false, fmt.Errorf("identity: encode session: %w", err)
	}
	if err := s.ephemeral.Set(keySession, string(encoded)); err != nil {
		return Session{}, false, fmt.Errorf("identity: write session: %w", err)
	}
	return sess, fresh, nil
}

// LoadContinuity reads the previous page load's continuity state. Missing or
// unreadable keys are treated as absent.
func (s *Store) LoadContinuity() Continuity {
	var c Continuity
	if v, err := s.durable.Get(keyLastSeen); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			c.LastSeen = &t
		}
	}
	if v, err := s.durable.Get(keyLastPages); err == nil {
		if jerr := json.Unmarshal([]byte(v), &c.LastPages); jerr != nil {
			c.LastPages = nil
		}
	}
	if v, err := s.durable.Get(keyLastCartStatus); err == nil {
		c.LastCartStatus = v
	}
	return c
}

// SaveContinuity persists continuity for the next page load. Only the most
// recent pages are kept.
func (s *Store) SaveContinuity(c Continuity) error {
	pages := c.LastPages
	if len(pages) > maxLastPages {
		pages = pages[len(pages)-maxLastPages:]
	}
	encoded, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("identity: encode last pages: %w", err)
	}

	var errs []error
	if c.LastSeen != nil {
		errs = append(errs, s.durable.Set(keyLastSeen, c.LastSeen.UTC().Format(time.RFC3339Nano)))
	}
	errs = append(errs, s.durable.Set(keyLastPages, string(encoded)))
	if c.LastCartStatus != "" {
		errs = append(errs, s.durable.Set(keyLastCartStatus, c.LastCartStatus))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("identity: save continuity: %w", err)
	}
	return nil
}
