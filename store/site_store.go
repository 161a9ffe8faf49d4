package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"

	"mabletask/tracker/models"
)

var (
	ErrSiteExists   = errors.New("site already registered")
	ErrSiteNotFound = errors.New("site not found")
)

// uniqueViolation is Postgres' SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type SiteStore struct {
	db *sql.DB
}

func NewSiteStore(db *sql.DB) *SiteStore {
	return &SiteStore{db: db}
}

// CreateSite registers a storefront domain with its hashed ingest secret.
func (s *SiteStore) CreateSite(ctx context.Context, domain string, hashedSecret []byte) (*models.Site, error) {
	site := &models.Site{}
	query := `
		INSERT INTO sites (domain, hashed_secret)
		VALUES ($1, $2)
		RETURNING id, domain, created_at, updated_at;
	`
	err := s.db.QueryRowContext(ctx, query, domain, hashedSecret).Scan(
		&site.ID,
		&site.Domain,
		&site.CreatedAt,
		&site.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("domain %q: %w", domain, ErrSiteExists)
		}
		return nil, fmt.Errorf("failed to create site: %w", err)
	}

	log.Printf("Site registered in DB: ID=%d, Domain=%s", site.ID, site.Domain)
	return site, nil
}

func (s *SiteStore) GetSiteByDomain(ctx context.Context, domain string) (*models.Site, error) {
	site := &models.Site{}
	query := `
		SELECT id, domain, hashed_secret, created_at, updated_at
		FROM sites
		WHERE domain = $1;
	`
	err := s.db.QueryRowContext(ctx, query, domain).Scan(
		&site.ID,
		&site.Domain,
		&site.HashedSecret,
		&site.CreatedAt,
		&site.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("domain %q: %w", domain, ErrSiteNotFound)
		}
		return nil, fmt.Errorf("failed to get site by domain: %w", err)
	}
	return site, nil
}
