package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

type DBClient struct {
	DB *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sites (
	id            SERIAL PRIMARY KEY,
	domain        TEXT NOT NULL UNIQUE,
	hashed_secret BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS visitors (
	site_id       INTEGER NOT NULL REFERENCES sites(id),
	user_id       TEXT NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ NOT NULL,
	is_returning  BOOLEAN NOT NULL DEFAULT false,
	device        JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (site_id, user_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	site_id            INTEGER NOT NULL REFERENCES sites(id),
	session_id         TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	context            JSONB NOT NULL DEFAULT '{}'::jsonb,
	profile            JSONB,
	profile_updated_at TIMESTAMPTZ,
	PRIMARY KEY (site_id, session_id)
);
`

// NewPostgresDB connects to Postgres and makes sure the site, visitor and
// session tables exist.
func NewPostgresDB(dbURL string) (*DBClient, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}
	if _, err = db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating postgres schema: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database!")
	return &DBClient{DB: db}, nil
}

func (c *DBClient) Close() {
	if c.DB != nil {
		err := c.DB.Close()
		if err != nil {
			log.Printf("Error closing database connection: %v", err)
		} else {
			log.Println("PostgreSQL database connection closed.")
		}
	}
}
