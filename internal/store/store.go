// Package store persists discovered portal credentials in a local SQLite
// database so a successful search survives restarts. Discovery itself never
// touches the store; wiring is the caller's job.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Credential is one (portal, MAC) pair with what we learned about it.
type Credential struct {
	PortalURL string
	MAC       string
	Status    string // subscription status at test time
	ExpiresAt string // portal-reported expiry, empty when unknown
	FoundAt   time.Time
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	portal_url TEXT NOT NULL,
	mac        TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT '',
	expires_at TEXT NOT NULL DEFAULT '',
	found_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (portal_url, mac)
);`

// Open opens or creates the credential database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init credential db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save records a credential, replacing any earlier result for the same
// portal and MAC.
func (s *Store) Save(ctx context.Context, c Credential) error {
	if c.FoundAt.IsZero() {
		c.FoundAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (portal_url, mac, status, expires_at, found_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (portal_url, mac) DO UPDATE SET
			status = excluded.status,
			expires_at = excluded.expires_at,
			found_at = excluded.found_at`,
		c.PortalURL, c.MAC, c.Status, c.ExpiresAt, c.FoundAt)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// ByPortal returns the stored credentials for one portal, newest first.
func (s *Store) ByPortal(ctx context.Context, portalURL string) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT portal_url, mac, status, expires_at, found_at
		FROM credentials WHERE portal_url = ?
		ORDER BY found_at DESC`, portalURL)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.PortalURL, &c.MAC, &c.Status, &c.ExpiresAt, &c.FoundAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes one stored credential.
func (s *Store) Delete(ctx context.Context, portalURL, mac string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE portal_url = ? AND mac = ?`, portalURL, mac)
	return err
}
