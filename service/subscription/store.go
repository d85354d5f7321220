package subscription

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
			id TEXT PRIMARY KEY,
			subscriberId TEXT NOT NULL UNIQUE,
			endpoint TEXT NOT NULL,
			p256dh TEXT,
			auth TEXT,
			userAgent TEXT,
			createdAt TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscribers_endpoint ON subscribers(endpoint)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return nil
}

// Upsert inserts the subscription or, when the subscriber is already
// registered, replaces its endpoint and keys in place. Browsers rotate
// subscriptions silently, so re-registration is the common path.
func (s *Store) Upsert(sub Subscription) (string, error) {
	var p256dh, auth, userAgent *string
	if sub.P256dh != "" {
		p256dh = &sub.P256dh
	}
	if sub.Auth != "" {
		auth = &sub.Auth
	}
	if sub.UserAgent != "" {
		userAgent = &sub.UserAgent
	}

	var id string
	err := s.db.QueryRow(`
		INSERT INTO subscribers (id, subscriberId, endpoint, p256dh, auth, userAgent, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscriberId) DO UPDATE SET
			endpoint = excluded.endpoint,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			userAgent = excluded.userAgent
		RETURNING id
	`, uuid.NewString(), sub.SubscriberID, sub.Endpoint, p256dh, auth, userAgent, time.Now().UTC()).Scan(&id)

	return id, err
}

// Find returns the subscription for subscriberID, or nil when none is
// registered.
func (s *Store) Find(subscriberID string) (*Subscription, error) {
	row := s.db.QueryRow(`
		SELECT id, subscriberId, endpoint, p256dh, auth, userAgent, createdAt
		FROM subscribers
		WHERE subscriberId = ?
	`, subscriberID)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *Store) All() ([]Subscription, error) {
	rows, err := s.db.Query(`
		SELECT id, subscriberId, endpoint, p256dh, auth, userAgent, createdAt
		FROM subscribers
		ORDER BY createdAt
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscriptions []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, *sub)
	}

	return subscriptions, rows.Err()
}

func (s *Store) Remove(subscriberID string) error {
	_, err := s.db.Exec(`DELETE FROM subscribers WHERE subscriberId = ?`, subscriberID)
	return err
}

// RemoveByEndpoint drops every subscription pointing at endpoint. Push
// services report expired endpoints on delivery, not by subscriber, so
// invalidation works backwards from the endpoint.
func (s *Store) RemoveByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM subscribers WHERE endpoint = ?`, endpoint)
	return err
}

func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM subscribers`).Scan(&count)
	return count, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var p256dh, auth, userAgent sql.NullString

	if err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.Endpoint, &p256dh, &auth, &userAgent, &sub.CreatedAt); err != nil {
		return nil, err
	}

	if p256dh.Valid {
		sub.P256dh = p256dh.String
	}
	if auth.Valid {
		sub.Auth = auth.String
	}
	if userAgent.Valid {
		sub.UserAgent = userAgent.String
	}

	return &sub, nil
}
