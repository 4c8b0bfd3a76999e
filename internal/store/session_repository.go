package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"statement-dl/internal/domain"
)

// ErrNoSession is returned when no cookies were saved for a portal
var ErrNoSession = errors.New("no stored session")

// SessionRepository stores portal session cookies between runs
type SessionRepository interface {
	Get(ctx context.Context, portal string) ([]domain.Cookie, error)
	Save(ctx context.Context, portal string, cookies []domain.Cookie) error
}

// PostgresSessionRepository implements SessionRepository using PostgreSQL storage.
// Every save inserts a row, the newest one wins.
type PostgresSessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db, now: time.Now}
}

// Get returns the unexpired cookies of the most recent session
func (r *PostgresSessionRepository) Get(ctx context.Context, portal string) ([]domain.Cookie, error) {
	var raw []byte
	var updatedAt time.Time

	query := `SELECT cookies, updated_at FROM sessions WHERE portal = $1 ORDER BY updated_at DESC LIMIT 1`
	err := r.db.QueryRowContext(ctx, query, portal).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var cookies []domain.Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("failed to decode session cookies: %w", err)
	}

	now := r.now()
	valid := cookies[:0]
	for _, c := range cookies {
		if c.Expires.IsZero() || c.Expires.After(now) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSession
	}
	return valid, nil
}

// Save stores the cookies with the current timestamp
func (r *PostgresSessionRepository) Save(ctx context.Context, portal string, cookies []domain.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("failed to encode session cookies: %w", err)
	}

	query := `INSERT INTO sessions (portal, cookies, updated_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, portal, raw, r.now()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
