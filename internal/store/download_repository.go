package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"statement-dl/internal/domain"
)

// DownloadRepository records which documents were already downloaded
type DownloadRepository interface {
	IsDownloaded(ctx context.Context, portal, key string) (bool, error)
	MarkDownloaded(ctx context.Context, d domain.Downloaded) error
}

// PostgresDownloadRepository implements DownloadRepository using PostgreSQL storage
type PostgresDownloadRepository struct {
	db *sql.DB
}

func NewPostgresDownloadRepository(db *sql.DB) *PostgresDownloadRepository {
	return &PostgresDownloadRepository{db: db}
}

// IsDownloaded checks if a document has a ledger entry
func (r *PostgresDownloadRepository) IsDownloaded(ctx context.Context, portal, key string) (bool, error) {
	var path string
	query := `SELECT path FROM downloads WHERE portal = $1 AND document_key = $2`
	err := r.db.QueryRowContext(ctx, query, portal, key).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check download ledger: %w", err)
	}
	return true, nil
}

// MarkDownloaded upserts the ledger entry of a stored document
func (r *PostgresDownloadRepository) MarkDownloaded(ctx context.Context, d domain.Downloaded) error {
	query := `
		INSERT INTO downloads (portal, document_key, path, pages, downloaded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (portal, document_key)
		DO UPDATE SET path = EXCLUDED.path, pages = EXCLUDED.pages, downloaded_at = EXCLUDED.downloaded_at
	`
	_, err := r.db.ExecContext(ctx, query, d.Portal, d.Row.Key(), d.Path, d.Pages, d.Finished)
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}
