package store

import (
	"context"

	"statement-dl/internal/domain"
)

// Nop is used when no database is configured. The file on disk is then the
// only record of a download.
type Nop struct{}

func (Nop) IsDownloaded(context.Context, string, string) (bool, error) { return false, nil }

func (Nop) MarkDownloaded(context.Context, domain.Downloaded) error { return nil }

func (Nop) Get(context.Context, string) ([]domain.Cookie, error) { return nil, ErrNoSession }

func (Nop) Save(context.Context, string, []domain.Cookie) error { return nil }
