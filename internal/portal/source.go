package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"statement-dl/internal/browser"
	"statement-dl/internal/dates"
	"statement-dl/internal/domain"
	"statement-dl/internal/lister"
)

// FilterSource runs listing queries through the portal's filter form
type FilterSource struct {
	Portal Portal
	Driver Driver
	Logger *slog.Logger
}

var _ lister.Source = (*FilterSource)(nil)

// Query sets the read state and date range filters, applies them and reads
// the resulting table.
func (s *FilterSource) Query(ctx context.Context, r dates.Range, includeRead bool) (lister.Batch, error) {
	f := s.Portal.Filter
	s.Logger.Info("setting download filter", "range", r.String(), "all_files", includeRead)

	readState := f.ReadStateUnread
	if includeRead {
		readState = f.ReadStateAll
	}
	for _, sel := range []string{f.ReadState, readState, f.RangePicker, f.RangeIndividual} {
		if err := click(ctx, s.Driver, s.Portal, sel); err != nil {
			return lister.Batch{}, err
		}
	}

	if err := s.Driver.WaitVisible(ctx, f.From, 5*time.Second); err != nil {
		return lister.Batch{}, err
	}
	if err := s.Driver.SetDate(ctx, f.From, dates.FormatPortal(r.From)); err != nil {
		return lister.Batch{}, fmt.Errorf("failed to set from date: %w", err)
	}
	if err := s.Driver.SetDate(ctx, f.To, dates.FormatPortal(r.To)); err != nil {
		return lister.Batch{}, fmt.Errorf("failed to set to date: %w", err)
	}

	// remember the current table so its replacement can be detected
	watched, err := s.Driver.Watch(ctx, s.Portal.lastRowXPath())
	if err == nil && !watched && s.Portal.Listing.Empty != "" {
		_, err = s.Driver.Watch(ctx, s.Portal.Listing.Empty)
	}
	if err != nil {
		return lister.Batch{}, err
	}

	if err := click(ctx, s.Driver, s.Portal, f.Apply); err != nil {
		return lister.Batch{}, err
	}
	if err := s.Driver.WaitStale(ctx, f.StaleTimeout); err != nil {
		if !errors.Is(err, browser.ErrWaitTimeout) {
			return lister.Batch{}, err
		}
		s.Logger.Debug("listing unchanged after applying filter")
	}
	if err := s.Driver.WaitNetworkIdle(ctx, 0, 10*time.Second); err != nil {
		s.Logger.Warn("network did not settle after applying filter", "error", err)
	}

	rows, err := readRows(ctx, s.Driver, s.Portal.Listing)
	if err != nil {
		return lister.Batch{}, err
	}

	batch := lister.Batch{Rows: rows}
	if banner := s.Portal.Listing.TruncatedBanner; banner != "" {
		n, err := s.Driver.Count(ctx, banner)
		if err != nil {
			return lister.Batch{}, err
		}
		batch.Truncated = n > 0
	}
	s.Logger.Debug("listing read", "rows", len(rows), "truncated", batch.Truncated)
	return batch, nil
}

// readRows reads the listing table. Rows without enough cells, like the
// "no documents" placeholder, are skipped.
func readRows(ctx context.Context, d Driver, l Listing) ([]domain.DocumentRow, error) {
	cells, err := d.Rows(ctx, l.Rows)
	if err != nil {
		return nil, err
	}

	need := max(l.DateCol, l.CategoryCol, l.TitleCol)
	var rows []domain.DocumentRow
	for i, row := range cells {
		if len(row) <= need {
			continue
		}
		date, err := dates.ParseListDate(row[l.DateCol])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		rows = append(rows, domain.DocumentRow{
			Date:     date,
			Category: cell(row, l.CategoryCol, l.FixedCategory),
			Title:    cell(row, l.TitleCol, l.FixedTitle),
			Index:    i,
		})
	}
	return rows, nil
}

func cell(row []string, col int, fallback string) string {
	if col < 0 {
		return fallback
	}
	return row[col]
}

// click dismisses the "previous action not finished" overlay if it is in the
// way, then clicks sel.
func click(ctx context.Context, d Driver, p Portal, sel string) error {
	if p.RetryOverlay != "" {
		n, err := d.Count(ctx, p.RetryOverlay)
		if err != nil {
			return err
		}
		if n > 0 {
			if err := d.Click(ctx, p.RetryOverlay); err != nil {
				return err
			}
		}
	}
	return d.Click(ctx, sel)
}
