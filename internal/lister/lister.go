// Package lister pages through a portal document listing that shows at most
// a fixed number of rows per query and offers no "next page" control. It
// works around the cap by re-issuing the query with a narrowed date range.
package lister

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"statement-dl/internal/dates"
	"statement-dl/internal/domain"
)

// DefaultCap is the number of rows the flatex archive view shows at most
const DefaultCap = 100

// Batch is the result of one listing query
type Batch struct {
	Rows []domain.DocumentRow
	// Truncated is set when the portal signals that rows were cut off
	Truncated bool
}

// Source runs a single listing query against the portal
type Source interface {
	Query(ctx context.Context, r dates.Range, includeRead bool) (Batch, error)
}

// Order is the sort order of the rows the portal returns
type Order int

const (
	Descending Order = iota // newest first
	Ascending
)

// Boundary decides what happens to rows dated on the boundary date of a
// truncated batch.
type Boundary int

const (
	// ExcludeBoundary emits the whole truncated batch and never queries the
	// boundary date again. Rows on that date beyond the cap are not seen.
	ExcludeBoundary Boundary = iota
	// RequeryBoundary holds back the boundary date's rows and queries that
	// date again together with the remaining range.
	RequeryBoundary
)

func (b Boundary) String() string {
	switch b {
	case RequeryBoundary:
		return "requery"
	default:
		return "exclude"
	}
}

// Stats describes the last List run
type Stats struct {
	Iterations int
	Rows       int
}

// Lister yields every row of a capped listing in a date range. Each query's
// range is narrowed past the rows already emitted, so no row is queried and
// emitted twice.
type Lister struct {
	Source   Source
	Cap      int
	Order    Order
	Boundary Boundary
	// FromExclusive shifts the lower bound one day back before it is sent,
	// for portals whose filter excludes the from date.
	FromExclusive bool
	Logger        *slog.Logger

	stats Stats
}

// Stats returns the counters of the most recent List call
func (l *Lister) Stats() Stats {
	return l.stats
}

// List lazily yields every row in r. It stops at the first error, which is
// yielded once. A new call starts over with a fresh range.
func (l *Lister) List(ctx context.Context, r dates.Range, includeRead bool) iter.Seq2[domain.DocumentRow, error] {
	return func(yield func(domain.DocumentRow, error) bool) {
		l.stats = Stats{}
		if err := r.Validate(); err != nil {
			yield(domain.DocumentRow{}, err)
			return
		}

		occurrences := domain.Occurrences{}
		emit := func(rows []domain.DocumentRow) bool {
			for _, row := range rows {
				l.stats.Rows++
				if !yield(occurrences.Mark(row), nil) {
					return false
				}
			}
			return true
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(domain.DocumentRow{}, err)
				return
			}

			l.stats.Iterations++
			l.logger().Debug("querying listing", "range", r.String(), "include_read", includeRead, "iteration", l.stats.Iterations)

			batch, err := l.Source.Query(ctx, l.present(r), includeRead)
			if err != nil {
				yield(domain.DocumentRow{}, fmt.Errorf("listing %s: %w", r, err))
				return
			}

			if !l.truncated(batch) {
				emit(batch.Rows)
				return
			}

			boundary, ok := l.boundary(batch.Rows)
			if !ok {
				l.logger().Warn("listing reported truncation without rows", "range", r.String())
				return
			}
			l.logger().Info("listing truncated, narrowing date range",
				"range", r.String(),
				"rows", len(batch.Rows),
				"boundary", dates.FormatISO(boundary),
				"policy", l.Boundary.String(),
			)

			rows, next := l.narrow(r, batch.Rows, boundary)
			if !emit(rows) {
				return
			}

			if next.Empty() {
				l.logger().Warn("date range exhausted while still truncated, rows on the boundary date may be missing",
					"boundary", dates.FormatISO(boundary),
				)
				return
			}
			r = next
		}
	}
}

func (l *Lister) truncated(b Batch) bool {
	return b.Truncated || (l.Cap > 0 && len(b.Rows) >= l.Cap)
}

func (l *Lister) present(r dates.Range) dates.Range {
	if l.FromExclusive {
		r.From = dates.AddDays(r.From, -1)
	}
	return r
}

// boundary is the date furthest along the sort order, which is where the
// portal cut the batch off.
func (l *Lister) boundary(rows []domain.DocumentRow) (time.Time, bool) {
	if len(rows) == 0 {
		return time.Time{}, false
	}
	d := rows[0].Date
	for _, row := range rows[1:] {
		if l.beyond(row.Date, d) {
			d = row.Date
		}
	}
	return dates.Truncate(d), true
}

// beyond reports whether a comes after b in listing order
func (l *Lister) beyond(a, b time.Time) bool {
	if l.Order == Ascending {
		return a.After(b)
	}
	return a.Before(b)
}

// narrow picks the rows of a truncated batch that are complete and the range
// still left to query.
func (l *Lister) narrow(r dates.Range, rows []domain.DocumentRow, boundary time.Time) ([]domain.DocumentRow, dates.Range) {
	if l.Boundary == RequeryBoundary {
		var complete []domain.DocumentRow
		for _, row := range rows {
			if l.beyond(boundary, dates.Truncate(row.Date)) {
				complete = append(complete, row)
			}
		}
		if len(complete) > 0 {
			return complete, l.including(r, boundary)
		}
		l.logger().Warn("whole batch is dated on the boundary, emitting it as complete",
			"boundary", dates.FormatISO(boundary),
			"rows", len(rows),
		)
	}
	return rows, l.excluding(r, boundary)
}

func (l *Lister) excluding(r dates.Range, boundary time.Time) dates.Range {
	if l.Order == Ascending {
		return dates.Range{From: dates.AddDays(boundary, 1), To: r.To}
	}
	return dates.Range{From: r.From, To: dates.AddDays(boundary, -1)}
}

func (l *Lister) including(r dates.Range, boundary time.Time) dates.Range {
	if l.Order == Ascending {
		return dates.Range{From: boundary, To: r.To}
	}
	return dates.Range{From: r.From, To: boundary}
}

func (l *Lister) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
