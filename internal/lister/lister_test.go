package lister

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statement-dl/internal/dates"
	"statement-dl/internal/domain"
)

// fakePortal mimics a listing view that shows at most cap rows of the
// matching documents in a fixed sort order.
type fakePortal struct {
	docs    []domain.DocumentRow
	cap     int
	order   Order
	banner  bool
	queries []dates.Range
	err     error
}

func (f *fakePortal) Query(_ context.Context, r dates.Range, _ bool) (Batch, error) {
	f.queries = append(f.queries, r)
	if f.err != nil {
		return Batch{}, f.err
	}

	var matching []domain.DocumentRow
	for _, d := range f.docs {
		if !d.Date.Before(r.From) && !d.Date.After(r.To) {
			matching = append(matching, d)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		if f.order == Ascending {
			return matching[i].Date.Before(matching[j].Date)
		}
		return matching[i].Date.After(matching[j].Date)
	})

	truncated := false
	if len(matching) > f.cap {
		matching = matching[:f.cap]
		truncated = f.banner
	}
	return Batch{Rows: matching, Truncated: truncated}, nil
}

func day(n int) time.Time {
	return time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local).AddDate(0, 0, n)
}

// docsPerDay creates perDay documents for each of the first days days
func docsPerDay(days, perDay int) []domain.DocumentRow {
	var docs []domain.DocumentRow
	for d := 0; d < days; d++ {
		for i := 0; i < perDay; i++ {
			docs = append(docs, domain.DocumentRow{
				Date:     day(d),
				Category: "Kontoauszug",
				Title:    fmt.Sprintf("Dokument %d-%d", d, i),
			})
		}
	}
	return docs
}

func collect(t *testing.T, l *Lister, r dates.Range) []domain.DocumentRow {
	t.Helper()
	var rows []domain.DocumentRow
	for row, err := range l.List(context.Background(), r, true) {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func assertUnique(t *testing.T, rows []domain.DocumentRow) {
	t.Helper()
	seen := map[string]bool{}
	for _, row := range rows {
		assert.False(t, seen[row.Key()], "duplicate row %s", row.Key())
		seen[row.Key()] = true
	}
}

func fullRange() dates.Range {
	return dates.Range{From: day(0), To: day(30)}
}

func TestList_SingleBatch(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(5, 2), cap: 100}
	l := &Lister{Source: src, Cap: 100}

	rows := collect(t, l, fullRange())

	assert.Len(t, rows, 10)
	assert.Equal(t, 1, l.Stats().Iterations)
	assert.Len(t, src.queries, 1)
}

// sameTitlePerDay creates perDay documents per day that only differ in the
// portal, like two purchase confirmations of the same security on one day.
func sameTitlePerDay(days, perDay int) []domain.DocumentRow {
	var docs []domain.DocumentRow
	for d := 0; d < days; d++ {
		for i := 0; i < perDay; i++ {
			docs = append(docs, domain.DocumentRow{
				Date:     day(d),
				Category: "Wertpapierabrechnung",
				Title:    "Wertpapierabrechnung Kauf",
			})
		}
	}
	return docs
}

func TestList_KeepsRowsWithEqualMetadata(t *testing.T) {
	for _, tc := range []struct {
		name     string
		cap      int
		boundary Boundary
	}{
		{"single batch", 100, ExcludeBoundary},
		{"narrowed with requery", 3, RequeryBoundary},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakePortal{docs: sameTitlePerDay(3, 2), cap: tc.cap, banner: true}
			l := &Lister{Source: src, Cap: tc.cap, Boundary: tc.boundary}

			rows := collect(t, l, dates.Range{From: day(0), To: day(2)})

			require.Len(t, rows, 6)
			assertUnique(t, rows)
			for i, row := range rows {
				assert.Equal(t, i%2, row.Occurrence, "row %d", i)
			}
			assert.Equal(t, 6, l.Stats().Rows)
		})
	}
}

func TestList_TerminatesAfterFullBatchesPlusOne(t *testing.T) {
	for _, order := range []Order{Descending, Ascending} {
		src := &fakePortal{docs: docsPerDay(10, 1), cap: 3, order: order}
		l := &Lister{Source: src, Cap: 3, Order: order, Boundary: ExcludeBoundary}

		rows := collect(t, l, dates.Range{From: day(0), To: day(9)})

		assert.Len(t, rows, 10)
		assertUnique(t, rows)
		// 3 full batches of 3, then a partial batch of 1
		assert.Equal(t, 4, l.Stats().Iterations)
		assert.Equal(t, 10, l.Stats().Rows)
	}
}

func TestList_AscendingNextFromIsAfterBoundary(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(10, 1), cap: 3, order: Ascending}
	l := &Lister{Source: src, Cap: 3, Order: Ascending, Boundary: ExcludeBoundary}

	rows := collect(t, l, dates.Range{From: day(0), To: day(9)})
	require.Len(t, rows, 10)
	require.Len(t, src.queries, 4)

	// boundaries of the full batches are day 2, 5 and 8
	for i, boundary := range []time.Time{day(2), day(5), day(8)} {
		next := src.queries[i+1]
		assert.True(t, next.From.After(boundary), "query %d from %s must be after %s", i+1, next.From, boundary)
		assert.Equal(t, day(9), next.To)
	}
}

func TestList_DescendingNextToIsBeforeBoundary(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(10, 1), cap: 3}
	l := &Lister{Source: src, Cap: 3, Boundary: ExcludeBoundary}

	collect(t, l, dates.Range{From: day(0), To: day(9)})
	require.Len(t, src.queries, 4)

	for i, boundary := range []time.Time{day(7), day(4), day(1)} {
		next := src.queries[i+1]
		assert.True(t, next.To.Before(boundary), "query %d to %s must be before %s", i+1, next.To, boundary)
		assert.Equal(t, day(0), next.From)
	}
}

func TestList_RequeryKeepsBoundaryRows(t *testing.T) {
	// three documents per day: a cap of 4 cuts every day in half
	src := &fakePortal{docs: docsPerDay(6, 3), cap: 4, banner: true}
	l := &Lister{Source: src, Cap: 4, Boundary: RequeryBoundary}

	rows := collect(t, l, dates.Range{From: day(0), To: day(5)})

	assert.Len(t, rows, 18)
	assertUnique(t, rows)

	// the boundary date is queried again
	require.GreaterOrEqual(t, len(src.queries), 2)
	assert.Equal(t, day(4), src.queries[1].To)
}

func TestList_ExcludeLosesSplitBoundaryRows(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(6, 3), cap: 4, banner: true}
	l := &Lister{Source: src, Cap: 4, Boundary: ExcludeBoundary}

	rows := collect(t, l, dates.Range{From: day(0), To: day(5)})

	assertUnique(t, rows)
	assert.Less(t, len(rows), 18)
}

func TestList_RequerySingleDayBatchDoesNotLoop(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(3, 5), cap: 5}
	l := &Lister{Source: src, Cap: 5, Boundary: RequeryBoundary}

	rows := collect(t, l, dates.Range{From: day(0), To: day(2)})

	assert.Len(t, rows, 15)
	assertUnique(t, rows)
	assert.LessOrEqual(t, l.Stats().Iterations, 4)
}

func TestList_CapOnLastDayStops(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(1, 4), cap: 4}
	l := &Lister{Source: src, Cap: 4}

	rows := collect(t, l, dates.Range{From: day(0), To: day(0)})

	assert.Len(t, rows, 4)
	assert.Equal(t, 1, l.Stats().Iterations)
}

func TestList_FromExclusiveShiftsLowerBound(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(3, 1), cap: 100}
	l := &Lister{Source: src, Cap: 100, FromExclusive: true}

	collect(t, l, dates.Range{From: day(1), To: day(2)})

	require.Len(t, src.queries, 1)
	assert.Equal(t, day(0), src.queries[0].From)
	assert.Equal(t, day(2), src.queries[0].To)
}

func TestList_BannerTruncation(t *testing.T) {
	// the banner marks truncation even when the cap is unknown
	src := &fakePortal{docs: docsPerDay(4, 1), cap: 2, banner: true, order: Ascending}
	l := &Lister{Source: src, Order: Ascending}

	rows := collect(t, l, dates.Range{From: day(0), To: day(3)})

	assert.Len(t, rows, 4)
	assert.Equal(t, 2, l.Stats().Iterations)
}

func TestList_SourceError(t *testing.T) {
	boom := errors.New("element not found")
	l := &Lister{Source: &fakePortal{err: boom, cap: 1}, Cap: 1}

	var errs []error
	for _, err := range l.List(context.Background(), fullRange(), false) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestList_InvalidRange(t *testing.T) {
	l := &Lister{Source: &fakePortal{cap: 1}, Cap: 1}

	for _, err := range l.List(context.Background(), dates.Range{From: day(2), To: day(1)}, false) {
		assert.Error(t, err)
	}
}

func TestList_StopsWhenConsumerBreaks(t *testing.T) {
	src := &fakePortal{docs: docsPerDay(10, 1), cap: 3}
	l := &Lister{Source: src, Cap: 3}

	count := 0
	for _, err := range l.List(context.Background(), dates.Range{From: day(0), To: day(9)}, true) {
		require.NoError(t, err)
		count++
		if count == 2 {
			break
		}
	}

	assert.Len(t, src.queries, 1)
}

func TestList_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &Lister{Source: &fakePortal{cap: 1}, Cap: 1}

	for _, err := range l.List(ctx, fullRange(), true) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
