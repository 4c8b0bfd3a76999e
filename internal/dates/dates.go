// Package dates parses the date formats used on the command line and in
// portal listings, and models the inclusive date range sent to a portal filter.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	isoLayout    = "2006-01-02"
	portalLayout = "02.01.2006"
)

// ErrInvalidDate is returned for input that is neither "today" nor YYYY-MM-DD
var ErrInvalidDate = errors.New("invalid date")

var isoPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Now is the clock used to resolve "today"
var Now = time.Now

// Parse accepts the literal "today" or a strict YYYY-MM-DD date
func Parse(s string) (time.Time, error) {
	if s == "today" {
		return Truncate(Now()), nil
	}
	if !isoPattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w %q: expected YYYY-MM-DD or 'today'", ErrInvalidDate, s)
	}
	t, err := time.ParseInLocation(isoLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: expected YYYY-MM-DD or 'today': %v", ErrInvalidDate, s, err)
	}
	return t, nil
}

// ParseListDate parses the DD.MM.YYYY format shown in portal tables
func ParseListDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(portalLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: expected DD.MM.YYYY", ErrInvalidDate, s)
	}
	return t, nil
}

// Truncate drops the time of day
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

func FormatISO(t time.Time) string {
	return t.Format(isoLayout)
}

func FormatPortal(t time.Time) string {
	return t.Format(portalLayout)
}

// Range is an inclusive date range as presented to a portal filter
type Range struct {
	From time.Time
	To   time.Time
}

// Validate checks that From is not after To
func (r Range) Validate() error {
	if r.From.After(r.To) {
		return fmt.Errorf("from date %s is after to date %s", FormatISO(r.From), FormatISO(r.To))
	}
	return nil
}

// Empty reports whether narrowing left no day in the range
func (r Range) Empty() bool {
	return r.From.After(r.To)
}

// Days is the number of calendar days covered, 0 for an empty range
func (r Range) Days() int {
	if r.Empty() {
		return 0
	}
	from := time.Date(r.From.Year(), r.From.Month(), r.From.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(r.To.Year(), r.To.Month(), r.To.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours()/24) + 1
}

func (r Range) String() string {
	return FormatISO(r.From) + " - " + FormatISO(r.To)
}
