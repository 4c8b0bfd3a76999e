// Package portal holds the per-institution configuration table and the one
// flow that logs in, lists and downloads documents for any of them.
package portal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"statement-dl/internal/lister"
)

// ErrUnknownPortal is returned by Lookup for names not in the registry
var ErrUnknownPortal = errors.New("unknown portal")

// Paging is how a portal's listing is walked
type Paging int

const (
	// PagingDateNarrowing re-queries a capped listing with narrower date filters
	PagingDateNarrowing Paging = iota
	// PagingNextButton clicks through result pages
	PagingNextButton
)

// DownloadMode is how a single document download is started
type DownloadMode int

const (
	// DownloadScriptURL asks the page for the document URL, then opens it
	DownloadScriptURL DownloadMode = iota
	// DownloadClick clicks a link inside the row
	DownloadClick
)

type Login struct {
	// Ready is visible once the login form can be filled
	Ready    string
	User     string
	Password string
	Submit   string
	// LoggedIn is present when a restored session skipped the login page
	LoggedIn string
	// DoneTitle is the page title after a successful login
	DoneTitle string
	// DoneStale waits for the user field to be replaced instead of a title
	DoneStale bool
	Timeout   time.Duration
}

type Filter struct {
	ReadState       string
	ReadStateAll    string
	ReadStateUnread string
	RangePicker     string
	RangeIndividual string
	From            string
	To              string
	Apply           string
	// StaleTimeout bounds the wait for the table to be replaced after
	// applying the filter. The table stays unchanged when the result is
	// identical, so running into it is not an error.
	StaleTimeout time.Duration
}

type Listing struct {
	Rows string
	// 0-based cell indexes, CategoryCol and TitleCol may be -1
	DateCol     int
	CategoryCol int
	TitleCol    int
	// FixedCategory and FixedTitle fill in missing columns
	FixedCategory string
	FixedTitle    string
	Empty         string
	Cap           int
	// TruncatedBanner is present when the portal cut the listing off
	TruncatedBanner string
	Order           lister.Order
	Boundary        lister.Boundary
	FromExclusive   bool
	// NextButton and NextDisabled drive PagingNextButton
	NextButton   string
	NextDisabled string
}

type Download struct {
	Mode DownloadMode
	// BaseURL is prepended to the URL the page reports
	BaseURL string
	// Prepare installs the hook that captures document URLs, it has to
	// survive repeated runs
	Prepare string
	// Reset clears the captured URL before each row
	Reset string
	// Trigger is a format string taking the row XPath and the 0-based row index
	Trigger string
	// URLExpr evaluates to the captured URL
	URLExpr string
	// RowLink is appended to the row XPath for DownloadClick
	RowLink string
	Timeout time.Duration
}

// Portal describes one institution's web banking
type Portal struct {
	Name        string
	Institution string
	StartURL    string
	Login       Login
	// DocumentsNav is clicked in order to reach the document listing
	DocumentsNav []string
	// Confirm is a TAN confirmation overlay the user has to finish in the
	// browser before the listing shows up
	Confirm        string
	ConfirmTimeout time.Duration
	DocumentsReady string
	Paging         Paging
	Filter         Filter
	Listing        Listing
	Download       Download
	Logout         string
	// RetryOverlay is clicked away before every click when present
	RetryOverlay string
}

func (p Portal) rowXPath(index int) string {
	return fmt.Sprintf("(%s)[%d]", p.Listing.Rows, index+1)
}

func (p Portal) lastRowXPath() string {
	return fmt.Sprintf("(%s)[last()]", p.Listing.Rows)
}

var registry = map[string]Portal{}

// Register adds a portal to the registry
func Register(p Portal) {
	registry[p.Name] = p
}

// Lookup returns a registered portal by name
func Lookup(name string) (Portal, error) {
	p, ok := registry[name]
	if !ok {
		return Portal{}, fmt.Errorf("%w: %s", ErrUnknownPortal, name)
	}
	return p, nil
}

// All returns the registered portals sorted by name
func All() []Portal {
	out := make([]Portal, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
