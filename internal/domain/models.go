package domain

import (
	"fmt"
	"time"
)

// DocumentRow is one entry of a portal's document listing
type DocumentRow struct {
	Date     time.Time
	Category string
	Title    string
	// Index is the 0-based position of the row in the listing it was read from
	Index int
	// PortalFilename is only known once the download has completed
	PortalFilename string
	// Occurrence counts earlier rows of the same listing with the same date,
	// category and title
	Occurrence int
	// DocumentID is the portal's id, known once the download URL is captured
	DocumentID string
}

// Key identifies a document in the download ledger. Rows with equal date,
// category and title are told apart by the portal id, or by their occurrence
// when the id is not known.
func (r DocumentRow) Key() string {
	key := r.metadataKey()
	switch {
	case r.DocumentID != "":
		return key + "|id:" + r.DocumentID
	case r.Occurrence > 0:
		return fmt.Sprintf("%s#%d", key, r.Occurrence)
	}
	return key
}

func (r DocumentRow) metadataKey() string {
	return fmt.Sprintf("%s|%s|%s", r.Date.Format("2006-01-02"), r.Category, r.Title)
}

// Occurrences numbers rows that share date, category and title
type Occurrences map[string]int

// Mark returns row with Occurrence set to the number of rows with the same
// metadata marked before it.
func (o Occurrences) Mark(row DocumentRow) DocumentRow {
	key := row.metadataKey()
	row.Occurrence = o[key]
	o[key]++
	return row
}

// Downloaded is a document that was fetched and stored during a run
type Downloaded struct {
	Portal   string
	Row      DocumentRow
	Path     string
	Pages    int
	Finished time.Time
}

// Cookie is a browser cookie kept between runs to reuse a portal session
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
	Expires  time.Time `json:"expires,omitempty"`
}
