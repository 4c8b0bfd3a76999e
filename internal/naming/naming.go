// Package naming turns portal document metadata into stable file names.
package naming

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	// portals append the document date to its title
	dateSuffix = regexp.MustCompile(` vom \d{2}\.\d{2}\.\d{4}$`)
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	underscore = regexp.MustCompile(`_{2,}`)
	docID      = regexp.MustCompile(`(?i)(\d+)\.pdf$`)
)

// Derive builds "<isoDate>_<title>_<id>.pdf" from a listing row and the
// filename the portal assigned to the download. The id segment is left out
// when portalFilename carries no trailing number. Derive is pure, so an
// existing file at the derived path means the document was already fetched.
func Derive(rawTitle, isoDate, portalFilename string) string {
	parts := []string{isoDate}
	if title := Normalize(dateSuffix.ReplaceAllString(rawTitle, "")); title != "" {
		parts = append(parts, title)
	}
	if id := DocumentID(portalFilename); id != "" {
		parts = append(parts, id)
	}
	return strings.Join(parts, "_") + ".pdf"
}

// Normalize replaces every run of non-word characters with a single
// underscore and trims underscores from both ends.
func Normalize(s string) string {
	s = nonWord.ReplaceAllString(s, "_")
	s = underscore.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// DocumentID returns the digits in front of a trailing ".pdf", or ""
func DocumentID(portalFilename string) string {
	m := docID.FindStringSubmatch(portalFilename)
	if m == nil {
		return ""
	}
	return m[1]
}

// Dir is the sub-directory used for a document category
func Dir(category string) string {
	return Normalize(category)
}

// FromURL returns the unescaped last path segment of a download URL
func FromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if unescaped, err := url.PathUnescape(rawURL); err == nil {
		p = unescaped
	}
	return path.Base(p)
}

// Choose keeps the portal's filename or derives one
func Choose(keep bool, rawTitle, isoDate, portalFilename string) string {
	if keep && portalFilename != "" {
		return portalFilename
	}
	return Derive(rawTitle, isoDate, portalFilename)
}
