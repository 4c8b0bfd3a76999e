package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	countScript = `document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`

	rowsScript = `(function() {
	const rows = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const out = [];
	for (let i = 0; i < rows.snapshotLength; i++) {
		const cells = rows.snapshotItem(i).querySelectorAll('td');
		out.push(Array.from(cells).map(td => td.innerText.trim()));
	}
	return out;
})()`

	unlockScript = `(function() {
	const el = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	el.removeAttribute('readonly');
	el.value = '';
	return true;
})()`

	markScript = `(function() {
	window.__statementDlWatched = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	return window.__statementDlWatched !== null;
})()`

	staleScript = `!(window.__statementDlWatched && window.__statementDlWatched.isConnected)`
)

// JSString quotes s as a JavaScript string literal for use in scripts
// built with fmt.Sprintf
func JSString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Count returns the number of nodes matching an XPath expression without
// waiting for them to appear.
func (s *Session) Count(ctx context.Context, xpath string) (int, error) {
	var n int
	if err := s.Eval(ctx, fmt.Sprintf(countScript, JSString(xpath)), &n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", xpath, err)
	}
	return n, nil
}

func (s *Session) Exists(ctx context.Context, xpath string) (bool, error) {
	n, err := s.Count(ctx, xpath)
	return n > 0, err
}

// Rows returns the trimmed cell texts of every table row matching xpath
func (s *Session) Rows(ctx context.Context, xpath string) ([][]string, error) {
	var rows [][]string
	if err := s.Eval(ctx, fmt.Sprintf(rowsScript, JSString(xpath)), &rows); err != nil {
		return nil, fmt.Errorf("failed to read rows %s: %w", xpath, err)
	}
	return rows, nil
}

// SetDate replaces the value of a (possibly read-only) date input and
// confirms it with Enter.
func (s *Session) SetDate(ctx context.Context, xpath, value string) error {
	var found bool
	if err := s.Eval(ctx, fmt.Sprintf(unlockScript, JSString(xpath)), &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, xpath)
	}
	return s.lookup(ctx, xpath,
		chromedp.Click(xpath, chromedp.BySearch),
		chromedp.SendKeys(xpath, value+kb.Enter, chromedp.BySearch),
	)
}

// Watch remembers the first node matching xpath so WaitStale can detect its
// replacement. It reports whether a node was found.
func (s *Session) Watch(ctx context.Context, xpath string) (bool, error) {
	var found bool
	err := s.Eval(ctx, fmt.Sprintf(markScript, JSString(xpath)), &found)
	return found, err
}

// WaitStale waits until the watched node was removed from the document
func (s *Session) WaitStale(ctx context.Context, timeout time.Duration) error {
	return s.Poll(ctx, timeout, 100*time.Millisecond, func(ctx context.Context) (bool, error) {
		var stale bool
		if err := s.Eval(ctx, staleScript, &stale); err != nil {
			return false, err
		}
		return stale, nil
	})
}
