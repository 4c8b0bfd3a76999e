package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// ErrDownloadCanceled is returned when the browser aborted a started download
var ErrDownloadCanceled = errors.New("download canceled")

// Download runs trigger and waits for the download it starts to complete.
// It returns the filename the portal suggested, which is the name of the file
// in the download directory.
//
// A navigation that starts a download never finishes loading, so timeouts
// and aborted navigations from trigger are expected and ignored.
func (s *Session) Download(ctx context.Context, timeout time.Duration, trigger func(ctx context.Context) error) (string, error) {
	var (
		mu       sync.Mutex
		guid     string
		filename string
	)
	done := make(chan error, 1)

	lctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	chromedp.ListenTarget(lctx, func(ev any) {
		mu.Lock()
		defer mu.Unlock()

		switch ev := ev.(type) {
		case *browser.EventDownloadWillBegin:
			if guid == "" {
				guid = ev.GUID
				filename = ev.SuggestedFilename
			}
		case *browser.EventDownloadProgress:
			if ev.GUID != guid {
				return
			}
			switch ev.State {
			case browser.DownloadProgressStateCompleted:
				select {
				case done <- nil:
				default:
				}
			case browser.DownloadProgressStateCanceled:
				select {
				case done <- ErrDownloadCanceled:
				default:
				}
			}
		}
	})

	if err := trigger(ctx); err != nil && !expectedDownloadError(err) {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
	case <-timer.C:
		return "", fmt.Errorf("%w: download did not finish within %s", ErrWaitTimeout, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	s.logger.Debug("download finished", "file", filename)
	return filename, nil
}

// NavigateForDownload opens a URL that answers with a file. The navigation
// is cut short because it never completes normally.
func (s *Session) NavigateForDownload(ctx context.Context, url string) error {
	return s.run(ctx, 3*time.Second, chromedp.Navigate(url))
}

func expectedDownloadError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "net::ERR_ABORTED")
}
