package portal

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"statement-dl/internal/browser"
	"statement-dl/internal/domain"
)

var triggerIndex = regexp.MustCompile(`,(\d+)\)$`)

// fakeDriver plays a portal page. Rows returns pages[page], the trigger
// script selects urls[index] and downloads land as the last path segment of
// the navigated URL or as clickFiles[selector].
type fakeDriver struct {
	landing string

	pages      [][][]string
	page       int
	counts     map[string]int
	urls       map[int]string
	clickFiles map[string]string
	// nextPage advances to the next page, nextDisabled is present on the last
	nextPage     string
	nextDisabled string

	downloadErr error

	clicks     []string
	keys       map[string]string
	dates      map[string]string
	triggers   []int
	downloads  []string
	cookiesSet []domain.Cookie
	closed     bool

	url     string
	pending string
}

func newFakeDriver(rows ...[]string) *fakeDriver {
	return &fakeDriver{
		pages:      [][][]string{rows},
		counts:     map[string]int{},
		urls:       map[int]string{},
		clickFiles: map[string]string{},
		keys:       map[string]string{},
		dates:      map[string]string{},
	}
}

func (f *fakeDriver) opener(opened *bool) Opener {
	return func(_ context.Context, opts browser.Options) (Driver, error) {
		*opened = true
		f.landing = opts.DownloadDir
		return f, nil
	}
}

func (f *fakeDriver) Navigate(context.Context, string) error { return nil }

func (f *fakeDriver) Click(_ context.Context, sel string) error {
	f.clicks = append(f.clicks, sel)
	if name, ok := f.clickFiles[sel]; ok {
		f.pending = name
	}
	if sel == f.nextPage {
		f.page++
	}
	return nil
}

func (f *fakeDriver) SendKeys(_ context.Context, sel, text string) error {
	f.keys[sel] = text
	return nil
}

func (f *fakeDriver) SetDate(_ context.Context, sel, value string) error {
	f.dates[sel] = value
	return nil
}

func (f *fakeDriver) Count(_ context.Context, xpath string) (int, error) {
	if xpath == f.nextDisabled && f.page >= len(f.pages)-1 {
		return 1, nil
	}
	return f.counts[xpath], nil
}

func (f *fakeDriver) Rows(context.Context, string) ([][]string, error) {
	if f.page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[f.page], nil
}

func (f *fakeDriver) Eval(_ context.Context, script string, out any) error {
	if m := triggerIndex.FindStringSubmatch(script); m != nil && strings.HasPrefix(script, "trigger(") {
		index, _ := strconv.Atoi(m[1])
		f.triggers = append(f.triggers, index)
		f.url = f.urls[index]
		return nil
	}
	if script == "url" {
		if p, ok := out.(*string); ok {
			*p = f.url
		}
	}
	return nil
}

func (f *fakeDriver) WaitVisible(context.Context, string, time.Duration) error    { return nil }
func (f *fakeDriver) WaitNotVisible(context.Context, string, time.Duration) error { return nil }
func (f *fakeDriver) WaitTitle(context.Context, string, time.Duration) error      { return nil }
func (f *fakeDriver) Watch(context.Context, string) (bool, error)                 { return true, nil }
func (f *fakeDriver) WaitStale(context.Context, time.Duration) error              { return nil }

func (f *fakeDriver) WaitNetworkIdle(context.Context, int, time.Duration) error { return nil }

func (f *fakeDriver) Poll(ctx context.Context, _, _ time.Duration, cond func(context.Context) (bool, error)) error {
	for range 10 {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return browser.ErrWaitTimeout
}

func (f *fakeDriver) Download(ctx context.Context, _ time.Duration, trigger func(ctx context.Context) error) (string, error) {
	f.pending = ""
	if err := trigger(ctx); err != nil {
		return "", err
	}
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	if f.pending == "" {
		return "", errors.New("nothing was downloaded")
	}
	f.downloads = append(f.downloads, f.pending)
	err := os.WriteFile(filepath.Join(f.landing, f.pending), []byte("%PDF-1.4\n"), 0o644)
	return f.pending, err
}

func (f *fakeDriver) NavigateForDownload(_ context.Context, url string) error {
	f.pending = path.Base(url)
	return nil
}

func (f *fakeDriver) Cookies(context.Context) ([]domain.Cookie, error) {
	return []domain.Cookie{{Name: "session", Value: "abc"}}, nil
}

func (f *fakeDriver) SetCookies(_ context.Context, cookies []domain.Cookie) error {
	f.cookiesSet = cookies
	return nil
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDriver) clicked(sel string) bool {
	for _, c := range f.clicks {
		if c == sel {
			return true
		}
	}
	return false
}
