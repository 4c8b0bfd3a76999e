package portal

import (
	"context"
	"time"

	"statement-dl/internal/browser"
	"statement-dl/internal/domain"
)

// Driver is the part of a browser session the flow depends on
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, sel string) error
	SendKeys(ctx context.Context, sel, text string) error
	SetDate(ctx context.Context, sel, value string) error
	Count(ctx context.Context, xpath string) (int, error)
	Rows(ctx context.Context, xpath string) ([][]string, error)
	Eval(ctx context.Context, script string, out any) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	WaitNotVisible(ctx context.Context, sel string, timeout time.Duration) error
	WaitTitle(ctx context.Context, title string, timeout time.Duration) error
	Watch(ctx context.Context, xpath string) (bool, error)
	WaitStale(ctx context.Context, timeout time.Duration) error
	WaitNetworkIdle(ctx context.Context, maxConnections int, maxWait time.Duration) error
	Poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error
	Download(ctx context.Context, timeout time.Duration, trigger func(ctx context.Context) error) (string, error)
	NavigateForDownload(ctx context.Context, url string) error
	Cookies(ctx context.Context) ([]domain.Cookie, error)
	SetCookies(ctx context.Context, cookies []domain.Cookie) error
	Close() error
}

var _ Driver = (*browser.Session)(nil)

// Opener starts a browser session
type Opener func(ctx context.Context, opts browser.Options) (Driver, error)

// OpenChrome is the Opener backed by chromedp
func OpenChrome(ctx context.Context, opts browser.Options) (Driver, error) {
	s, err := browser.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
