package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"statement-dl/internal/domain"
)

// WaitNetworkIdle waits until at most maxConnections requests have been in
// flight for 500ms, like Puppeteer's networkidle0/networkidle2.
func (s *Session) WaitNetworkIdle(ctx context.Context, maxConnections int, maxWait time.Duration) error {
	return s.run(ctx, maxWait+time.Second, waitForNetworkIdle(s.ctx, maxConnections, maxWait))
}

func waitForNetworkIdle(listenCtx context.Context, maxConnections int, maxWait time.Duration) chromedp.Action {
	idleDuration := 500 * time.Millisecond

	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}

		var mu sync.Mutex
		activeRequests := make(map[network.RequestID]bool)

		// the listener is removed once lctx is cancelled
		lctx, cancel := context.WithCancel(listenCtx)
		defer cancel()
		chromedp.ListenTarget(lctx, func(ev any) {
			mu.Lock()
			defer mu.Unlock()

			switch ev := ev.(type) {
			case *network.EventRequestWillBeSent:
				activeRequests[ev.RequestID] = true
			case *network.EventLoadingFinished:
				delete(activeRequests, ev.RequestID)
			case *network.EventLoadingFailed:
				delete(activeRequests, ev.RequestID)
			}
		})

		idleSince := time.Now()
		startTime := time.Now()
		checkInterval := 50 * time.Millisecond
		for {
			mu.Lock()
			activeCount := len(activeRequests)
			mu.Unlock()

			if activeCount <= maxConnections {
				if time.Since(idleSince) >= idleDuration {
					return nil
				}
			} else {
				idleSince = time.Now()
			}

			if time.Since(startTime) > maxWait {
				return fmt.Errorf("%w: network idle (maxConnections: %d, active: %d)", ErrWaitTimeout, maxConnections, activeCount)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(checkInterval):
			}
		}
	})
}

// Cookies returns all cookies of the browser session
func (s *Session) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, s.opts.ElementTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		result, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = result
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to extract cookies: %w", err)
	}

	out := make([]domain.Cookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		// session cookies report -1
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, cookie)
	}
	return out, nil
}

// SetCookies restores cookies of an earlier session
func (s *Session) SetCookies(ctx context.Context, cookies []domain.Cookie) error {
	return s.run(ctx, s.opts.ElementTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			set := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if !c.Expires.IsZero() {
				expires := cdp.TimeSinceEpoch(c.Expires)
				set = set.WithExpires(&expires)
			}
			if err := set.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}
