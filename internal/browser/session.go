// Package browser drives a Chrome session for the portal flows.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

var (
	// ErrElementNotFound is returned when a selector matched nothing in time
	ErrElementNotFound = errors.New("element not found")
	// ErrWaitTimeout is returned when a polled condition never became true
	ErrWaitTimeout = errors.New("timed out waiting for condition")
)

type Options struct {
	// ExecPath of the Chrome binary, empty to search the PATH
	ExecPath    string
	Headless    bool
	DownloadDir string
	UserDataDir string
	// ElementTimeout bounds every element lookup
	ElementTimeout time.Duration
	// PageTimeout bounds navigations
	PageTimeout time.Duration
	Logger      *slog.Logger
}

// Session is an exclusively owned browser tab plus the allocator that
// started it.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        Options
	logger      *slog.Logger
	closeOnce   sync.Once
}

// Open starts Chrome and configures downloads into opts.DownloadDir
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = 10 * time.Second
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-features", "TranslateUI"),
		chromedp.WindowSize(1400, 1000),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	err := chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debug("browser started", "headless", opts.Headless, "download_dir", opts.DownloadDir)
	return &Session{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		opts:        opts,
		logger:      logger,
	}, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		err = chromedp.Cancel(closeCtx)
		s.cancel()
		s.allocCancel()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// run executes actions on the tab, bounded by timeout and by ctx
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// lookup runs element actions and turns a timeout into ErrElementNotFound
func (s *Session) lookup(ctx context.Context, sel string, actions ...chromedp.Action) error {
	err := s.run(ctx, s.opts.ElementTimeout, actions...)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.opts.PageTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, s.opts.ElementTimeout, chromedp.Location(&url))
	return url, err
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, s.opts.ElementTimeout, chromedp.Title(&title))
	return title, err
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.lookup(ctx, sel, chromedp.Click(sel, chromedp.BySearch))
}

func (s *Session) SendKeys(ctx context.Context, sel, text string) error {
	return s.lookup(ctx, sel, chromedp.SendKeys(sel, text, chromedp.BySearch))
}

// Text returns the visible text of the first match
func (s *Session) Text(ctx context.Context, sel string) (string, error) {
	var text string
	err := s.lookup(ctx, sel, chromedp.Text(sel, &text, chromedp.BySearch))
	return text, err
}

// Eval runs a script and stores its JSON result in out
func (s *Session) Eval(ctx context.Context, script string, out any) error {
	var discard any
	if out == nil {
		out = &discard
	}
	return s.run(ctx, s.opts.ElementTimeout, chromedp.Evaluate(script, out))
}

func (s *Session) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.BySearch))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s not visible after %s", ErrWaitTimeout, sel, timeout)
	}
	return err
}

func (s *Session) WaitNotVisible(ctx context.Context, sel string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitNotVisible(sel, chromedp.BySearch))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s still visible after %s", ErrWaitTimeout, sel, timeout)
	}
	return err
}

// Poll evaluates cond every interval until it is true, returning
// ErrWaitTimeout once timeout has passed.
func (s *Session) Poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	return poll(ctx, timeout, interval, cond)
}

func poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(pollCtx)
		if err != nil && pollCtx.Err() == nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// WaitTitle waits until the page title equals title
func (s *Session) WaitTitle(ctx context.Context, title string, timeout time.Duration) error {
	err := s.Poll(ctx, timeout, 500*time.Millisecond, func(ctx context.Context) (bool, error) {
		current, err := s.Title(ctx)
		if err != nil {
			return false, nil
		}
		return current == title, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for title %q: %w", title, err)
	}
	return nil
}
