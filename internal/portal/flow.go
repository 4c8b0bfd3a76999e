package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"statement-dl/internal/archive"
	"statement-dl/internal/browser"
	"statement-dl/internal/config"
	"statement-dl/internal/dates"
	"statement-dl/internal/domain"
	"statement-dl/internal/lister"
	"statement-dl/internal/naming"
	"statement-dl/internal/notify"
	"statement-dl/internal/pdfcheck"
	"statement-dl/internal/store"
)

const navTimeout = 60 * time.Second

// Options are the per-run choices of the user
type Options struct {
	Range         dates.Range
	AllFiles      bool
	KeepFilenames bool
	SubDirs       bool
	Headless      bool
	Username      string
	Password      string
	ExecPath      string
	UserDataDir   string
	// ElementTimeout bounds every element lookup
	ElementTimeout time.Duration
}

// Validate rejects option combinations before a browser is started
func (o Options) Validate() error {
	if o.Headless && (o.Username == "" || o.Password == "") {
		return config.ErrHeadlessNeedsCredentials
	}
	return o.Range.Validate()
}

type Notifier interface {
	Send(ctx context.Context, s notify.Summary) error
}

// Result is what a run did
type Result struct {
	Listed     int
	Skipped    int
	Downloaded []domain.Downloaded
}

// Flow downloads the documents of one portal
type Flow struct {
	Portal   Portal
	Options  Options
	Archive  *archive.Archive
	Open     Opener
	Ledger   store.DownloadRepository
	Sessions store.SessionRepository
	Notifier Notifier
	Inspect  func(path string) (pdfcheck.Info, error)
	// Limiter paces downloads
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// NewFlow returns a Flow with Chrome, no ledger and one download per second
func NewFlow(p Portal, opts Options, a *archive.Archive, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		Portal:   p,
		Options:  opts,
		Archive:  a,
		Open:     OpenChrome,
		Ledger:   store.Nop{},
		Sessions: store.Nop{},
		Inspect:  pdfcheck.Inspect,
		Limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		Logger:   logger.With("portal", p.Name),
	}
}

// Run logs in, walks the listing and downloads every document that is not
// on disk yet. The browser is logged out and closed on every exit path.
func (f *Flow) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := f.Options.Validate(); err != nil {
		return res, err
	}
	if err := f.Archive.Prepare(); err != nil {
		return res, err
	}

	d, err := f.Open(ctx, browser.Options{
		ExecPath:       f.Options.ExecPath,
		Headless:       f.Options.Headless,
		DownloadDir:    f.Archive.Landing,
		UserDataDir:    f.Options.UserDataDir,
		ElementTimeout: f.Options.ElementTimeout,
		Logger:         f.Logger,
	})
	if err != nil {
		return res, err
	}
	defer f.release(d)

	f.restoreSession(ctx, d)

	f.Logger.Info("opening portal", "url", f.Portal.StartURL)
	if err := d.Navigate(ctx, f.Portal.StartURL); err != nil {
		return res, err
	}
	if err := f.login(ctx, d); err != nil {
		return res, fmt.Errorf("login failed: %w", err)
	}
	f.saveSession(ctx, d)

	if err := f.openDocuments(ctx, d); err != nil {
		return res, fmt.Errorf("failed to open document listing: %w", err)
	}

	f.Logger.Info("downloading files", "dest", f.Archive.Dest, "range", f.Options.Range.String(), "all_files", f.Options.AllFiles)
	switch f.Portal.Paging {
	case PagingNextButton:
		err = f.walkPages(ctx, d, &res)
	default:
		err = f.walkDateRange(ctx, d, &res)
	}
	if err != nil {
		return res, err
	}

	f.Logger.Info("run finished", "listed", res.Listed, "downloaded", len(res.Downloaded), "skipped", res.Skipped)
	f.notify(ctx, res)
	return res, nil
}

func (f *Flow) release(d Driver) {
	if f.Portal.Logout != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := click(ctx, d, f.Portal, f.Portal.Logout); err != nil {
			f.Logger.Warn("logout failed", "error", err)
		}
	}
	if err := d.Close(); err != nil {
		f.Logger.Warn("failed to close browser", "error", err)
	}
}

func (f *Flow) restoreSession(ctx context.Context, d Driver) {
	cookies, err := f.Sessions.Get(ctx, f.Portal.Name)
	if err != nil {
		if !errors.Is(err, store.ErrNoSession) {
			f.Logger.Warn("could not read stored session", "error", err)
		}
		return
	}
	if err := d.SetCookies(ctx, cookies); err != nil {
		f.Logger.Warn("could not restore session cookies", "error", err)
		return
	}
	f.Logger.Debug("restored session cookies", "count", len(cookies))
}

func (f *Flow) saveSession(ctx context.Context, d Driver) {
	cookies, err := d.Cookies(ctx)
	if err != nil {
		f.Logger.Warn("could not read session cookies", "error", err)
		return
	}
	if err := f.Sessions.Save(ctx, f.Portal.Name, cookies); err != nil {
		f.Logger.Warn("failed to save session cookies", "error", err)
	}
}

func (f *Flow) login(ctx context.Context, d Driver) error {
	l := f.Portal.Login
	if l.LoggedIn != "" {
		if n, err := d.Count(ctx, l.LoggedIn); err == nil && n > 0 {
			f.Logger.Info("session still valid, skipping login")
			return nil
		}
	}

	if l.Ready != "" {
		if err := d.WaitVisible(ctx, l.Ready, navTimeout); err != nil {
			return err
		}
	}
	if l.DoneStale {
		if _, err := d.Watch(ctx, l.User); err != nil {
			return err
		}
	}

	user, pw := f.Options.Username, f.Options.Password
	if user != "" {
		if err := d.SendKeys(ctx, l.User, user); err != nil {
			return err
		}
	}
	if pw != "" {
		if err := d.SendKeys(ctx, l.Password, pw); err != nil {
			return err
		}
	}
	if user != "" && pw != "" {
		if err := click(ctx, d, f.Portal, l.Submit); err != nil {
			return err
		}
	} else {
		if err := click(ctx, d, f.Portal, l.User); err != nil {
			return err
		}
		f.Logger.Info("please login in the browser", "timeout", l.Timeout)
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	switch {
	case l.DoneStale:
		return d.WaitStale(ctx, timeout)
	case l.DoneTitle != "":
		return d.WaitTitle(ctx, l.DoneTitle, timeout)
	}
	return nil
}

func (f *Flow) openDocuments(ctx context.Context, d Driver) error {
	for _, sel := range f.Portal.DocumentsNav {
		if err := d.WaitVisible(ctx, sel, navTimeout); err != nil {
			return err
		}
		if err := click(ctx, d, f.Portal, sel); err != nil {
			return err
		}
	}
	if f.Portal.Confirm != "" {
		f.Logger.Info("please confirm the login in the browser", "timeout", f.Portal.ConfirmTimeout)
		if err := d.WaitNotVisible(ctx, f.Portal.Confirm, f.Portal.ConfirmTimeout); err != nil {
			return err
		}
	}
	return d.WaitVisible(ctx, f.Portal.DocumentsReady, navTimeout)
}

func (f *Flow) walkDateRange(ctx context.Context, d Driver, res *Result) error {
	l := &lister.Lister{
		Source:        &FilterSource{Portal: f.Portal, Driver: d, Logger: f.Logger},
		Cap:           f.Portal.Listing.Cap,
		Order:         f.Portal.Listing.Order,
		Boundary:      f.Portal.Listing.Boundary,
		FromExclusive: f.Portal.Listing.FromExclusive,
		Logger:        f.Logger,
	}

	// opening an unread document drops it from the unread listing, so the
	// row index shifts by the number of documents opened in this batch
	opened, lastIndex := 0, -1
	for row, err := range l.List(ctx, f.Options.Range, f.Options.AllFiles) {
		if err != nil {
			return err
		}
		if row.Index <= lastIndex {
			opened = 0
		}
		lastIndex = row.Index

		index := row.Index
		if !f.Options.AllFiles {
			index -= opened
		}
		res.Listed++
		wasOpened, err := f.fetch(ctx, d, row, index, res)
		if err != nil {
			return err
		}
		if wasOpened {
			opened++
		}
	}

	stats := l.Stats()
	f.Logger.Debug("listing complete", "queries", stats.Iterations, "rows", stats.Rows)
	return nil
}

func (f *Flow) walkPages(ctx context.Context, d Driver, res *Result) error {
	listing := f.Portal.Listing
	occurrences := domain.Occurrences{}
	for page := 1; ; page++ {
		rows, err := readRows(ctx, d, listing)
		if err != nil {
			return err
		}
		f.Logger.Debug("reading page", "page", page, "rows", len(rows))

		for _, row := range rows {
			if row.Date.Before(f.Options.Range.From) || row.Date.After(f.Options.Range.To) {
				continue
			}
			res.Listed++
			if _, err := f.fetch(ctx, d, occurrences.Mark(row), row.Index, res); err != nil {
				return err
			}
		}

		if listing.NextButton == "" {
			return nil
		}
		disabled, err := d.Count(ctx, listing.NextDisabled)
		if err != nil {
			return err
		}
		if disabled > 0 {
			return nil
		}

		if _, err := d.Watch(ctx, listing.NextButton); err != nil {
			return err
		}
		if err := click(ctx, d, f.Portal, listing.NextButton); err != nil {
			return err
		}
		if err := d.WaitStale(ctx, 30*time.Second); err != nil {
			return fmt.Errorf("next page did not load: %w", err)
		}
		if err := d.WaitVisible(ctx, f.Portal.DocumentsReady, navTimeout); err != nil {
			return err
		}
	}
}

// fetch downloads one row unless it is already stored. It reports whether
// the document was opened on the portal, which marks it as read.
func (f *Flow) fetch(ctx context.Context, d Driver, row domain.DocumentRow, index int, res *Result) (bool, error) {
	isoDate := dates.FormatISO(row.Date)
	f.Logger.Info("document", "date", isoDate, "type", row.Category, "name", row.Title)

	if f.Portal.Download.Mode == DownloadClick {
		return f.fetchByClick(ctx, d, row, index, res)
	}
	return f.fetchByURL(ctx, d, row, index, res)
}

func (f *Flow) subDir(row domain.DocumentRow) string {
	if !f.Options.SubDirs {
		return ""
	}
	return naming.Dir(row.Category)
}

func (f *Flow) fetchByURL(ctx context.Context, d Driver, row domain.DocumentRow, index int, res *Result) (bool, error) {
	dl := f.Portal.Download
	for _, script := range []string{dl.Prepare, dl.Reset} {
		if script == "" {
			continue
		}
		if err := d.Eval(ctx, script, nil); err != nil {
			return false, fmt.Errorf("failed to prepare document download: %w", err)
		}
	}

	trigger := fmt.Sprintf(dl.Trigger, browser.JSString(f.Portal.rowXPath(index)), index)
	if err := d.Eval(ctx, trigger, nil); err != nil {
		return false, fmt.Errorf("failed to open document %d: %w", index+1, err)
	}

	var url string
	err := d.Poll(ctx, dl.Timeout, 100*time.Millisecond, func(ctx context.Context) (bool, error) {
		if err := d.Eval(ctx, dl.URLExpr, &url); err != nil {
			return false, err
		}
		return url != "" && url != "none", nil
	})
	if err != nil {
		return true, fmt.Errorf("waiting for document URL: %w", err)
	}

	portalFilename := naming.FromURL(url)
	row.DocumentID = naming.DocumentID(portalFilename)
	if f.recorded(ctx, row) {
		res.Skipped++
		return true, nil
	}

	name := naming.Choose(f.Options.KeepFilenames, row.Title, dates.FormatISO(row.Date), portalFilename)
	dest := f.Archive.Path(f.subDir(row), name)
	if f.Archive.Exists(dest) {
		f.Logger.Info("already downloaded, skipping", "url", url)
		res.Skipped++
		return true, nil
	}

	if err := f.Limiter.Wait(ctx); err != nil {
		return true, err
	}
	f.Logger.Info("downloading pdf", "url", url)
	landed, err := d.Download(ctx, dl.Timeout, func(ctx context.Context) error {
		return d.NavigateForDownload(ctx, dl.BaseURL+url)
	})
	if err != nil {
		return true, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if landed == "" {
		landed = portalFilename
	}

	return true, f.store(ctx, row, landed, dest, res)
}

// fetchByClick downloads by clicking the row's link. The portal filename is
// only known afterwards, so derived names leave the document id out.
func (f *Flow) fetchByClick(ctx context.Context, d Driver, row domain.DocumentRow, index int, res *Result) (bool, error) {
	isoDate := dates.FormatISO(row.Date)
	if f.recorded(ctx, row) {
		res.Skipped++
		return false, nil
	}
	if !f.Options.KeepFilenames {
		dest := f.Archive.Path(f.subDir(row), naming.Derive(row.Title, isoDate, ""))
		if f.Archive.Exists(dest) {
			f.Logger.Info("already downloaded, skipping", "path", dest)
			res.Skipped++
			return false, nil
		}
	}

	if err := f.Limiter.Wait(ctx); err != nil {
		return false, err
	}
	link := f.Portal.rowXPath(index) + f.Portal.Download.RowLink
	landed, err := d.Download(ctx, f.Portal.Download.Timeout, func(ctx context.Context) error {
		return d.Click(ctx, link)
	})
	if err != nil {
		return true, fmt.Errorf("failed to download row %d: %w", index+1, err)
	}

	name := landed
	if !f.Options.KeepFilenames {
		name = naming.Derive(row.Title, isoDate, "")
	}
	dest := f.Archive.Path(f.subDir(row), name)
	if f.Archive.Exists(dest) {
		f.Logger.Info("already downloaded, skipping", "path", dest)
		res.Skipped++
		if err := f.Archive.Discard(landed); err != nil {
			f.Logger.Warn("failed to remove duplicate download", "file", landed, "error", err)
		}
		return true, nil
	}

	return true, f.store(ctx, row, landed, dest, res)
}

// recorded reports whether the ledger already holds row. A ledger failure
// is logged and the row is downloaded.
func (f *Flow) recorded(ctx context.Context, row domain.DocumentRow) bool {
	done, err := f.Ledger.IsDownloaded(ctx, f.Portal.Name, row.Key())
	if err != nil {
		f.Logger.Warn("could not check download ledger", "error", err)
		return false
	}
	if done {
		f.Logger.Info("already in download ledger, skipping", "key", row.Key())
	}
	return done
}

func (f *Flow) store(ctx context.Context, row domain.DocumentRow, landed, dest string, res *Result) error {
	f.Logger.Info("saving file", "path", dest)
	if err := f.Archive.Store(landed, dest); err != nil {
		return err
	}

	info, err := f.Inspect(dest)
	if errors.Is(err, pdfcheck.ErrNotPDF) {
		// a kept error page would make later runs skip the document
		if rmErr := os.Remove(dest); rmErr != nil {
			f.Logger.Warn("failed to remove invalid download", "path", dest, "error", rmErr)
		}
		return fmt.Errorf("downloaded document %s: %w", dest, err)
	}
	if err != nil {
		f.Logger.Warn("could not inspect pdf", "path", dest, "error", err)
	} else {
		f.Logger.Debug("pdf inspected", "path", dest, "pages", info.Pages, "first_date", info.FirstDate)
	}

	row.PortalFilename = landed
	downloaded := domain.Downloaded{
		Portal:   f.Portal.Name,
		Row:      row,
		Path:     dest,
		Pages:    info.Pages,
		Finished: time.Now(),
	}
	if err := f.Ledger.MarkDownloaded(ctx, downloaded); err != nil {
		f.Logger.Warn("failed to record download", "error", err)
	}
	res.Downloaded = append(res.Downloaded, downloaded)
	return nil
}

func (f *Flow) notify(ctx context.Context, res Result) {
	if f.Notifier == nil {
		return
	}
	err := f.Notifier.Send(ctx, notify.Summary{
		Portal:     f.Portal.Name,
		Downloaded: res.Downloaded,
		Skipped:    res.Skipped,
		Finished:   time.Now(),
	})
	if err != nil {
		f.Logger.Warn("failed to send notification", "error", err)
	}
}
