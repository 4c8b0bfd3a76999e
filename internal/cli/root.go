// Package cli contains the statement-dl commands
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-dl/internal/archive"
	"statement-dl/internal/config"
	"statement-dl/internal/notify"
	"statement-dl/internal/portal"
	"statement-dl/internal/store"
)

var version = "dev"

// SetVersion sets the version string printed by the version command
func SetVersion(v string) {
	version = v
}

// Runner downloads the documents of one portal
type Runner func(ctx context.Context, p portal.Portal, cfg *config.Config, logger *slog.Logger) (portal.Result, error)

type app struct {
	v       *viper.Viper
	envFile string
	run     Runner
}

// Execute runs the root command with the chromedp backed runner
func Execute(ctx context.Context) error {
	return NewRootCmd(Run).ExecuteContext(ctx)
}

// NewRootCmd builds the command tree. Downloads go through run.
func NewRootCmd(run Runner) *cobra.Command {
	a := &app{v: viper.New(), run: run}

	root := &cobra.Command{
		Use:   "statement-dl",
		Short: "Download bank and broker statements as PDF",
		Long: `statement-dl logs into online banking portals with a Chrome browser and
downloads the documents of the archive into a local directory.

Example usage:
  statement-dl flatex ~/statements              # flatex.at, all unread documents
  statement-dl flatex --de -a -f 2023-01-01 out # flatex.de, everything since 2023
  statement-dl bawag ~/statements               # BAWAG P.S.K. account statements
  statement-dl portals                          # list supported portals`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "file with STATEMENT_DL_ variables, ignored when missing")
	flags.StringP("from-date", "f", "2010-01-01", "first document date, YYYY-MM-DD or today")
	flags.StringP("to-date", "t", "today", "last document date, YYYY-MM-DD or today")
	flags.String("chrome", "", "path to the Chrome executable")
	flags.String("user-data-dir", "", "Chrome profile directory")
	flags.StringP("username", "u", "", "portal username")
	flags.StringP("password", "p", "", "portal password")
	flags.Bool("headless", false, "run Chrome without a window, requires username and password")
	flags.BoolP("all-files", "a", false, "download read documents too, not only unread ones")
	flags.BoolP("keep-filenames", "k", false, "keep the filenames the portal assigns")
	flags.Bool("sub-dirs", false, "sort documents into one directory per category")
	flags.String("download-dir", "", "directory Chrome downloads into (default <dest>/.incoming)")
	flags.Duration("element-timeout", 0, "how long to wait for page elements (default 10s)")
	flags.String("db", "", "PostgreSQL connection string for the download ledger and saved sessions")
	flags.String("webhook", "", "Discord webhook URL notified about new documents")
	flags.BoolP("verbose", "v", false, "verbose output")

	for key, name := range map[string]string{
		"from_date":      "from-date",
		"to_date":        "to-date",
		"chrome":         "chrome",
		"user_data_dir":  "user-data-dir",
		"username":       "username",
		"password":       "password",
		"headless":       "headless",
		"all_files":      "all-files",
		"keep_filenames": "keep-filenames",
		"sub_dirs":       "sub-dirs",
		"download_dir":   "download-dir",
		"db":             "db",
		"webhook":        "webhook",
		"verbose":        "verbose",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		// a zero duration flag must not shadow the default or the environment
		if cmd.Flags().Changed("element-timeout") {
			d, _ := cmd.Flags().GetDuration("element-timeout")
			a.v.Set("element_timeout", d)
		}
	}

	root.AddCommand(a.flatexCmd(), a.bawagCmd(), portalsCmd(), versionCmd())
	return root
}

func (a *app) flatexCmd() *cobra.Command {
	var de bool
	cmd := &cobra.Command{
		Use:   "flatex <dest>",
		Short: "Download documents from the flatex document archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "flatex-at"
			if de {
				name = "flatex-de"
			}
			return a.download(cmd, name, args[0])
		},
	}
	cmd.Flags().BoolVar(&de, "de", false, "use flatex.de instead of flatex.at")
	return cmd
}

func (a *app) bawagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bawag <dest>",
		Short: "Download account statements from BAWAG P.S.K.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.download(cmd, "bawag-psk", args[0])
		},
	}
}

func (a *app) download(cmd *cobra.Command, portalName, dest string) error {
	a.v.Set("dest", dest)
	cfg, err := config.Load(a.v, a.envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p, err := portal.Lookup(portalName)
	if err != nil {
		return err
	}

	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Verbose, cfg.LogFormat)
	logger.Debug("configuration loaded",
		"portal", p.Name,
		"dest", cfg.Dest,
		"range", cfg.Range.String(),
		"headless", cfg.Headless,
		"ledger", cfg.DB != "",
	)

	if _, err := a.run(cmd.Context(), p, cfg, logger); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Done!")
	return nil
}

// Run wires the archive, the optional ledger and webhook into a portal flow
// and runs it.
func Run(ctx context.Context, p portal.Portal, cfg *config.Config, logger *slog.Logger) (portal.Result, error) {
	a, err := archive.New(cfg.Dest, cfg.DownloadDir)
	if err != nil {
		return portal.Result{}, err
	}

	f := portal.NewFlow(p, portal.Options{
		Range:          cfg.Range,
		AllFiles:       cfg.AllFiles,
		KeepFilenames:  cfg.KeepFilenames,
		SubDirs:        cfg.SubDirs,
		Headless:       cfg.Headless,
		Username:       cfg.Username,
		Password:       cfg.Password,
		ExecPath:       cfg.Chrome,
		UserDataDir:    cfg.UserDataDir,
		ElementTimeout: cfg.ElementTimeout,
	}, a, logger)

	if cfg.DB != "" {
		db, err := store.Open(cfg.DB)
		if err != nil {
			return portal.Result{}, err
		}
		defer db.Close()
		f.Ledger = store.NewPostgresDownloadRepository(db)
		f.Sessions = store.NewPostgresSessionRepository(db)
	}
	if cfg.Webhook != "" {
		f.Notifier = notify.NewWebhook(cfg.Webhook)
	}

	return f.Run(ctx)
}
