// Package config resolves the run configuration from a .env file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"statement-dl/internal/dates"
)

// EnvPrefix is prepended to every environment variable, STATEMENT_DL_USERNAME
// sets the username.
const EnvPrefix = "STATEMENT_DL"

// ErrHeadlessNeedsCredentials is returned when headless mode is requested
// without a username and a password, nobody could log in interactively.
var ErrHeadlessNeedsCredentials = errors.New("headless mode requires username and password")

// Config is the resolved configuration of one run
type Config struct {
	Dest           string        `mapstructure:"dest"`
	FromDate       string        `mapstructure:"from_date"`
	ToDate         string        `mapstructure:"to_date"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Chrome         string        `mapstructure:"chrome"`
	UserDataDir    string        `mapstructure:"user_data_dir"`
	Headless       bool          `mapstructure:"headless"`
	AllFiles       bool          `mapstructure:"all_files"`
	KeepFilenames  bool          `mapstructure:"keep_filenames"`
	SubDirs        bool          `mapstructure:"sub_dirs"`
	DownloadDir    string        `mapstructure:"download_dir"`
	DB             string        `mapstructure:"db"`
	Webhook        string        `mapstructure:"webhook"`
	Verbose        bool          `mapstructure:"verbose"`
	LogFormat      string        `mapstructure:"log_format"`
	ElementTimeout time.Duration `mapstructure:"element_timeout"`

	// Range is resolved from FromDate and ToDate by Load
	Range dates.Range `mapstructure:"-"`
}

// Load reads envFile into the process environment, then unmarshals v with
// the STATEMENT_DL_ environment overrides. A missing envFile is fine.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("from_date", "2010-01-01")
	v.SetDefault("to_date", "today")
	v.SetDefault("log_format", "text")
	v.SetDefault("element_timeout", 10*time.Second)
	for _, key := range []string{
		"dest", "username", "password", "chrome", "user_data_dir",
		"download_dir", "db", "webhook",
	} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{"headless", "all_files", "keep_filenames", "sub_dirs", "verbose"} {
		v.SetDefault(key, false)
	}
}

func (c *Config) resolve() error {
	from, err := dates.Parse(c.FromDate)
	if err != nil {
		return fmt.Errorf("from date: %w", err)
	}
	to, err := dates.Parse(c.ToDate)
	if err != nil {
		return fmt.Errorf("to date: %w", err)
	}
	c.Range = dates.Range{From: from, To: to}
	return nil
}

// Validate checks what has to hold before a browser is started
func (c *Config) Validate() error {
	if c.Dest == "" {
		return errors.New("destination directory is required")
	}
	if c.Headless && (c.Username == "" || c.Password == "") {
		return ErrHeadlessNeedsCredentials
	}
	return c.Range.Validate()
}

// NewLogger returns a text logger, or a JSON logger for format "json"
func NewLogger(w io.Writer, verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
