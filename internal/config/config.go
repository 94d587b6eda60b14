package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MAILCLASH_PAGE_SIZE.
const EnvPrefix = "MAILCLASH"

// Token store backends.
const (
	TokenStoreSQLite = "sqlite"
	TokenStoreFile   = "file"
)

// Notification backends.
const (
	NotifyDBus = "dbus"
	NotifyLog  = "log"
	NotifyNone = "none"
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "installed" first (for desktop apps), then "web"
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// Config holds the runtime configuration.
type Config struct {
	ConfigFile string

	GoogleCredentialsPath string
	ClientID              string
	ClientSecret          string
	APIKey                string

	MaxEmailAccounts int
	DataDir          string
	TokenStore       string

	MailQuery      string
	PageSize       int64
	Timezone       string
	Location       *time.Location
	RequestTimeout time.Duration
	Workers        int

	CalendarID      string
	CalendarAccount string

	Notifications string
	WatchSchedule string
	MetricsAddr   string
}

// StatePath is where the reconciliation state snapshot lives.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// TokenDBPath is the SQLite token store database.
func (c *Config) TokenDBPath() string {
	return filepath.Join(c.DataDir, "tokens.db")
}

// TokenDir holds one JSON file per credential for the file token store.
func (c *Config) TokenDir() string {
	return filepath.Join(c.DataDir, "tokens")
}

// RequireOAuth makes sure an OAuth client id is available, reading it from
// the credentials file when not set directly.
func (c *Config) RequireOAuth() error {
	if c.ClientID != "" {
		return nil
	}
	if c.GoogleCredentialsPath == "" {
		return fmt.Errorf("client_id or google_credentials_path must be provided via flag, %s_* environment variable, or config file", EnvPrefix)
	}
	id, secret, err := LoadGoogleCredentials(c.GoogleCredentialsPath)
	if err != nil {
		return err
	}
	c.ClientID, c.ClientSecret = id, secret
	return nil
}

var defaults = map[string]any{
	"google_credentials_path": "",
	"client_id":               "",
	"client_secret":           "",
	"api_key":                 "",
	"max_email_accounts":      5,
	"token_store":             TokenStoreSQLite,
	"mail_query":              "invite from:*.ics",
	"page_size":               5,
	"timezone":                "UTC",
	"request_timeout":         "10s",
	"workers":                 4,
	"calendar_id":             "primary",
	"calendar_account":        "",
	"notifications":           NotifyDBus,
	"watch_schedule":          "*/15 * * * *",
	"metrics_addr":            "",
}

// Load resolves configuration with the following precedence (highest to lowest):
// 1. Command-line flags that were set explicitly
// 2. Environment variables (MAILCLASH_<KEY>)
// 3. Config file (json, yaml or toml, by extension)
// 4. Defaults
// Flags are matched to keys by name with dashes read as underscores.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	_ = v.BindEnv("google_credentials_path", EnvPrefix+"_GOOGLE_CREDENTIALS_PATH", "GOOGLE_CREDENTIALS_PATH")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("data_dir", defaultDataDir())

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults[key]; !known && key != "data_dir" {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		ConfigFile:            configFile,
		GoogleCredentialsPath: strings.TrimSpace(v.GetString("google_credentials_path")),
		ClientID:              strings.TrimSpace(v.GetString("client_id")),
		ClientSecret:          v.GetString("client_secret"),
		APIKey:                v.GetString("api_key"),
		MaxEmailAccounts:      v.GetInt("max_email_accounts"),
		DataDir:               strings.TrimSpace(v.GetString("data_dir")),
		TokenStore:            strings.ToLower(strings.TrimSpace(v.GetString("token_store"))),
		MailQuery:             strings.TrimSpace(v.GetString("mail_query")),
		PageSize:              v.GetInt64("page_size"),
		Timezone:              strings.TrimSpace(v.GetString("timezone")),
		RequestTimeout:        v.GetDuration("request_timeout"),
		Workers:               v.GetInt("workers"),
		CalendarID:            strings.TrimSpace(v.GetString("calendar_id")),
		CalendarAccount:       strings.TrimSpace(v.GetString("calendar_account")),
		Notifications:         strings.ToLower(strings.TrimSpace(v.GetString("notifications"))),
		WatchSchedule:         strings.TrimSpace(v.GetString("watch_schedule")),
		MetricsAddr:           strings.TrimSpace(v.GetString("metrics_addr")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.MaxEmailAccounts < 1 {
		errs = append(errs, fmt.Errorf("max_email_accounts must be at least 1, got %d", c.MaxEmailAccounts))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page_size must be at least 1, got %d", c.PageSize))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	switch c.TokenStore {
	case TokenStoreSQLite, TokenStoreFile:
	default:
		errs = append(errs, fmt.Errorf("token_store must be '%s' or '%s', got '%s'", TokenStoreSQLite, TokenStoreFile, c.TokenStore))
	}
	switch c.Notifications {
	case NotifyDBus, NotifyLog, NotifyNone:
	default:
		errs = append(errs, fmt.Errorf("notifications must be '%s', '%s' or '%s', got '%s'", NotifyDBus, NotifyLog, NotifyNone, c.Notifications))
	}
	if c.CalendarID == "" {
		c.CalendarID = "primary"
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}
	c.Location = loc

	return errors.Join(errs...)
}

func defaultDataDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); dir != "" {
		return filepath.Join(dir, "mailclash")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailclash"
	}
	return filepath.Join(home, ".local", "state", "mailclash")
}
