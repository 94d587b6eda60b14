package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("data-dir", "", "")
	fs.Int("page-size", 0, "")
	fs.String("calendar-id", "", "")
	fs.String("unrelated", "", "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	stateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateHome)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxEmailAccounts)
	assert.Equal(t, int64(5), cfg.PageSize)
	assert.Equal(t, "invite from:*.ics", cfg.MailQuery)
	assert.Equal(t, TokenStoreSQLite, cfg.TokenStore)
	assert.Equal(t, NotifyDBus, cfg.Notifications)
	assert.Equal(t, "primary", cfg.CalendarID)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "*/15 * * * *", cfg.WatchSchedule)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, filepath.Join(stateHome, "mailclash"), cfg.DataDir)
	assert.Equal(t, filepath.Join(stateHome, "mailclash", "state.json"), cfg.StatePath())
	assert.Equal(t, filepath.Join(stateHome, "mailclash", "tokens.db"), cfg.TokenDBPath())
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
max_email_accounts: 3
page_size: 10
calendar_account: me@example.com
token_store: file
notifications: log
request_timeout: 30s
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, 3, cfg.MaxEmailAccounts)
	assert.Equal(t, int64(10), cfg.PageSize)
	assert.Equal(t, "me@example.com", cfg.CalendarAccount)
	assert.Equal(t, TokenStoreFile, cfg.TokenStore)
	assert.Equal(t, NotifyLog, cfg.Notifications)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoad_JSONConfigFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"client_id": "json-client", "workers": 2}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "json-client", cfg.ClientID)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "page_size: 10\ncalendar_id: from-file\n")
	t.Setenv("MAILCLASH_PAGE_SIZE", "7")
	t.Setenv("GOOGLE_CREDENTIALS_PATH", "/env/credentials.json")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.PageSize)
	assert.Equal(t, "from-file", cfg.CalendarID)
	assert.Equal(t, "/env/credentials.json", cfg.GoogleCredentialsPath)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("MAILCLASH_PAGE_SIZE", "7")
	t.Setenv("MAILCLASH_CALENDAR_ID", "from-env")
	dataDir := t.TempDir()

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--page-size=3", "--data-dir=" + dataDir}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.PageSize)
	assert.Equal(t, dataDir, cfg.DataDir)
	// Unset flags do not shadow the environment.
	assert.Equal(t, "from-env", cfg.CalendarID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"account cap", map[string]string{"MAILCLASH_MAX_EMAIL_ACCOUNTS": "0"}, "max_email_accounts"},
		{"token store", map[string]string{"MAILCLASH_TOKEN_STORE": "keychain"}, "token_store"},
		{"notifications", map[string]string{"MAILCLASH_NOTIFICATIONS": "email"}, "notifications"},
		{"timezone", map[string]string{"MAILCLASH_TIMEZONE": "Mars/Olympus_Mons"}, "invalid timezone"},
		{"workers", map[string]string{"MAILCLASH_WORKERS": "-1"}, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load("", nil)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestRequireOAuth(t *testing.T) {
	credsPath := writeFile(t, "credentials.json", `{"installed": {"client_id": "cid", "client_secret": "secret"}}`)

	cfg := &Config{GoogleCredentialsPath: credsPath}
	require.NoError(t, cfg.RequireOAuth())
	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, "secret", cfg.ClientSecret)

	direct := &Config{ClientID: "explicit"}
	require.NoError(t, direct.RequireOAuth())
	assert.Equal(t, "explicit", direct.ClientID)

	assert.Error(t, (&Config{}).RequireOAuth())
}

func TestLoadGoogleCredentials_Installed(t *testing.T) {
	credsPath := writeFile(t, "credentials.json", `{
		"installed": {
			"client_id": "test-client-id",
			"client_secret": "test-client-secret"
		}
	}`)

	clientID, clientSecret, err := LoadGoogleCredentials(credsPath)
	require.NoError(t, err)
	assert.Equal(t, "test-client-id", clientID)
	assert.Equal(t, "test-client-secret", clientSecret)
}

func TestLoadGoogleCredentials_Web(t *testing.T) {
	credsPath := writeFile(t, "credentials.json", `{
		"web": {
			"client_id": "web-client-id",
			"client_secret": "web-client-secret"
		}
	}`)

	clientID, clientSecret, err := LoadGoogleCredentials(credsPath)
	require.NoError(t, err)
	assert.Equal(t, "web-client-id", clientID)
	assert.Equal(t, "web-client-secret", clientSecret)
}

func TestLoadGoogleCredentials_NoClientID(t *testing.T) {
	credsPath := writeFile(t, "credentials.json", `{"other": {}}`)

	_, _, err := LoadGoogleCredentials(credsPath)
	assert.ErrorContains(t, err, "no client_id")
}
