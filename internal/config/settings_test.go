package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
account: "+15559990000"
connection: tcp://localhost:7583
log_level: debug
call_timeout: 10s
location: Asia/Tokyo
personalities:
  - name: family
    contexts: ["ZmFtaWx5LWdyb3VwLWlkLTAwMDAwMDAwMDAwMDAwMDA="]
    replies:
      - keyword: dinner
        ignore_case: true
        text: "Dinner is at 7."
      - mention: "+15559990000"
        text: "You rang?"
    announcements:
      - schedule: "0 9 * * MON-FRI"
        to: "ZmFtaWx5LWdyb3VwLWlkLTAwMDAwMDAwMDAwMDAwMDA="
        text: "Good morning!"
  - name: everyone
    replies:
      - prefix: /ping
        text: pong
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(viper.New(), writeFile(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "+15559990000", cfg.Account)
	assert.Equal(t, "tcp://localhost:7583", cfg.Connection)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.NotificationBuffer)

	timeout, err := cfg.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, timeout)

	require.Len(t, cfg.Personalities, 2)
	family := cfg.Personalities[0]
	assert.Equal(t, "family", family.Name)
	assert.Equal(t, []string{"ZmFtaWx5LWdyb3VwLWlkLTAwMDAwMDAwMDAwMDAwMDA="}, family.Contexts)
	require.Len(t, family.Replies, 2)
	assert.Equal(t, ReplyConfig{Keyword: "dinner", IgnoreCase: true, Text: "Dinner is at 7."}, family.Replies[0])
	assert.Equal(t, "0 9 * * MON-FRI", family.Announcements[0].Schedule)
	assert.Empty(t, cfg.Personalities[1].Contexts)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ipc://", cfg.Connection)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "5s", cfg.CallTimeout)
	assert.Equal(t, "Local", cfg.Location)
	assert.Empty(t, cfg.Personalities)
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(viper.New(), writeFile(t, "account: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("SIGNAL_BOT_ACCOUNT", "+15550000000")
	t.Setenv("SIGNAL_BOT_NOTIFICATION_BUFFER", "128")

	cfg, err := Load(viper.New(), writeFile(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "+15550000000", cfg.Account)
	assert.Equal(t, 128, cfg.NotificationBuffer)
	assert.Equal(t, "tcp://localhost:7583", cfg.Connection)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("SIGNAL_BOT_CONNECTION", "unix:///run/env.sock")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("connection", "", "")
	require.NoError(t, flags.Parse([]string{"--connection", "unix:///run/flag.sock"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag(KeyConnection, flags.Lookup("connection")))
	cfg, err := Load(v, writeFile(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "unix:///run/flag.sock", cfg.Connection)
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := Default()
	want.Account = "+15559990000"
	require.NoError(t, Write(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, got.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Account = "+15559990000"
		cfg.Location = "UTC"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no_account", func(c *Config) { c.Account = "" }, "account is required"},
		{"bad_scheme", func(c *Config) { c.Connection = "http://localhost" }, "scheme must be one of"},
		{"bad_timeout", func(c *Config) { c.CallTimeout = "soon" }, "invalid call_timeout"},
		{"negative_timeout", func(c *Config) { c.CallTimeout = "-1s" }, "must not be negative"},
		{"negative_buffer", func(c *Config) { c.NotificationBuffer = -1 }, "notification_buffer"},
		{"bad_location", func(c *Config) { c.Location = "Mars/Olympus" }, "invalid location"},
		{"unnamed_personality", func(c *Config) { c.Personalities[0].Name = "" }, "name is required"},
		{"duplicate_personality", func(c *Config) {
			c.Personalities = append(c.Personalities, c.Personalities[0])
		}, "duplicate name"},
		{"reply_two_triggers", func(c *Config) {
			c.Personalities[0].Replies[0].Keyword = "ping"
		}, "exactly one of prefix, keyword or mention"},
		{"reply_no_text", func(c *Config) { c.Personalities[0].Replies[0].Text = "" }, "text is required"},
		{"reply_options_without_keyword", func(c *Config) {
			c.Personalities[0].Replies[0].IgnoreCase = true
		}, "only apply to keyword"},
		{"bad_schedule", func(c *Config) {
			c.Personalities[0].Announcements = []AnnouncementConfig{{Schedule: "* * *", To: "+1", Text: "x"}}
		}, "expected 5 fields"},
		{"schedule_never_fires", func(c *Config) {
			c.Personalities[0].Announcements = []AnnouncementConfig{{Schedule: "0 0 30 2 *", To: "+1", Text: "x"}}
		}, "never matches"},
		{"announcement_no_recipient", func(c *Config) {
			c.Personalities[0].Announcements = []AnnouncementConfig{{Schedule: "@daily", Text: "x"}}
		}, "to is required"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUserConfigLayout(t *testing.T) {
	base := filepath.Join(t.TempDir(), ".signal-bot")
	uc := userConfigAt(base)
	assert.Equal(t, filepath.Join(base, "config.yaml"), uc.ConfigFile)

	require.NoError(t, uc.EnsureDirectories())
	info, err := os.Stat(uc.LogDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
