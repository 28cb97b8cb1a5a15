// Package config loads the signal-bot YAML configuration. File values can be
// overridden by SIGNAL_BOT_* environment variables and bound command-line
// flags.
package config

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fpt/signal-bot/pkg/cron"
	"github.com/fpt/signal-bot/pkg/transport"
)

// EnvPrefix prefixes environment overrides, e.g. SIGNAL_BOT_ACCOUNT.
const EnvPrefix = "SIGNAL_BOT"

const (
	KeyAccount            = "account"
	KeyConnection         = "connection"
	KeyLogLevel           = "log_level"
	KeyCallTimeout        = "call_timeout"
	KeyNotificationBuffer = "notification_buffer"
	KeyLocation           = "location"
)

// Config is the top-level configuration for signal-bot.
type Config struct {
	Account            string              `yaml:"account" mapstructure:"account"`
	Connection         string              `yaml:"connection" mapstructure:"connection"`                   // ipc://, tcp://host:port or unix:///path
	LogLevel           string              `yaml:"log_level" mapstructure:"log_level"`                     // debug, info, warn, error
	CallTimeout        string              `yaml:"call_timeout" mapstructure:"call_timeout"`               // Go duration
	NotificationBuffer int                 `yaml:"notification_buffer" mapstructure:"notification_buffer"` // notifications held before the bot starts
	Location           string              `yaml:"location" mapstructure:"location"`                       // IANA zone for cron schedules
	Personalities      []PersonalityConfig `yaml:"personalities,omitempty" mapstructure:"personalities"`
}

// PersonalityConfig describes canned behavior scoped to some conversations.
// An empty Contexts list applies everywhere.
type PersonalityConfig struct {
	Name          string               `yaml:"name" mapstructure:"name"`
	Contexts      []string             `yaml:"contexts,omitempty" mapstructure:"contexts"`
	Replies       []ReplyConfig        `yaml:"replies,omitempty" mapstructure:"replies"`
	Announcements []AnnouncementConfig `yaml:"announcements,omitempty" mapstructure:"announcements"`
}

// ReplyConfig answers messages matching exactly one of Prefix, Keyword or
// Mention with Text.
type ReplyConfig struct {
	Prefix     string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Keyword    string `yaml:"keyword,omitempty" mapstructure:"keyword"`
	Mention    string `yaml:"mention,omitempty" mapstructure:"mention"`
	IgnoreCase bool   `yaml:"ignore_case,omitempty" mapstructure:"ignore_case"`
	WholeWord  bool   `yaml:"whole_word,omitempty" mapstructure:"whole_word"`
	Text       string `yaml:"text" mapstructure:"text"`
}

// AnnouncementConfig sends Text to To on a cron schedule.
type AnnouncementConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
	To       string `yaml:"to" mapstructure:"to"` // phone number, UUID or group id
	Text     string `yaml:"text" mapstructure:"text"`
}

// Default returns the configuration written by `signal-bot init`.
func Default() *Config {
	return &Config{
		Connection:         "ipc://",
		LogLevel:           "info",
		CallTimeout:        transport.DefaultCallTimeout.String(),
		NotificationBuffer: transport.DefaultNotificationBuffer,
		Location:           "Local",
		Personalities: []PersonalityConfig{
			{
				Name: "default",
				Replies: []ReplyConfig{
					{Prefix: "/ping", Text: "pong"},
				},
			},
		},
	}
}

// SetDefaults registers the scalar defaults on v so that environment
// variables for them are honoured even when the file omits them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyAccount, d.Account)
	v.SetDefault(KeyConnection, d.Connection)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyCallTimeout, d.CallTimeout)
	v.SetDefault(KeyNotificationBuffer, d.NotificationBuffer)
	v.SetDefault(KeyLocation, d.Location)
}

// Load reads path into v and decodes the merged result. A missing file is
// not an error; defaults, environment and flags still apply. A nil v uses a
// fresh viper instance.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, errors.Wrapf(err, "failed to read config %s", path)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

// Write saves cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "failed to create config directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// Timeout parses CallTimeout. An empty value means the transport default.
func (c *Config) Timeout() (time.Duration, error) {
	if c.CallTimeout == "" {
		return transport.DefaultCallTimeout, nil
	}
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid call_timeout %q", c.CallTimeout)
	}
	if d < 0 {
		return 0, errors.Errorf("call_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// TimeLocation resolves Location. An empty value means the local zone.
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid location %q", c.Location)
	}
	return loc, nil
}

// Validate checks everything that can be checked before connecting.
func (c *Config) Validate() error {
	if c.Account == "" {
		return errors.New("account is required")
	}
	u, err := url.Parse(c.Connection)
	if err != nil {
		return errors.Wrapf(err, "invalid connection %q", c.Connection)
	}
	if !slices.Contains(transport.Schemes, u.Scheme) {
		return errors.Errorf("connection %q: scheme must be one of %s", c.Connection, strings.Join(transport.Schemes, ", "))
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.NotificationBuffer < 0 {
		return errors.Errorf("notification_buffer must not be negative, got %d", c.NotificationBuffer)
	}
	loc, err := c.TimeLocation()
	if err != nil {
		return err
	}

	names := make(map[string]bool)
	for i, p := range c.Personalities {
		if p.Name == "" {
			return errors.Errorf("personalities[%d]: name is required", i)
		}
		if names[p.Name] {
			return errors.Errorf("personalities[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true

		for j, r := range p.Replies {
			if err := r.validate(); err != nil {
				return errors.Wrapf(err, "personality %q: replies[%d]", p.Name, j)
			}
		}
		for j, a := range p.Announcements {
			if err := a.validate(loc); err != nil {
				return errors.Wrapf(err, "personality %q: announcements[%d]", p.Name, j)
			}
		}
	}
	return nil
}

func (r ReplyConfig) validate() error {
	set := 0
	for _, v := range []string{r.Prefix, r.Keyword, r.Mention} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of prefix, keyword or mention is required")
	}
	if (r.IgnoreCase || r.WholeWord) && r.Keyword == "" {
		return errors.New("ignore_case and whole_word only apply to keyword replies")
	}
	if r.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

func (a AnnouncementConfig) validate(loc *time.Location) error {
	sched, err := cron.ParseInLocation(a.Schedule, loc)
	if err != nil {
		return err
	}
	if _, err := sched.Next(time.Now()); err != nil {
		return errors.Wrapf(err, "schedule %q", a.Schedule)
	}
	if a.To == "" {
		return errors.New("to is required")
	}
	if a.Text == "" {
		return errors.New("text is required")
	}
	return nil
}
