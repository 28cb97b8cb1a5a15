package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// UserConfig locates the per-user configuration and data directories.
type UserConfig struct {
	BaseDir    string // $HOME/.signal-bot
	ConfigFile string // $HOME/.signal-bot/config.yaml
	LogDir     string // $HOME/.signal-bot/logs
}

// DefaultUserConfig returns the locations under the user's home directory.
// Nothing is created on disk.
func DefaultUserConfig() (*UserConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}
	return userConfigAt(filepath.Join(homeDir, ".signal-bot")), nil
}

func userConfigAt(baseDir string) *UserConfig {
	return &UserConfig{
		BaseDir:    baseDir,
		ConfigFile: filepath.Join(baseDir, "config.yaml"),
		LogDir:     filepath.Join(baseDir, "logs"),
	}
}

// EnsureDirectories creates the configuration directories if they don't exist.
func (c *UserConfig) EnsureDirectories() error {
	for _, dir := range []string{c.BaseDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return nil
}

// DefaultPath returns the default config file path, or config.yaml in the
// working directory when the home directory is unknown.
func DefaultPath() string {
	uc, err := DefaultUserConfig()
	if err != nil {
		return "config.yaml"
	}
	return uc.ConfigFile
}
