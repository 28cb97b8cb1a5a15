package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fpt/signal-bot/internal/config"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "signal-bot",
		Short:         "Run a Signal bot on top of a signal-cli JSON-RPC daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to config file")
	flags.String("account", "", "Signal account (phone number) the bot acts as")
	flags.String("connection", "", "signal-cli endpoint: ipc://, tcp://host:port or unix:///path")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	for key, name := range map[string]string{
		config.KeyAccount:    "account",
		config.KeyConnection: "connection",
		config.KeyLogLevel:   "log-level",
	} {
		// Unset flags fall through to file and environment values.
		_ = opts.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newRunCmd(opts),
		newInitCmd(opts),
		newCheckCronCmd(opts),
	)
	return rootCmd
}

// load reads the config file merged with environment and flags.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", o.configPath)
	}
	return cfg, nil
}
