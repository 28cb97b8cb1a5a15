package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fpt/signal-bot/internal/config"
	"github.com/fpt/signal-bot/internal/responder"
	"github.com/fpt/signal-bot/pkg/bot"
	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
	"github.com/fpt/signal-bot/pkg/transport"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var signalCLIArgs []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to signal-cli and serve the configured personalities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, signalCLIArgs)
		},
	}
	cmd.Flags().StringSliceVar(&signalCLIArgs, "signal-cli-arg", nil,
		"Extra argument appended to the defaults of a spawned signal-cli (ipc:// only, repeatable)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, signalCLIArgs []string) error {
	logger := pkgLogger.NewLogger(pkgLogger.LogLevel(cfg.LogLevel))
	pkgLogger.SetGlobalLogger(logger)

	timeout, err := cfg.Timeout()
	if err != nil {
		return err
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		return err
	}

	botOpts := []bot.Option{
		bot.WithLogger(logger),
		bot.WithLocation(loc),
		bot.WithTransportOptions(
			transport.WithCallTimeout(timeout),
			transport.WithNotificationBuffer(cfg.NotificationBuffer),
		),
	}
	if len(signalCLIArgs) > 0 {
		botOpts = append(botOpts, bot.WithDialOptions(transport.WithSignalCLIArgs(withDefaultArgs(signalCLIArgs)...)))
	}

	b, err := bot.Connect(ctx, bot.Account(cfg.Account), cfg.Connection, botOpts...)
	if err != nil {
		return err
	}
	if err := responder.Install(b, cfg.Personalities, logger); err != nil {
		b.Stop()
		return err
	}

	fmt.Printf("signal-bot starting...\n")
	fmt.Printf("  Account: %s\n", cfg.Account)
	fmt.Printf("  Connection: %s\n", cfg.Connection)
	fmt.Printf("  Personalities: %d\n", len(cfg.Personalities))
	fmt.Println()

	if err := b.Run(ctx); err != nil {
		return errors.Wrap(err, "bot stopped")
	}
	logger.InfoWithIntention(pkgLogger.IntentionCancel, "Shut down")
	return nil
}

// withDefaultArgs appends extra to transport.DefaultSignalCLIArgs.
func withDefaultArgs(extra []string) []string {
	return append(slices.Clone(transport.DefaultSignalCLIArgs), extra...)
}
