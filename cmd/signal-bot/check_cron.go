package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fpt/signal-bot/internal/config"
	"github.com/fpt/signal-bot/pkg/cron"
)

func newCheckCronCmd(opts *globalOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "check-cron <expression>",
		Short: "Print the next firing times of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.v, opts.configPath)
			if err != nil {
				return err
			}
			loc, err := cfg.TimeLocation()
			if err != nil {
				return err
			}
			sched, err := cron.ParseInLocation(args[0], loc)
			if err != nil {
				return err
			}
			if count < 1 {
				return errors.Errorf("count must be positive, got %d", count)
			}

			t := time.Now()
			for range count {
				t, err = sched.Next(t)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC1123))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of times to print")
	return cmd
}
