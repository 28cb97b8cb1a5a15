package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fpt/signal-bot/internal/config"
)

func newInitCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if account := opts.v.GetString(config.KeyAccount); account != "" {
				cfg.Account = account
			}
			if cfg.Account == "" && isTerminal(cmd.InOrStdin()) {
				account, err := promptAccount()
				if err != nil {
					return err
				}
				cfg.Account = account
			}
			if connection := opts.v.GetString(config.KeyConnection); connection != "" {
				cfg.Connection = connection
			}
			if err := config.Write(path, cfg); err != nil {
				return err
			}
			if uc, err := config.DefaultUserConfig(); err == nil && filepath.Dir(path) == uc.BaseDir {
				if err := uc.EnsureDirectories(); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			if cfg.Account == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Set account before running the bot.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// promptAccount asks for the bot's account. An empty answer leaves it unset.
func promptAccount() (string, error) {
	prompt := promptui.Prompt{
		Label:    "Signal account (+15551234567, empty to skip)",
		Validate: validateAccount,
	}
	account, err := prompt.Run()
	if err == promptui.ErrInterrupt {
		return "", errors.New("init cancelled")
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read account")
	}
	return strings.TrimSpace(account), nil
}

func validateAccount(input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	digits, ok := strings.CutPrefix(input, "+")
	if !ok || len(digits) < 7 || strings.Trim(digits, "0123456789") != "" {
		return errors.New("account must be a phone number in international format, e.g. +15551234567")
	}
	return nil
}
