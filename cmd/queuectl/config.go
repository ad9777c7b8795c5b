package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"queuectl/internal/config"
)

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage persistent settings",
	}

	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Show one setting, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			keys := config.Keys()
			if len(args) == 1 {
				keys = args
			}
			for _, key := range keys {
				v, ok, err := settings.Get(key)
				if err != nil {
					return err
				}
				if !ok {
					v = "(default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, v)
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting (max-retries, poll-interval, backoff-unit)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if err := settings.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := settings.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	cfgCmd.AddCommand(get, set)
	return cfgCmd
}

// loadSettings opens the settings file without validating the rest of the
// configuration, so a bad value can still be fixed with `config set`.
func loadSettings() (*config.Settings, error) {
	cfg, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config.LoadSettings(cfg.SettingsPath())
}
