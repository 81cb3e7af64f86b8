package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tradejournal/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate the configuration file",
	}

	var output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(output, app.configPath)
			if err != nil {
				return err
			}
			if err := config.Default().SaveToFile(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			printf(cmd.OutOrStdout(), "created default configuration: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output path (.yaml, .yml or .json)")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration file loads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath("", app.configPath)
			if err != nil {
				return err
			}
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			out := cmd.OutOrStdout()
			printf(out, "configuration valid: %s\n", path)
			printf(out, "  server:  %s (storage %s, auth %s)\n", cfg.Server.Addr(), cfg.Storage.Driver, cfg.Auth.Mode)
			printf(out, "  client:  %s\n", cfg.Client.BaseURL)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func resolveConfigPath(paths ...string) (string, error) {
	for _, p := range paths {
		if p != "" {
			return p, nil
		}
	}
	return config.DefaultPath()
}
