package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

func NewInitCommand(cfg *config.Config) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter kvops.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.Path
			if path == "" {
				path = "kvops.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				return kverrors.UserError{
					Message:    fmt.Sprintf("%s already exists", path),
					Suggestion: "Pass --force to overwrite it",
				}
			}

			if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o600); err != nil {
				return kverrors.UserError{
					Message:    fmt.Sprintf("Failed to write %s", path),
					Details:    err.Error(),
					Suggestion: "Check directory permissions",
					Err:        err,
				}
			}

			cfg.Logger.Info("Wrote %s", path)
			cfg.Logger.Info("Edit vault.url, then try: kvops list")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
