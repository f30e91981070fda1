package commands

import (
	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

func NewDeleteCommand(cfg *config.Config) *cobra.Command {
	var continueOnError bool

	cmd := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete one or more secrets",
		Long: `Delete secrets by the names they were stored under. On vaults with soft
delete enabled the secrets are recoverable through the vault's own recovery
window; kvops does not manage recovery itself.

Examples:
  kvops delete api-key
  kvops delete old-token-1 old-token-2 --continue-on-error`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			var firstErr error
			for _, name := range args {
				if err := manager.Delete(cmd.Context(), name); err != nil {
					if !continueOnError {
						return kverrors.Simplify(err)
					}
					cfg.Logger.Error("failed to delete '%s': %v", name, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				cfg.Logger.Info("Secret '%s' deleted", name)
			}
			if firstErr != nil {
				return kverrors.Simplify(firstErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep deleting remaining secrets after a failure")
	return cmd
}
