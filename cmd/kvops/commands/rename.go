package commands

import (
	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

func NewRenameCommand(cfg *config.Config) *cobra.Command {
	var keepSource bool

	cmd := &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename a secret, carrying its value and metadata",
		Long: `Rename a secret to a new name. The value, groups, folder, note, expiry,
and user tags all move with it. The new name is written first and the old
entry is removed only after that write succeeds, so a failure never loses
the secret.

With --keep-source the old entry is left in place, which makes this a copy.

Examples:
  kvops rename old-api-key api-key
  kvops rename prod-token staging-token --keep-source`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			detail, err := manager.Rename(cmd.Context(), args[0], args[1], keepSource)
			if err != nil {
				return kverrors.Simplify(err)
			}

			if keepSource {
				cfg.Logger.Info("Secret '%s' copied to '%s'", args[0], args[1])
			} else {
				cfg.Logger.Info("Secret '%s' renamed to '%s'", args[0], args[1])
			}
			if detail.Identity.Overflow {
				cfg.Logger.Info("Stored under digest name '%s'", detail.Identity.CanonicalName)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepSource, "keep-source", false, "Keep the original secret in place (copy instead of move)")
	return cmd
}
