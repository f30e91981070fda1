package commands

import (
	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/secrets"
)

func NewUpdateCommand(cfg *config.Config) *cobra.Command {
	var (
		groups        []string
		replaceGroups bool
		folder        string
		note          string
		expires       string
		tags          []string
		replaceTags   bool
		newValue      bool
	)

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update a secret's metadata, and optionally its value",
		Long: `Update group membership, folder, note, expiry, or user tags on an
existing secret. Groups and tags merge with the existing set by default;
pass --replace-groups / --replace-tags to discard the existing set instead.
Metadata-only updates do not create a new secret version.

Fields you do not pass are left untouched. --replace-groups with no --group
removes all group membership.

Examples:
  kvops update api-key --group payments
  kvops update api-key --group ci --replace-groups
  kvops update api-key --note "rotated 2026-08" --expires 2027-01-01
  echo -n "$NEW" | kvops update api-key --value`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			userTags, err := parseTags(tags)
			if err != nil {
				return err
			}
			expiresAt, err := parseExpires(expires)
			if err != nil {
				return err
			}

			req := secrets.SetRequest{
				Name:          args[0],
				ReplaceGroups: replaceGroups,
				Folder:        optionalString(cmd.Flags().Changed("folder"), folder),
				Note:          optionalString(cmd.Flags().Changed("note"), note),
				Expires:       expiresAt,
				Tags:          userTags,
				ReplaceTags:   replaceTags,
			}
			req.Groups = groupsForRequest(cmd.Flags().Changed("group"), replaceGroups, groups)
			if newValue {
				value, readErr := readValue(args, cmd.InOrStdin())
				if readErr != nil {
					return readErr
				}
				defer value.Destroy()
				req.Value = value
			}

			detail, err := manager.Update(cmd.Context(), req)
			if err != nil {
				return kverrors.Simplify(err)
			}

			cfg.Logger.Info("Secret '%s' updated", detail.Identity.OriginalName)
			if len(detail.Identity.Groups) > 0 {
				cfg.Logger.Debug("groups now: %s", joinGroups(detail.Identity.Groups))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&groups, "group", "g", nil, "Group membership (repeatable)")
	cmd.Flags().BoolVarP(&replaceGroups, "replace-groups", "r", false, "Replace group membership instead of merging")
	cmd.Flags().StringVar(&folder, "folder", "", "Folder path (empty string clears it)")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note (empty string clears it)")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry: RFC3339, date, or duration (720h)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "User tag key=value (repeatable)")
	cmd.Flags().BoolVar(&replaceTags, "replace-tags", false, "Replace user tags instead of merging")
	cmd.Flags().BoolVar(&newValue, "value", false, "Also read a new secret value from stdin")

	return cmd
}
