package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/identity"
	"github.com/keyvaultops/kvops/internal/secrets"
)

func NewSetCommand(cfg *config.Config) *cobra.Command {
	var (
		groups        []string
		replaceGroups bool
		folder        string
		note          string
		expires       string
		tags          []string
		replaceTags   bool
		contentType   string
	)

	cmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Create a secret or write a new version",
		Long: `Store a secret under any name you like. The name is sanitized to a
backend-legal form and the original is preserved in the secret's tags, so
'kvops get' and 'kvops list' always show the name you chose.

When the value is omitted it is read from stdin, keeping it out of shell
history.

Examples:
  kvops set my-app/database:connection@prod 'Server=...'
  echo -n "$TOKEN" | kvops set ci-token --group ci --group deploy
  kvops set api-key "$KEY" --folder payments --expires 720h --tag env=prod`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			value, err := readValue(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer value.Destroy()

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
				Value:         value,
				ReplaceGroups: replaceGroups,
				Folder:        optionalString(cmd.Flags().Changed("folder"), folder),
				Note:          optionalString(cmd.Flags().Changed("note"), note),
				Expires:       expiresAt,
				Tags:          userTags,
				ReplaceTags:   replaceTags,
				ContentType:   optionalString(cmd.Flags().Changed("content-type"), contentType),
			}
			req.Groups = groupsForRequest(cmd.Flags().Changed("group"), replaceGroups, groups)

			detail, err := manager.Set(cmd.Context(), req)
			if err != nil {
				return kverrors.Simplify(err)
			}

			if detail.Identity.Overflow {
				cfg.Logger.Warn("name exceeds %d characters; stored as digest %s",
					identity.MaxNameLength, detail.Identity.CanonicalName)
			}
			if detail.Identity.CanonicalName != detail.Identity.OriginalName {
				cfg.Logger.Debug("sanitized %q to %q", detail.Identity.OriginalName, detail.Identity.CanonicalName)
			}
			cfg.Logger.Info("Secret '%s' set", detail.Identity.OriginalName)
			if len(detail.Identity.Groups) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Groups: %s\n", joinGroups(detail.Identity.Groups))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&groups, "group", "g", nil, "Group membership (repeatable)")
	cmd.Flags().BoolVarP(&replaceGroups, "replace-groups", "r", false, "Replace group membership instead of merging")
	cmd.Flags().StringVar(&folder, "folder", "", "Folder path for organization")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry: RFC3339, date, or duration (720h)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "User tag key=value (repeatable)")
	cmd.Flags().BoolVar(&replaceTags, "replace-tags", false, "Replace user tags instead of merging")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type hint stored with the secret")

	return cmd
}
