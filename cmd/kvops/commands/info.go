package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

func NewInfoCommand(cfg *config.Config) *cobra.Command {
	var showVersions bool

	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show a secret's full metadata without printing its value",
		Long: `Show everything kvops knows about a secret: original and canonical
names, groups, folder, note, expiry, user tags, and backend attributes.
The value itself is never printed; use 'kvops get' for that.

Examples:
  kvops info api-key
  kvops info api-key --versions`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			detail, err := manager.Get(cmd.Context(), args[0])
			if err != nil {
				return kverrors.Simplify(err)
			}

			out := cmd.OutOrStdout()
			id := detail.Identity
			fmt.Fprintf(out, "Name:           %s\n", id.OriginalName)
			if id.CanonicalName != id.OriginalName {
				fmt.Fprintf(out, "Stored as:      %s\n", id.CanonicalName)
			}
			if id.Overflow {
				fmt.Fprintf(out, "Overflow:       yes (name stored as digest)\n")
			}
			if detail.Enabled != nil {
				fmt.Fprintf(out, "Enabled:        %t\n", *detail.Enabled)
			}
			fmt.Fprintf(out, "Version:        %s\n", detail.ETag)
			if detail.Created != nil {
				fmt.Fprintf(out, "Created:        %s\n", detail.Created.Format(time.RFC3339))
			}
			if detail.Updated != nil {
				fmt.Fprintf(out, "Updated:        %s\n", detail.Updated.Format(time.RFC3339))
			}
			if detail.Expires != nil {
				fmt.Fprintf(out, "Expires:        %s\n", detail.Expires.Format(time.RFC3339))
			}
			if detail.ContentType != "" {
				fmt.Fprintf(out, "Content type:   %s\n", detail.ContentType)
			}
			if len(id.Groups) > 0 {
				fmt.Fprintf(out, "Groups:         %s\n", joinGroups(id.Groups))
			}
			if id.Folder != nil {
				fmt.Fprintf(out, "Folder:         %s\n", *id.Folder)
			}
			if id.Note != nil {
				fmt.Fprintf(out, "Note:           %s\n", *id.Note)
			}
			if id.CreatedBy != "" {
				fmt.Fprintf(out, "Created by:     %s\n", id.CreatedBy)
			}
			if len(id.UserTags) > 0 {
				fmt.Fprintf(out, "Tags:\n")
				for _, tag := range id.UserTags {
					fmt.Fprintf(out, "  %s: %s\n", tag.Key, tag.Value)
				}
			}

			if showVersions {
				versions, err := manager.Versions(cmd.Context(), args[0])
				if err != nil {
					return kverrors.Simplify(err)
				}
				fmt.Fprintf(out, "Versions (%d):\n", len(versions))
				for _, v := range versions {
					created := ""
					if v.Created != nil {
						created = v.Created.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "  %s  %s\n", v.ETag, created)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showVersions, "versions", false, "Also list version history")
	return cmd
}
