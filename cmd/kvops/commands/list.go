package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/secrets"
)

func NewListCommand(cfg *config.Config) *cobra.Command {
	var (
		group      string
		folder     string
		jsonOutput bool
		byGroup    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets with their decoded names and organization",
		Long: `List every secret in the vault by the name it was stored under, with its
groups, folder, and note. Filters match the decoded metadata, so --group
matches membership anywhere in a secret's group list.

Examples:
  kvops list
  kvops list --group payments
  kvops list --folder infra/ci --json
  kvops list --by-group`,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			// Listing decodes tags for every secret; give slow vaults a
			// progress indicator on a terminal.
			var spin *spinner.Spinner
			if !jsonOutput && !cfg.NonInteractive && !stdinIsPiped() {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond,
					spinner.WithWriter(os.Stderr))
				spin.Suffix = " listing secrets..."
				spin.Start()
			}

			details, err := manager.List(cmd.Context(), secrets.ListOptions{
				Group:  group,
				Folder: folder,
			})
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return kverrors.Simplify(err)
			}

			if jsonOutput {
				return printListJSON(cmd, details)
			}
			if byGroup {
				return printByGroup(cmd, details)
			}
			return printListTable(cmd, details)
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "Only secrets in this group")
	cmd.Flags().StringVar(&folder, "folder", "", "Only secrets in this folder")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&byGroup, "by-group", false, "Group the listing by group membership")
	return cmd
}

func printListTable(cmd *cobra.Command, details []secrets.Detail) error {
	if len(details) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No secrets found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tGROUPS\tFOLDER\tNOTE\tUPDATED")
	for _, detail := range details {
		folder, note := "", ""
		if detail.Identity.Folder != nil {
			folder = *detail.Identity.Folder
		}
		if detail.Identity.Note != nil {
			note = *detail.Identity.Note
		}
		updated := ""
		if detail.Updated != nil {
			updated = detail.Updated.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			detail.Identity.OriginalName,
			joinGroups(detail.Identity.Groups),
			folder, note, updated)
	}
	return w.Flush()
}

func printByGroup(cmd *cobra.Command, details []secrets.Detail) error {
	grouped := make(map[string][]secrets.Detail)
	var ungrouped []secrets.Detail
	for _, detail := range details {
		if len(detail.Identity.Groups) == 0 {
			ungrouped = append(ungrouped, detail)
			continue
		}
		for _, group := range detail.Identity.Groups {
			grouped[group] = append(grouped[group], detail)
		}
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(out, "%s (%d)\n", name, len(grouped[name]))
		for _, detail := range grouped[name] {
			fmt.Fprintf(out, "  %s\n", detail.Identity.OriginalName)
		}
	}
	if len(ungrouped) > 0 {
		fmt.Fprintf(out, "(no group) (%d)\n", len(ungrouped))
		for _, detail := range ungrouped {
			fmt.Fprintf(out, "  %s\n", detail.Identity.OriginalName)
		}
	}
	return nil
}

func printListJSON(cmd *cobra.Command, details []secrets.Detail) error {
	type entry struct {
		Name          string            `json:"name"`
		CanonicalName string            `json:"canonical_name"`
		Groups        []string          `json:"groups,omitempty"`
		Folder        string            `json:"folder,omitempty"`
		Note          string            `json:"note,omitempty"`
		Expires       string            `json:"expires,omitempty"`
		Updated       string            `json:"updated,omitempty"`
		Tags          map[string]string `json:"tags,omitempty"`
	}

	entries := make([]entry, 0, len(details))
	for _, detail := range details {
		e := entry{
			Name:          detail.Identity.OriginalName,
			CanonicalName: detail.Identity.CanonicalName,
			Groups:        detail.Identity.Groups,
		}
		if detail.Identity.Folder != nil {
			e.Folder = *detail.Identity.Folder
		}
		if detail.Identity.Note != nil {
			e.Note = *detail.Identity.Note
		}
		if detail.Expires != nil {
			e.Expires = detail.Expires.Format(time.RFC3339)
		}
		if detail.Updated != nil {
			e.Updated = detail.Updated.Format(time.RFC3339)
		}
		if len(detail.Identity.UserTags) > 0 {
			e.Tags = map[string]string{}
			for _, tag := range detail.Identity.UserTags {
				e.Tags[tag.Key] = tag.Value
			}
		}
		entries = append(entries, e)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
