package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
)

func NewGetCommand(cfg *config.Config) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Get a secret value",
		Long: `Retrieve a secret by the name you stored it under. By default only the
raw value is printed, making it suitable for scripting.

Examples:
  kvops get my-app/database:connection@prod
  export DB_URL=$(kvops get database-url)
  kvops get api-key --json`,
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

			if !jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), detail.Value)
				return nil
			}

			out := map[string]interface{}{
				"name":           detail.Identity.OriginalName,
				"canonical_name": detail.Identity.CanonicalName,
				"value":          detail.Value,
				"version":        detail.ETag,
			}
			if len(detail.Identity.Groups) > 0 {
				out["groups"] = detail.Identity.Groups
			}
			if detail.Identity.Folder != nil {
				out["folder"] = *detail.Identity.Folder
			}
			if detail.Identity.Note != nil {
				out["note"] = *detail.Identity.Note
			}
			if detail.Expires != nil {
				out["expires"] = detail.Expires.Format(time.RFC3339)
			}
			if len(detail.Identity.UserTags) > 0 {
				tags := map[string]string{}
				for _, tag := range detail.Identity.UserTags {
					tags[tag.Key] = tag.Value
				}
				out["tags"] = tags
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output value with metadata as JSON")
	return cmd
}
