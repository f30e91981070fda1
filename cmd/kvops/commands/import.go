package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/secrets"
	"github.com/keyvaultops/kvops/internal/secure"
)

func NewImportCommand(cfg *config.Config) *cobra.Command {
	var (
		groups          []string
		folder          string
		concurrency     int
		continueOnError bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.env>",
		Short: "Bulk-import secrets from a dotenv file",
		Long: `Import every KEY=value pair from a dotenv file as a secret, using the
key as the secret name. Imports run through a small worker pool; the first
failure aborts the remaining work unless --continue-on-error is set.

Examples:
  kvops import prod.env --group prod
  kvops import ci.env --folder ci --continue-on-error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}

			file, err := os.Open(args[0])
			if err != nil {
				return kverrors.UserError{
					Message:    fmt.Sprintf("Failed to open %s", args[0]),
					Details:    err.Error(),
					Suggestion: "Check the path and file permissions",
					Err:        err,
				}
			}
			defer file.Close()

			pairs, err := godotenv.Parse(file)
			if err != nil {
				return kverrors.UserError{
					Message:    fmt.Sprintf("Failed to parse %s as a dotenv file", args[0]),
					Details:    err.Error(),
					Suggestion: "Each line must be KEY=value; comments start with #",
					Err:        err,
				}
			}
			if len(pairs) == 0 {
				cfg.Logger.Warn("no entries found in %s", args[0])
				return nil
			}

			names := make([]string, 0, len(pairs))
			for name := range pairs {
				names = append(names, name)
			}
			sort.Strings(names)

			items := make([]secrets.BatchItem, 0, len(names))
			for _, name := range names {
				items = append(items, secrets.BatchItem{
					Name:  name,
					Value: secure.NewValueFromString(pairs[name]),
				})
			}
			defer func() {
				for _, item := range items {
					item.Value.Destroy()
				}
			}()

			opts := secrets.BatchOptions{
				Concurrency:     concurrency,
				ContinueOnError: continueOnError,
				Folder:          optionalString(cmd.Flags().Changed("folder"), folder),
			}
			if cmd.Flags().Changed("group") {
				opts.Groups = groups
			}
			if opts.Concurrency <= 0 && cfg.Definition != nil {
				opts.Concurrency = cfg.Definition.Import.Concurrency
			}

			results, err := manager.BatchSet(cmd.Context(), items, opts)
			imported := 0
			for _, result := range results {
				if result.Err == nil {
					imported++
					cfg.Logger.Debug("imported '%s'", result.Name)
				}
			}
			if err != nil {
				cfg.Logger.Error("imported %d of %d secrets", imported, len(items))
				return kverrors.Simplify(err)
			}
			cfg.Logger.Info("Imported %d secrets from %s", imported, args[0])
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&groups, "group", "g", nil, "Group for every imported secret (repeatable)")
	cmd.Flags().StringVar(&folder, "folder", "", "Folder for every imported secret")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Worker pool size (default from config, 4)")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Record failures and keep importing")
	return cmd
}
