package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyvaultops/kvops/cmd/kvops/commands"
	"github.com/keyvaultops/kvops/internal/config"
	kverrors "github.com/keyvaultops/kvops/internal/errors"
	"github.com/keyvaultops/kvops/internal/logging"
	"github.com/keyvaultops/kvops/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer secure.Purge()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", kverrors.Simplify(err))
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile     string
		vaultURL       string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "kvops",
		Short: "Manage Azure Key Vault secrets with friendly names and groups",
		Long: `kvops stores secrets in Azure Key Vault under backend-legal names while
preserving the name you chose, and organizes them with groups, folders,
notes, and free-form tags carried in the secret's tag set.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			cfg.VaultOverride = vaultURL
			cfg.NonInteractive = nonInteractive
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "kvops.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&vaultURL, "vault", "", "Key Vault URL or name (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Non-interactive mode")

	rootCmd.AddCommand(
		commands.NewInitCommand(cfg),
		commands.NewSetCommand(cfg),
		commands.NewGetCommand(cfg),
		commands.NewUpdateCommand(cfg),
		commands.NewDeleteCommand(cfg),
		commands.NewRenameCommand(cfg),
		commands.NewListCommand(cfg),
		commands.NewInfoCommand(cfg),
		commands.NewImportCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
