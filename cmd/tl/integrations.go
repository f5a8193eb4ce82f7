package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/types"
)

var integrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "Manage sync integrations",
}

var integrationSetFlags struct {
	config   string
	disabled bool
}

var integrationsSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update an integration",
	Long: `Create or update an integration. Recognized names are "bridge"
(US/Canada bridge protocol, config {"access_url": ...}) and "aggregator"
(global API-key protocol, config {"api_key": ..., "base_url": ...}).`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		name := args[0]
		if name != types.ProviderBridge && name != types.ProviderAggregator {
			return types.E(types.KindConfig, "unknown integration '%s'", name)
		}
		if integrationSetFlags.config == "" {
			return types.E(types.KindConfig, "an integration needs --config")
		}
		repo, err := getRepo()
		if err != nil {
			return err
		}
		in := &types.Integration{
			Name:    name,
			Config:  integrationSetFlags.config,
			Enabled: !integrationSetFlags.disabled,
		}
		if err := repo.UpsertIntegration(in); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Printf("Saved integration '%s'\n", name)
		}
		return nil
	},
}

var integrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List integrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		integrations, err := repo.ListIntegrations()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(integrations)
		}
		for _, in := range integrations {
			state := "enabled"
			if !in.Enabled {
				state = "disabled"
			}
			last := "never"
			if in.LastSuccessfulSync != nil {
				last = in.LastSuccessfulSync.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-12s [%s] last sync: %s\n", in.Name, state, last)
		}
		return nil
	},
}

var integrationsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		if err := repo.DeleteIntegration(args[0]); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Printf("Removed integration '%s'\n", args[0])
		}
		return nil
	},
}

func init() {
	integrationsSetCmd.Flags().StringVar(&integrationSetFlags.config, "config", "", "provider config JSON")
	integrationsSetCmd.Flags().BoolVar(&integrationSetFlags.disabled, "disabled", false, "save the integration disabled")
	integrationsCmd.AddCommand(integrationsSetCmd, integrationsListCmd, integrationsRemoveCmd)
	rootCmd.AddCommand(integrationsCmd)
}
