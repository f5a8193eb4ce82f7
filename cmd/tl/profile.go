package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/settings"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved import profiles",
}

func getSettingsStore() (*settings.Store, error) {
	path, err := config.SettingsPath()
	if err != nil {
		return nil, err
	}
	return settings.NewStore(path), nil
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import profiles",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := getSettingsStore()
		if err != nil {
			return err
		}
		profiles, err := store.ListProfiles()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(profiles)
		}
		for _, p := range profiles {
			fmt.Printf("%-20s date=%s amount=%s\n", p.Name, p.ColumnMappings.Date, p.ColumnMappings.Amount)
		}
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an import profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := getSettingsStore()
		if err != nil {
			return err
		}
		if err := store.DeleteProfile(args[0]); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Printf("Deleted profile '%s'\n", args[0])
		}
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
