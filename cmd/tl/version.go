package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tl version",
	RunE: func(_ *cobra.Command, _ []string) error {
		if jsonOut {
			return printJSON(map[string]string{"version": Version})
		}
		fmt.Println("tl " + Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
