package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/logging"
	"github.com/treeline-money/treeline/internal/plugins"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage plugins",
}

func getPluginManager() (*plugins.Manager, error) {
	repo, err := getRepo()
	if err != nil {
		return nil, err
	}
	dir, err := config.PluginsDir()
	if err != nil {
		return nil, err
	}
	return plugins.NewManager(repo, dir), nil
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <dir>",
	Short: "Install (or upgrade) a plugin from a directory",
	Long: `Install a plugin. The directory must contain manifest.json declaring
the plugin id, its table permissions, and its schema migrations. Installing
an already-installed plugin applies only the new migrations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		mgr, err := getPluginManager()
		if err != nil {
			return err
		}
		manifest, err := mgr.InstallFromDir(args[0])
		if err != nil {
			return err
		}
		logEvent(logging.Event{Event: "plugin_installed", Command: "plugin"})
		if jsonOut {
			return printJSON(manifest)
		}
		fmt.Printf("Installed plugin '%s' %s (schema %s)\n",
			manifest.ID, manifest.Version, plugins.SchemaFor(manifest.ID))
		return nil
	},
}

var pluginUninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Uninstall a plugin and drop its schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		mgr, err := getPluginManager()
		if err != nil {
			return err
		}
		if err := mgr.Uninstall(args[0]); err != nil {
			return err
		}
		logEvent(logging.Event{Event: "plugin_uninstalled", Command: "plugin"})
		if !jsonOut {
			fmt.Printf("Uninstalled plugin '%s'\n", args[0])
		}
		return nil
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	RunE: func(_ *cobra.Command, _ []string) error {
		mgr, err := getPluginManager()
		if err != nil {
			return err
		}
		ids, err := mgr.List()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(ids)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var pluginExecCmd = &cobra.Command{
	Use:   "exec <id> <sql>",
	Short: "Run SQL with a plugin's permissions",
	Long: `Run SQL as a plugin would. The statement is validated against the
plugin's declared reads and writes before it reaches the engine; a
violation is rejected without executing anything.`,
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		mgr, err := getPluginManager()
		if err != nil {
			return err
		}
		result, err := mgr.ExecuteForPlugin(args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(result)
		}
		printResult(result)
		return nil
	},
}

func init() {
	pluginCmd.AddCommand(pluginInstallCmd, pluginUninstallCmd, pluginListCmd, pluginExecCmd)
	rootCmd.AddCommand(pluginCmd)
}
