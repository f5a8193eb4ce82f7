package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/backup"
	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/encryption"
	"github.com/treeline-money/treeline/internal/logging"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage database backups",
}

func getBackupService() (*backup.Service, error) {
	dbPath, err := config.DBPath()
	if err != nil {
		return nil, err
	}
	backupsDir, err := config.BackupsDir()
	if err != nil {
		return nil, err
	}
	metaPath, err := config.EncryptionMetaPath()
	if err != nil {
		return nil, err
	}
	key, err := encryption.ResolveSessionKey(metaPath, config.DBKey(), config.DBPassword())
	if err != nil {
		return nil, err
	}
	return backup.NewService(dbPath, backupsDir, key), nil
}

var backupKeep int

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the database into backups/",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, err := getBackupService()
		if err != nil {
			return err
		}
		path, err := svc.Create()
		if err != nil {
			return err
		}
		if backupKeep > 0 {
			if err := svc.Rotate(backupKeep); err != nil {
				return err
			}
		}
		logEvent(logging.Event{Event: "backup_created", Command: "backup"})
		if jsonOut {
			return printJSON(map[string]string{"path": path})
		}
		fmt.Printf("Backup written to %s\n", path)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, err := getBackupService()
		if err != nil {
			return err
		}
		backups, err := svc.List()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(backups)
		}
		for _, b := range backups {
			fmt.Printf("%s  %10d bytes\n", b.Name, b.Size)
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore a backup over the current database",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		svc, err := getBackupService()
		if err != nil {
			return err
		}
		if err := svc.Restore(args[0], shared); err != nil {
			return err
		}
		logEvent(logging.Event{Event: "backup_restored", Command: "backup"})
		if !jsonOut {
			fmt.Printf("Restored %s\n", args[0])
		}
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete one backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		svc, err := getBackupService()
		if err != nil {
			return err
		}
		if err := svc.Delete(args[0]); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Printf("Deleted %s\n", args[0])
		}
		return nil
	},
}

var backupClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every backup",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, err := getBackupService()
		if err != nil {
			return err
		}
		if err := svc.Clear(); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Println("Backups cleared.")
		}
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().IntVar(&backupKeep, "keep", 0, "rotate: keep at most this many backups")
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd,
		backupDeleteCmd, backupClearCmd)
	rootCmd.AddCommand(backupCmd)
}
