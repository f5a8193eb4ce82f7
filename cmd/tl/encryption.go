package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/treeline-money/treeline/internal/backup"
	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/encryption"
	"github.com/treeline-money/treeline/internal/logging"
	"github.com/treeline-money/treeline/internal/types"
)

var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage database encryption",
}

func getEncryptionService() (*encryption.Service, error) {
	dbPath, err := config.DBPath()
	if err != nil {
		return nil, err
	}
	metaPath, err := config.EncryptionMetaPath()
	if err != nil {
		return nil, err
	}
	backupsDir, err := config.BackupsDir()
	if err != nil {
		return nil, err
	}
	backups := backup.NewService(dbPath, backupsDir, "")
	return encryption.NewService(dbPath, metaPath, backups, shared), nil
}

// readPassword prompts without echo when stdin is a terminal.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", types.WrapErr(types.KindIO, err, "reading password")
		}
		return string(data), nil
	}
	var pw string
	if _, err := fmt.Fscanln(os.Stdin, &pw); err != nil {
		return "", types.WrapErr(types.KindIO, err, "reading password")
	}
	return pw, nil
}

var encryptionEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Encrypt the database with a password-derived key",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, err := getEncryptionService()
		if err != nil {
			return err
		}
		password, err := readPassword("New password: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return types.E(types.KindConfig, "passwords do not match")
		}
		if err := svc.Enable(password); err != nil {
			return err
		}
		logEvent(logging.Event{Event: "encryption_enabled", Command: "encryption"})
		if !jsonOut {
			fmt.Println("Database encrypted. A backup of the plain file is in backups/.")
		}
		return nil
	},
}

var encryptionDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Decrypt the database back to a plain file",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, err := getEncryptionService()
		if err != nil {
			return err
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		if err := svc.Disable(password); err != nil {
			return err
		}
		logEvent(logging.Event{Event: "encryption_disabled", Command: "encryption"})
		if !jsonOut {
			fmt.Println("Database decrypted.")
		}
		return nil
	},
}

var encryptionUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Validate the password and hold the key for this session",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, err := getEncryptionService()
		if err != nil {
			return err
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		hexKey, err := svc.Unlock(password)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]string{"key": hexKey})
		}
		fmt.Println("Unlocked. Export TL_DB_KEY to reuse the key:")
		fmt.Printf("  export TL_DB_KEY=%s\n", hexKey)
		return nil
	},
}

var encryptionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show encryption status",
	RunE: func(_ *cobra.Command, _ []string) error {
		svc, err := getEncryptionService()
		if err != nil {
			return err
		}
		encrypted, locked, err := svc.Status()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]bool{"encrypted": encrypted, "locked": locked})
		}
		switch {
		case !encrypted:
			fmt.Println("Database is not encrypted.")
		case locked:
			fmt.Println("Database is encrypted and locked.")
		default:
			fmt.Println("Database is encrypted and unlocked.")
		}
		return nil
	},
}

func init() {
	encryptionCmd.AddCommand(encryptionEnableCmd, encryptionDisableCmd,
		encryptionUnlockCmd, encryptionStatusCmd)
	rootCmd.AddCommand(encryptionCmd)
}
