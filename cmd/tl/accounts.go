package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/logging"
	"github.com/treeline-money/treeline/internal/types"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(_ *cobra.Command, _ []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		accounts, err := repo.ListAccounts()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(accounts)
		}
		for _, a := range accounts {
			balance := ""
			if a.Balance != nil {
				balance = a.Balance.StringFixed(2)
			}
			fmt.Printf("%s  %-25s %-10s %10s", a.ID, a.Name, a.Currency, balance)
			if a.Provider != "" {
				fmt.Printf("  [%s]", a.Provider)
			}
			fmt.Println()
		}
		return nil
	},
}

var accountCreateFlags struct {
	accountType string
	currency    string
	institution string
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a manual account",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		account := &types.Account{
			Name:        args[0],
			AccountType: accountCreateFlags.accountType,
			Currency:    accountCreateFlags.currency,
			Institution: accountCreateFlags.institution,
		}
		if err := repo.CreateAccount(account); err != nil {
			return err
		}
		logEvent(logging.Event{Event: "account_created", Command: "accounts"})
		if jsonOut {
			return printJSON(account)
		}
		fmt.Printf("Created account %s (%s)\n", account.Name, account.ID)
		return nil
	},
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <name-or-id>",
	Short: "Delete an account and everything it owns",
	Long: `Delete an account. Every transaction and balance snapshot belonging
to the account is removed in the same operation; no orphans remain.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		id, err := repo.ResolveAccount(args[0])
		if err != nil {
			return err
		}
		if err := repo.DeleteAccount(id); err != nil {
			return err
		}
		logEvent(logging.Event{Event: "account_deleted", Command: "accounts"})
		if !jsonOut {
			fmt.Printf("Deleted account %s\n", id)
		}
		return nil
	},
}

var accountsShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show one account",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		id, err := repo.ResolveAccount(args[0])
		if err != nil {
			return err
		}
		account, err := repo.GetAccount(id)
		if err != nil {
			return err
		}
		txCount, err := repo.CountTransactions(id)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]any{"account": account, "transactions": txCount})
		}
		fmt.Printf("%s (%s)\n", account.Name, account.ID)
		if account.AccountType != "" {
			fmt.Printf("  Type:         %s\n", account.AccountType)
		}
		if account.Currency != "" {
			fmt.Printf("  Currency:     %s\n", account.Currency)
		}
		if account.Balance != nil {
			fmt.Printf("  Balance:      %s\n", account.Balance.StringFixed(2))
		}
		if account.Provider != "" {
			fmt.Printf("  Provider:     %s (%s)\n", account.Provider, account.ProviderAccountID)
		}
		fmt.Printf("  Transactions: %d\n", txCount)
		return nil
	},
}

func init() {
	accountsCreateCmd.Flags().StringVar(&accountCreateFlags.accountType, "type", "", "account type")
	accountsCreateCmd.Flags().StringVar(&accountCreateFlags.currency, "currency", "USD", "currency code")
	accountsCreateCmd.Flags().StringVar(&accountCreateFlags.institution, "institution", "", "institution name")
	accountsCmd.AddCommand(accountsListCmd, accountsCreateCmd, accountsDeleteCmd, accountsShowCmd)
	rootCmd.AddCommand(accountsCmd)
}
