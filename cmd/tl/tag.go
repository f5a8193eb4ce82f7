package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/tags"
	"github.com/treeline-money/treeline/internal/types"
)

var tagFlags struct {
	tags    []string
	replace bool
}

var tagCmd = &cobra.Command{
	Use:   "tag <transaction-id>...",
	Short: "Add tags to transactions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return types.E(types.KindParse, "invalid transaction id %q", arg)
			}
			ids = append(ids, id)
		}
		svc := tags.NewService(repo)
		succeeded, failed, err := svc.ApplyTags(ids, tagFlags.tags, tagFlags.replace)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]int{"succeeded": succeeded, "failed": failed})
		}
		fmt.Printf("Tagged %d transactions (%d failed)\n", succeeded, failed)
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage auto-tag rules",
}

var ruleAddFlags struct {
	condition string
	tags      []string
	disabled  bool
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an auto-tag rule",
	Long: `Create an auto-tag rule. The condition is a SQL WHERE fragment over
sys_transactions; matching transactions get the rule's tags added on every
sync. Rules only ever add tags, and every matching rule applies.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		rule := &types.AutoTagRule{
			Name:         args[0],
			Enabled:      !ruleAddFlags.disabled,
			SQLCondition: ruleAddFlags.condition,
			Tags:         ruleAddFlags.tags,
		}
		if rule.SQLCondition == "" {
			return types.E(types.KindConfig, "a rule needs --condition")
		}
		if len(rule.Tags) == 0 {
			return types.E(types.KindConfig, "a rule needs at least one --tag")
		}
		if err := repo.CreateAutoTagRule(rule); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(rule)
		}
		fmt.Printf("Created rule '%s' (%s)\n", rule.Name, rule.ID)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List auto-tag rules",
	RunE: func(_ *cobra.Command, _ []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		rules, err := repo.ListAutoTagRules()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(rules)
		}
		for _, r := range rules {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			fmt.Printf("%s  %-20s [%s] -> %s\n", r.ID, r.Name, state, strings.Join(r.Tags, ","))
		}
		return nil
	},
}

func ruleToggle(enable bool) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return types.E(types.KindParse, "invalid rule id %q", args[0])
		}
		return repo.SetAutoTagRuleEnabled(id, enable)
	}
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  ruleToggle(true),
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  ruleToggle(false),
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return types.E(types.KindParse, "invalid rule id %q", args[0])
		}
		return repo.DeleteAutoTagRule(id)
	},
}

func init() {
	tagCmd.Flags().StringSliceVarP(&tagFlags.tags, "tag", "t", nil, "tag to add (repeatable)")
	tagCmd.Flags().BoolVar(&tagFlags.replace, "replace", false, "replace instead of add")
	_ = tagCmd.MarkFlagRequired("tag")

	rulesAddCmd.Flags().StringVar(&ruleAddFlags.condition, "condition", "", "SQL WHERE fragment")
	rulesAddCmd.Flags().StringSliceVarP(&ruleAddFlags.tags, "tag", "t", nil, "tag to add on match (repeatable)")
	rulesAddCmd.Flags().BoolVar(&ruleAddFlags.disabled, "disabled", false, "create the rule disabled")

	rulesCmd.AddCommand(rulesAddCmd, rulesListCmd, rulesEnableCmd, rulesDisableCmd, rulesDeleteCmd)
	rootCmd.AddCommand(tagCmd, rulesCmd)
}
