// Package tags applies manual tags and auto-tag rules to transactions.
// Rules are additive (tags are never removed) and all-matching (every
// enabled rule runs, not first-wins).
package tags

import (
	"strings"

	"github.com/google/uuid"

	"github.com/treeline-money/treeline/internal/storage/duckdb"
)

// RuleFailure records one rule that could not be applied. The error is
// sanitized: the rule's SQL text never appears in it.
type RuleFailure struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Error    string `json:"error"`
}

// AutoTagResult summarizes one auto-tag pass.
type AutoTagResult struct {
	RulesEvaluated     int           `json:"rules_evaluated"`
	RulesMatched       int           `json:"rules_matched"`
	TransactionsTagged int           `json:"transactions_tagged"`
	FailedRules        []RuleFailure `json:"failed_rules,omitempty"`
}

// Service evaluates tagging operations against the repository.
type Service struct {
	Repo *duckdb.Repo
}

// NewService creates a tag service.
func NewService(repo *duckdb.Repo) *Service {
	return &Service{Repo: repo}
}

// ApplyAutoTagRules runs every enabled rule against the candidate
// transactions. A failing rule is captured and the pass continues.
func (s *Service) ApplyAutoTagRules(txIDs []uuid.UUID) (*AutoTagResult, error) {
	result := &AutoTagResult{}
	if len(txIDs) == 0 {
		return result, nil
	}
	rules, err := s.Repo.GetEnabledAutoTagRules()
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return result, nil
	}
	result.RulesEvaluated = len(rules)

	tagged := map[uuid.UUID]bool{}
	for _, rule := range rules {
		if len(rule.Tags) == 0 {
			continue
		}
		modified, err := s.Repo.BulkApplyTagsToMatching(txIDs, rule.SQLCondition, rule.Tags)
		if err != nil {
			result.FailedRules = append(result.FailedRules, RuleFailure{
				RuleID:   rule.ID.String(),
				RuleName: rule.Name,
				Error:    sanitizeSQLError(err.Error()),
			})
			continue
		}
		if len(modified) > 0 {
			result.RulesMatched++
		}
		for _, id := range modified {
			tagged[id] = true
		}
	}
	result.TransactionsTagged = len(tagged)
	return result, nil
}

// ApplyTags adds (or, with replace, sets) tags on each transaction.
// Added tags are deduplicated against the existing list.
func (s *Service) ApplyTags(txIDs []uuid.UUID, newTags []string, replace bool) (succeeded, failed int, err error) {
	for _, id := range txIDs {
		if aerr := s.applyToOne(id, newTags, replace); aerr != nil {
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed, nil
}

func (s *Service) applyToOne(id uuid.UUID, newTags []string, replace bool) error {
	final := newTags
	if !replace {
		tx, err := s.Repo.GetTransaction(id)
		if err != nil {
			return err
		}
		final = tx.Tags
		for _, t := range newTags {
			if !contains(final, t) {
				final = append(final, t)
			}
		}
	}
	return s.Repo.UpdateTransactionTags(id, final)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// sanitizeSQLError reduces an engine error to a fixed category string.
// Engine messages can echo the rule's SQL, which may contain user-entered
// patterns, so the original text is never surfaced.
func sanitizeSQLError(msg string) string {
	switch {
	case strings.Contains(msg, "Parser Error"):
		return "SQL syntax error in rule condition"
	case strings.Contains(msg, "Binder Error"):
		return "Invalid column or table reference in rule condition"
	case strings.Contains(msg, "Invalid Input Error"):
		return "Invalid input in rule condition"
	case strings.Contains(msg, "Catalog Error"):
		return "Unknown function or table in rule condition"
	case strings.Contains(msg, "regexp"), strings.Contains(msg, "regex"):
		return "Invalid regex pattern in rule condition"
	default:
		return "Rule condition failed to execute"
	}
}
