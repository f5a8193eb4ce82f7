package duckdb

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/treeline-money/treeline/internal/types"
)

// CreateAutoTagRule inserts a rule, assigning an id when none is set.
func (r *Repo) CreateAutoTagRule(rule *types.AutoTagRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	return r.WithWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sys_auto_tag_rules (id, name, enabled, sql_condition, tags)
			VALUES (?, ?, ?, ?, CAST(? AS VARCHAR[]))`,
			rule.ID.String(), rule.Name, rule.Enabled, rule.SQLCondition,
			sqlListParam(rule.Tags))
		if err != nil {
			return wrapDBError("creating auto-tag rule", err)
		}
		return nil
	})
}

func (r *Repo) listRules(where string) ([]*types.AutoTagRule, error) {
	var rules []*types.AutoTagRule
	err := r.WithRead(func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT CAST(id AS VARCHAR), name, enabled, sql_condition,
				array_to_string(tags, chr(31))
			FROM sys_auto_tag_rules ` + where + ` ORDER BY name`)
		if err != nil {
			return wrapDBError("listing auto-tag rules", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				rule types.AutoTagRule
				id   string
				tags sql.NullString
			)
			if err := rows.Scan(&id, &rule.Name, &rule.Enabled, &rule.SQLCondition, &tags); err != nil {
				return wrapDBError("scanning auto-tag rule", err)
			}
			var perr error
			if rule.ID, perr = uuid.Parse(id); perr != nil {
				return types.WrapErr(types.KindDB, perr, "decoding rule id %q", id)
			}
			rule.Tags = splitTags(tags.String)
			rules = append(rules, &rule)
		}
		return rows.Err()
	})
	return rules, err
}

// ListAutoTagRules returns every rule.
func (r *Repo) ListAutoTagRules() ([]*types.AutoTagRule, error) {
	return r.listRules("")
}

// GetEnabledAutoTagRules returns rules with enabled = true.
func (r *Repo) GetEnabledAutoTagRules() ([]*types.AutoTagRule, error) {
	return r.listRules("WHERE enabled")
}

// SetAutoTagRuleEnabled toggles a rule.
func (r *Repo) SetAutoTagRuleEnabled(id uuid.UUID, enabled bool) error {
	return r.WithWrite(func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE sys_auto_tag_rules SET enabled = ? WHERE id = ?`,
			enabled, id.String())
		if err != nil {
			return wrapDBError("updating auto-tag rule", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.E(types.KindNotFound, "auto-tag rule %s not found", id)
		}
		return nil
	})
}

// DeleteAutoTagRule removes a rule.
func (r *Repo) DeleteAutoTagRule(id uuid.UUID) error {
	return r.WithWrite(func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM sys_auto_tag_rules WHERE id = ?`, id.String())
		if err != nil {
			return wrapDBError("deleting auto-tag rule", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.E(types.KindNotFound, "auto-tag rule %s not found", id)
		}
		return nil
	})
}

// BulkApplyTagsToMatching adds tags to every candidate transaction that
// matches the rule's SQL condition, and returns the modified ids. The
// condition is evaluated verbatim; callers sanitize any resulting engine
// error before surfacing it.
func (r *Repo) BulkApplyTagsToMatching(txIDs []uuid.UUID, condition string, tags []string) ([]uuid.UUID, error) {
	if len(txIDs) == 0 || len(tags) == 0 {
		return nil, nil
	}
	strs := make([]string, len(txIDs))
	for i, id := range txIDs {
		strs[i] = id.String()
	}
	var modified []uuid.UUID
	err := r.WithWrite(func(db *sql.DB) error {
		for _, chunk := range chunked(strs, lookupChunkSize) {
			rows, err := db.Query(`
				UPDATE sys_transactions
				SET tags = list_distinct(list_concat(tags, `+sqlStringList(tags)+`))
				WHERE id IN (`+placeholders(len(chunk))+`) AND (`+condition+`)
				RETURNING CAST(id AS VARCHAR)`,
				anySlice(chunk)...)
			if err != nil {
				return wrapDBError("applying auto-tag rule", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return wrapDBError("scanning tagged id", err)
				}
				u, perr := uuid.Parse(id)
				if perr != nil {
					rows.Close()
					return types.WrapErr(types.KindDB, perr, "decoding transaction id %q", id)
				}
				modified = append(modified, u)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return wrapDBError("applying auto-tag rule", err)
			}
			rows.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return modified, nil
}
