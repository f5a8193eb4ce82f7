// Package plugins manages installed plugins: their schemas, their
// migrations, and the SQL permission validator that stands between plugin
// queries and the engine.
package plugins

import (
	"fmt"
	"strings"

	"github.com/treeline-money/treeline/internal/sqlscan"
	"github.com/treeline-money/treeline/internal/types"
)

// Context carries a plugin's identity and declared table permissions.
type Context struct {
	PluginID     string   `json:"plugin_id"`
	PluginSchema string   `json:"plugin_schema"`
	AllowedReads []string `json:"allowed_reads"`
	AllowedWrite []string `json:"allowed_writes"`
}

// ValidateQueryPermissions parses sql and checks every table reference in
// every statement against the plugin's declared permissions. The first
// violation fails the whole string; nothing is ever sent to the engine on
// failure.
func ValidateQueryPermissions(sql string, ctx *Context) error {
	stmts, err := sqlscan.SplitStatements(sql)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return types.E(types.KindParse, "empty SQL")
	}
	for _, stmt := range stmts {
		refs, err := sqlscan.ExtractTableRefs(stmt)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := validateTableAccess(ref.Name, ref.Write, ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateTableAccess checks one referenced table. Name comparison is
// case-insensitive, and a bare table name is equivalent to main.<table>.
func validateTableAccess(table string, write bool, ctx *Context) error {
	lower := strings.ToLower(table)
	schema := ""
	name := lower
	if idx := strings.Index(lower, "."); idx >= 0 {
		schema = lower[:idx]
		name = lower[idx+1:]
	}
	pluginSchema := strings.ToLower(ctx.PluginSchema)

	// The plugin's own schema is always allowed, read and write.
	if schema == pluginSchema {
		return nil
	}
	// A bare reference equal to the schema itself (CREATE SCHEMA plugin_x).
	if lower == pluginSchema {
		return nil
	}

	declared := ctx.AllowedReads
	verb, noun := "read", "reads"
	if write {
		declared = ctx.AllowedWrite
		verb, noun = "write", "writes"
	}
	for _, allowed := range declared {
		a := strings.ToLower(allowed)
		if a == "*" || a == lower {
			return nil
		}
		// bare name in the declaration matches main.<name> and vice versa
		if schema == "" && a == "main."+name {
			return nil
		}
		if schema == "main" && a == name {
			return nil
		}
	}
	return types.E(types.KindPermission,
		"Plugin '%s' cannot %s to '%s'. Declared %s: %s",
		ctx.PluginID, verb, table, noun, formatDeclared(declared))
}

func formatDeclared(declared []string) string {
	quoted := make([]string, len(declared))
	for i, d := range declared {
		quoted[i] = fmt.Sprintf("%q", d)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
