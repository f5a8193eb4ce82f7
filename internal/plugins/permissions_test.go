package plugins

import (
	"strings"
	"testing"

	"github.com/treeline-money/treeline/internal/types"
)

func testCtx() *Context {
	return &Context{
		PluginID:     "goals",
		PluginSchema: "plugin_goals",
		AllowedReads: []string{"accounts", "sys_balance_snapshots"},
		AllowedWrite: []string{},
	}
}

func TestSelectAllowedTable(t *testing.T) {
	if err := ValidateQueryPermissions("SELECT * FROM accounts", testCtx()); err != nil {
		t.Errorf("expected allowed, got %v", err)
	}
}

func TestSelectDeniedTable(t *testing.T) {
	err := ValidateQueryPermissions("SELECT * FROM sys_transactions", testCtx())
	if err == nil {
		t.Fatal("expected denial")
	}
	if !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("want a read denial, got %v", err)
	}
	if !types.IsKind(err, types.KindPermission) {
		t.Errorf("want PermissionError, got %v", types.KindOf(err))
	}
}

func TestOwnSchemaAlwaysAllowed(t *testing.T) {
	cases := []string{
		"SELECT * FROM plugin_goals.goals",
		"INSERT INTO plugin_goals.goals (id, name) VALUES ('1', 'test')",
		"UPDATE plugin_goals.goals SET name = 'x'",
		"DELETE FROM plugin_goals.goals",
		"CREATE TABLE plugin_goals.extra (id INT)",
		"DROP TABLE plugin_goals.extra",
		"CREATE SCHEMA plugin_goals",
	}
	for _, sql := range cases {
		if err := ValidateQueryPermissions(sql, testCtx()); err != nil {
			t.Errorf("%q: expected allowed, got %v", sql, err)
		}
	}
}

func TestInsertDeniedOutsideSchema(t *testing.T) {
	err := ValidateQueryPermissions("INSERT INTO sys_transactions (id) VALUES ('1')", testCtx())
	if err == nil {
		t.Fatal("expected denial")
	}
	if !strings.Contains(err.Error(), "cannot write") {
		t.Errorf("want a write denial, got %v", err)
	}
}

func TestCTEShadowsRealTable(t *testing.T) {
	// A CTE named after a denied table is fine: the reference hits the CTE.
	sql := "WITH sys_transactions AS (SELECT 1) SELECT * FROM sys_transactions"
	if err := ValidateQueryPermissions(sql, testCtx()); err != nil {
		t.Errorf("expected allowed, got %v", err)
	}
}

func TestCTEWithNoReadsAllowed(t *testing.T) {
	ctx := &Context{PluginID: "p", PluginSchema: "plugin_p"}
	sql := "WITH accounts AS (SELECT 1) SELECT * FROM accounts"
	if err := ValidateQueryPermissions(sql, ctx); err != nil {
		t.Errorf("expected allowed with no declared reads, got %v", err)
	}
}

func TestUnionLeakage(t *testing.T) {
	sql := "SELECT id FROM accounts UNION SELECT id FROM sys_transactions"
	if err := ValidateQueryPermissions(sql, testCtx()); err == nil {
		t.Error("expected the denied side of the union to fail")
	}
}

func TestWriteOwnSchemaFromDeniedSource(t *testing.T) {
	// The write target is fine; the read of the source is not. The error
	// must be a read denial on the source, not a write denial.
	sql := "INSERT INTO plugin_goals.goals SELECT * FROM sys_transactions"
	err := ValidateQueryPermissions(sql, testCtx())
	if err == nil {
		t.Fatal("expected denial")
	}
	if !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("want a read denial on the source, got %v", err)
	}
	if !strings.Contains(err.Error(), "sys_transactions") {
		t.Errorf("error should name the source table, got %v", err)
	}
}

func TestSubqueryDenied(t *testing.T) {
	sql := "SELECT * FROM accounts WHERE id IN (SELECT account_id FROM sys_transactions)"
	if err := ValidateQueryPermissions(sql, testCtx()); err == nil {
		t.Error("expected the subquery table to be checked")
	}
}

func TestMultiStatementFirstFailureWins(t *testing.T) {
	sql := "SELECT * FROM accounts; SELECT * FROM sys_transactions"
	if err := ValidateQueryPermissions(sql, testCtx()); err == nil {
		t.Error("expected the second statement to fail the string")
	}
}

func TestWildcard(t *testing.T) {
	ctx := &Context{
		PluginID:     "admin",
		PluginSchema: "plugin_admin",
		AllowedReads: []string{"*"},
		AllowedWrite: []string{"*"},
	}
	cases := []string{
		"SELECT * FROM sys_transactions",
		"INSERT INTO accounts (id) VALUES ('1')",
		"DROP TABLE sys_logs",
	}
	for _, sql := range cases {
		if err := ValidateQueryPermissions(sql, ctx); err != nil {
			t.Errorf("%q: wildcard should allow, got %v", sql, err)
		}
	}
}

func TestCaseInsensitiveAndMainPrefix(t *testing.T) {
	ctx := testCtx()
	if err := ValidateQueryPermissions("SELECT * FROM ACCOUNTS", ctx); err != nil {
		t.Errorf("case-insensitive match failed: %v", err)
	}
	if err := ValidateQueryPermissions("SELECT * FROM main.accounts", ctx); err != nil {
		t.Errorf("main.accounts should match declared 'accounts': %v", err)
	}
	if err := ValidateQueryPermissions("SELECT * FROM Plugin_Goals.goals", ctx); err != nil {
		t.Errorf("own schema match should be case-insensitive: %v", err)
	}
}

func TestParseErrorSurfaces(t *testing.T) {
	err := ValidateQueryPermissions("SELECT 'unterminated", testCtx())
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !types.IsKind(err, types.KindParse) {
		t.Errorf("want ParseError, got %v", types.KindOf(err))
	}
}

func TestDeniedErrorListsDeclared(t *testing.T) {
	err := ValidateQueryPermissions("SELECT * FROM sys_logs", testCtx())
	if err == nil {
		t.Fatal("expected denial")
	}
	msg := err.Error()
	if !strings.Contains(msg, "goals") || !strings.Contains(msg, "accounts") {
		t.Errorf("error should name the plugin and its declared reads: %v", msg)
	}
}
