// Package sqlscan tokenizes SQL text and extracts table references with
// read/write annotations. It understands enough of the DuckDB dialect for
// permission checking: CTEs (shadowing), subqueries, joins, set operations,
// DML, DDL, FILTER/QUALIFY/GROUP BY ALL, EXCLUDE/REPLACE, struct and list
// literals. It does not build a full AST; it walks the token stream and
// tracks the contexts in which table names appear.
package sqlscan

import (
	"strings"

	"github.com/treeline-money/treeline/internal/types"
)

// TableRef is a table (or schema, for CREATE SCHEMA) referenced by a
// statement, annotated with the kind of access.
type TableRef struct {
	// Name as written, possibly schema-qualified ("plugin_goals.goals").
	Name string
	// Write is true for INSERT/UPDATE/DELETE targets and all DDL targets.
	Write bool
}

type tokenKind int

const (
	tokWord tokenKind = iota // bare identifier or keyword
	tokQuoted
	tokString
	tokNumber
	tokSymbol
)

type token struct {
	kind tokenKind
	text string // keywords normalized to upper case for words
	raw  string // original spelling
}

// tokenize splits SQL into tokens, dropping comments. Strings and quoted
// identifiers keep their content without the surrounding quotes.
func tokenize(sql string) ([]token, error) {
	var toks []token
	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, types.E(types.KindParse, "unterminated block comment")
			}
			i += end + 4
		case c == '\'':
			j := i + 1
			var sb strings.Builder
			for {
				if j >= n {
					return nil, types.E(types.KindParse, "unterminated string literal")
				}
				if sql[j] == '\'' {
					if j+1 < n && sql[j+1] == '\'' {
						sb.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				sb.WriteByte(sql[j])
				j++
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), raw: sql[i : j+1]})
			i = j + 1
		case c == '"':
			j := i + 1
			var sb strings.Builder
			for {
				if j >= n {
					return nil, types.E(types.KindParse, "unterminated quoted identifier")
				}
				if sql[j] == '"' {
					if j+1 < n && sql[j+1] == '"' {
						sb.WriteByte('"')
						j += 2
						continue
					}
					break
				}
				sb.WriteByte(sql[j])
				j++
			}
			toks = append(toks, token{kind: tokQuoted, text: sb.String(), raw: sql[i : j+1]})
			i = j + 1
		case isIdentStart(c):
			j := i + 1
			for j < n && isIdentPart(sql[j]) {
				j++
			}
			raw := sql[i:j]
			toks = append(toks, token{kind: tokWord, text: strings.ToUpper(raw), raw: raw})
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < n && (isIdentPart(sql[j]) || sql[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: sql[i:j], raw: sql[i:j]})
			i = j
		default:
			toks = append(toks, token{kind: tokSymbol, text: string(c), raw: string(c)})
			i++
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// SplitStatements splits SQL text into statements on top-level semicolons,
// respecting strings, quoted identifiers, and comments. Empty statements
// are dropped.
func SplitStatements(sql string) ([]string, error) {
	var stmts []string
	depth := 0
	start := 0
	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			q := c
			j := i + 1
			for j < n {
				if sql[j] == q {
					if j+1 < n && sql[j+1] == q {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= n {
				return nil, types.E(types.KindParse, "unterminated quote")
			}
			i = j + 1
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, types.E(types.KindParse, "unterminated block comment")
			}
			i += end + 4
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case c == ';' && depth == 0:
			if s := strings.TrimSpace(sql[start:i]); s != "" {
				stmts = append(stmts, s)
			}
			i++
			start = i
		default:
			i++
		}
	}
	if s := strings.TrimSpace(sql[start:]); s != "" {
		stmts = append(stmts, s)
	}
	return stmts, nil
}

// IsReadOnly reports whether every statement in sql is purely a read:
// SELECT (including WITH ... SELECT and DuckDB FROM-first form), DESCRIBE,
// SHOW, SUMMARIZE, EXPLAIN, VALUES, or TABLE. CHECKPOINT and VACUUM are not
// reads.
func IsReadOnly(sql string) (bool, error) {
	stmts, err := SplitStatements(sql)
	if err != nil {
		return false, err
	}
	if len(stmts) == 0 {
		return false, types.E(types.KindParse, "empty SQL")
	}
	for _, stmt := range stmts {
		toks, err := tokenize(stmt)
		if err != nil {
			return false, err
		}
		if len(toks) == 0 {
			continue
		}
		verb := mainVerb(toks)
		switch verb {
		case "SELECT", "FROM", "DESCRIBE", "SHOW", "SUMMARIZE", "EXPLAIN", "VALUES", "TABLE":
		default:
			return false, nil
		}
	}
	return true, nil
}

// mainVerb returns the statement's top-level verb, skipping a leading WITH
// clause (including RECURSIVE CTEs) by jumping over balanced parens.
func mainVerb(toks []token) string {
	i := mainVerbIndex(toks)
	if i < len(toks) && toks[i].kind == tokWord {
		return toks[i].text
	}
	return ""
}

// mainVerbIndex returns the index of the statement's top-level verb,
// past any leading WITH clause.
func mainVerbIndex(toks []token) int {
	i := 0
	if i < len(toks) && toks[i].kind == tokWord && toks[i].text == "WITH" {
		i++
		if i < len(toks) && toks[i].kind == tokWord && toks[i].text == "RECURSIVE" {
			i++
		}
		// Skip comma-separated "name [(cols)] AS [MATERIALIZED] (query)" entries.
		for i < len(toks) {
			// CTE name
			if toks[i].kind == tokWord || toks[i].kind == tokQuoted {
				i++
			}
			// optional column list
			if i < len(toks) && toks[i].kind == tokSymbol && toks[i].text == "(" {
				i = skipParens(toks, i)
			}
			if i < len(toks) && toks[i].kind == tokWord && toks[i].text == "AS" {
				i++
			}
			if i < len(toks) && toks[i].kind == tokWord && toks[i].text == "NOT" {
				i++
			}
			if i < len(toks) && toks[i].kind == tokWord && toks[i].text == "MATERIALIZED" {
				i++
			}
			// body
			if i < len(toks) && toks[i].kind == tokSymbol && toks[i].text == "(" {
				i = skipParens(toks, i)
			}
			if i < len(toks) && toks[i].kind == tokSymbol && toks[i].text == "," {
				i++
				continue
			}
			break
		}
	}
	return i
}

// skipParens advances past the balanced group opening at toks[open].
// Returns the index just after the matching close paren.
func skipParens(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		if toks[i].kind != tokSymbol {
			continue
		}
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(toks)
}
