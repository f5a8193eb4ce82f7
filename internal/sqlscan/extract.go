package sqlscan

import (
	"strings"
)

// clause keywords that terminate a FROM list.
var fromTerminators = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "QUALIFY": true,
	"WINDOW": true, "ORDER": true, "LIMIT": true, "OFFSET": true,
	"UNION": true, "INTERSECT": true, "EXCEPT": true, "SELECT": true,
	"ON": true, "USING": true, "RETURNING": true, "SET": true,
	"FETCH": true, "SAMPLE": true, "TABLESAMPLE": true,
}

var joinWords = map[string]bool{
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"CROSS": true, "NATURAL": true, "SEMI": true, "ANTI": true,
	"OUTER": true, "LATERAL": true, "POSITIONAL": true, "ASOF": true,
}

// ExtractTableRefs parses one SQL statement and returns every table it
// references, annotated read or write. CTE names shadow real tables: a
// reference to a CTE name is never reported as a read.
func ExtractTableRefs(stmt string) ([]TableRef, error) {
	toks, err := tokenize(stmt)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}

	ctes := collectCTENames(toks)
	var refs []TableRef

	addRead := func(name string) {
		if name == "" || ctes[strings.ToLower(name)] {
			return
		}
		refs = append(refs, TableRef{Name: name})
	}
	addWrite := func(name string) {
		if name == "" {
			return
		}
		refs = append(refs, TableRef{Name: name, Write: true})
	}

	// Dispatch on the main verb, past any leading WITH clause, so DML
	// targets behind a CTE list are still annotated. The CTE bodies in the
	// prefix are scanned for reads separately below.
	verbIdx := mainVerbIndex(toks)
	if verbIdx > 0 {
		scanReads(toks[:verbIdx], 0, ctes, addRead)
	}
	i := verbIdx
	verb := ""
	if i < len(toks) && toks[i].kind == tokWord {
		verb = toks[i].text
	}

	switch verb {
	case "INSERT":
		// INSERT [OR REPLACE|OR IGNORE] INTO target ...
		for i < len(toks) && toks[i].text != "INTO" {
			i++
		}
		if i < len(toks) {
			i++ // INTO
			name, next := identChain(toks, i)
			addWrite(name)
			i = next
		}
	case "UPDATE":
		i++
		name, next := identChain(toks, i)
		addWrite(name)
		i = next
	case "DELETE":
		// DELETE FROM target [USING ...] [WHERE ...]
		for i < len(toks) && toks[i].text != "FROM" {
			i++
		}
		if i < len(toks) {
			i++ // FROM
			name, next := identChain(toks, i)
			addWrite(name)
			i = next
		}
	case "CREATE":
		i++
		// OR REPLACE / TEMP / TEMPORARY
		for i < len(toks) && (toks[i].text == "OR" || toks[i].text == "REPLACE" ||
			toks[i].text == "TEMP" || toks[i].text == "TEMPORARY") {
			i++
		}
		if i >= len(toks) {
			break
		}
		kind := toks[i].text
		i++
		// IF NOT EXISTS
		for i < len(toks) && (toks[i].text == "IF" || toks[i].text == "NOT" || toks[i].text == "EXISTS") {
			i++
		}
		switch kind {
		case "TABLE", "VIEW", "SCHEMA", "SEQUENCE":
			name, next := identChain(toks, i)
			addWrite(name)
			i = next
		case "INDEX", "UNIQUE":
			// CREATE [UNIQUE] INDEX name ON table (...)
			for i < len(toks) && toks[i].text != "ON" {
				i++
			}
			if i < len(toks) {
				i++
				name, next := identChain(toks, i)
				addWrite(name)
				i = next
			}
		}
	case "DROP":
		i++ // DROP
		if i < len(toks) {
			i++ // TABLE / SCHEMA / VIEW / INDEX
		}
		for i < len(toks) && (toks[i].text == "IF" || toks[i].text == "EXISTS") {
			i++
		}
		for i < len(toks) {
			name, next := identChain(toks, i)
			addWrite(name)
			i = next
			if i < len(toks) && toks[i].kind == tokSymbol && toks[i].text == "," {
				i++
				continue
			}
			break
		}
	case "ALTER":
		i++ // ALTER
		if i < len(toks) {
			i++ // TABLE / VIEW
		}
		for i < len(toks) && (toks[i].text == "IF" || toks[i].text == "EXISTS") {
			i++
		}
		name, next := identChain(toks, i)
		addWrite(name)
		i = next
	}

	// Scan the remainder (and, for plain queries, the whole statement) for
	// read references introduced by FROM and JOIN.
	scanReads(toks, i, ctes, addRead)
	return refs, nil
}

// scanReads walks tokens from start and records a read ref for every table
// item introduced by FROM, a JOIN, or a comma inside an open FROM list.
func scanReads(toks []token, start int, ctes map[string]bool, add func(string)) {
	depth := 0
	inFrom := false
	fromDepth := -1
	i := start
	for i < len(toks) {
		t := toks[i]
		if t.kind == tokSymbol {
			switch t.text {
			case "(":
				depth++
			case ")":
				depth--
				if inFrom && depth < fromDepth {
					inFrom = false
				}
			case ",":
				if inFrom && depth == fromDepth {
					i++
					i = readTableItem(toks, i, add)
					continue
				}
			}
			i++
			continue
		}
		if t.kind == tokWord {
			switch {
			case t.text == "FROM":
				i++
				inFrom = true
				fromDepth = depth
				i = readTableItem(toks, i, add)
				continue
			case t.text == "JOIN" || t.text == "USING":
				// JOIN introduces a table; USING introduces one in
				// DELETE ... USING, and is harmless after a JOIN where the
				// next token is a column list, not a name.
				i++
				i = readTableItem(toks, i, add)
				continue
			case fromTerminators[t.text] && inFrom && depth <= fromDepth:
				inFrom = false
			}
		}
		i++
	}
}

// readTableItem consumes one item of a FROM list starting at i and records
// it when it is a plain (possibly qualified) table name. Subqueries are not
// consumed; the caller's scan continues into them. Table functions and
// string literals (file reads) produce no ref.
func readTableItem(toks []token, i int, add func(string)) int {
	if i >= len(toks) {
		return i
	}
	if toks[i].kind == tokSymbol || toks[i].kind == tokString || toks[i].kind == tokNumber {
		return i
	}
	if toks[i].kind == tokWord && joinWords[toks[i].text] {
		// e.g. "LEFT JOIN x" after a comma never happens, but "NATURAL"
		// etc. before JOIN should not be eaten as a table name.
		return i
	}
	name, next := identChain(toks, i)
	if name == "" {
		return i
	}
	// Ident followed by '(' is a table function call.
	if next < len(toks) && toks[next].kind == tokSymbol && toks[next].text == "(" {
		return next
	}
	add(name)
	return next
}

// identChain reads a dotted identifier chain (a.b.c) starting at i.
// Returns the joined name (original spelling) and the index after it.
func identChain(toks []token, i int) (string, int) {
	var parts []string
	for i < len(toks) {
		t := toks[i]
		if t.kind != tokWord && t.kind != tokQuoted {
			break
		}
		if t.kind == tokWord && len(parts) == 0 && isReservedStart(t.text) {
			break
		}
		part := t.raw
		if t.kind == tokQuoted {
			part = t.text
		}
		parts = append(parts, part)
		i++
		if i < len(toks) && toks[i].kind == tokSymbol && toks[i].text == "." {
			i++
			continue
		}
		break
	}
	return strings.Join(parts, "."), i
}

// isReservedStart lists keywords that can never begin a table name in the
// positions identChain is called from.
func isReservedStart(word string) bool {
	switch word {
	case "SELECT", "WHERE", "GROUP", "ORDER", "HAVING", "LIMIT", "UNION",
		"INTERSECT", "EXCEPT", "VALUES", "SET", "ON", "USING", "AS",
		"QUALIFY", "WINDOW", "JOIN", "INNER", "LEFT", "RIGHT", "FULL",
		"CROSS", "NATURAL", "LATERAL", "RETURNING", "WITH":
		return true
	}
	return false
}

// collectCTENames finds every CTE name declared anywhere in the statement,
// including WITH clauses nested in subqueries. Names are lower-cased.
func collectCTENames(toks []token) map[string]bool {
	names := map[string]bool{}
	for i := 0; i < len(toks); i++ {
		if toks[i].kind != tokWord || toks[i].text != "WITH" {
			continue
		}
		j := i + 1
		if j < len(toks) && toks[j].kind == tokWord && toks[j].text == "RECURSIVE" {
			j++
		}
		for j < len(toks) {
			if toks[j].kind != tokWord && toks[j].kind != tokQuoted {
				break
			}
			name := toks[j].raw
			j++
			if j < len(toks) && toks[j].kind == tokSymbol && toks[j].text == "(" {
				j = skipParens(toks, j)
			}
			if j >= len(toks) || toks[j].kind != tokWord || toks[j].text != "AS" {
				break // not a CTE declaration after all
			}
			j++
			if j < len(toks) && toks[j].kind == tokWord && toks[j].text == "NOT" {
				j++
			}
			if j < len(toks) && toks[j].kind == tokWord && toks[j].text == "MATERIALIZED" {
				j++
			}
			if j >= len(toks) || toks[j].kind != tokSymbol || toks[j].text != "(" {
				break
			}
			names[strings.ToLower(name)] = true
			// Skipping the body only moves j to the next entry; the outer
			// loop still visits any nested WITH inside it.
			j = skipParens(toks, j)
			if j < len(toks) && toks[j].kind == tokSymbol && toks[j].text == "," {
				j++
				continue
			}
			break
		}
	}
	return names
}
