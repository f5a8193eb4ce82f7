package duckdb

import (
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/types"
)

// tagSep joins list elements when reading tags back as a single string.
// The unit separator cannot appear in user tags read from CSV or flags.
const tagSep = "\x1f"

func decFromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, types.WrapErr(types.KindDB, err, "decoding decimal %q", s)
	}
	return d, nil
}

func decPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, tagSep)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// dayOf truncates t to its calendar day in UTC.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
