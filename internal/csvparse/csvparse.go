// Package csvparse turns bank CSV exports into canonical transaction
// records: delimiter detection, header normalization, locale-aware number
// parsing, and the row fingerprint the import dedup policy keys on.
package csvparse

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/types"
)

// Record is a canonical parsed CSV row.
type Record struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Balance     *decimal.Decimal
	Fingerprint string
}

// DetectDelimiter picks the CSV delimiter from one line; ReadHeader passes
// the header line (the first line after any skipped rows).
// The candidate with strictly the highest count wins; ties and absence
// both resolve to comma.
func DetectDelimiter(line string) rune {
	commas := strings.Count(line, ",")
	semis := strings.Count(line, ";")
	tabs := strings.Count(line, "\t")
	if semis > commas && semis > tabs {
		return ';'
	}
	if tabs > commas && tabs > semis {
		return '\t'
	}
	return ','
}

// NormalizeHeader trims whitespace from each field and strips one leading
// '#' (some banks prefix the first header cell).
func NormalizeHeader(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimPrefix(f, "#")
		out[i] = strings.TrimSpace(f)
	}
	return out
}

// DetectColumns guesses column mappings from normalized header names.
func DetectColumns(header []string) types.ColumnMappings {
	var m types.ColumnMappings
	for _, h := range header {
		switch strings.ToLower(h) {
		case "date", "transaction date", "posted date", "booking date":
			if m.Date == "" {
				m.Date = h
			}
		case "amount", "value", "transaction amount":
			if m.Amount == "" {
				m.Amount = h
			}
		case "description", "payee", "memo", "details", "narrative":
			if m.Description == "" {
				m.Description = h
			}
		case "debit", "withdrawal", "money out":
			if m.Debit == "" {
				m.Debit = h
			}
		case "credit", "deposit", "money in":
			if m.Credit == "" {
				m.Credit = h
			}
		case "balance", "running balance":
			if m.Balance == "" {
				m.Balance = h
			}
		}
	}
	return m
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseDate tries the supported bank-export date layouts in order.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, types.E(types.KindParse, "unrecognized date %q", s)
}

// Parser streams a CSV file into canonical records.
type Parser struct {
	Mappings types.ColumnMappings
	Options  types.ImportOptions
}

// ReadHeader consumes skip-rows and the header line and returns the
// normalized header plus a csv.Reader positioned at the first data row.
func (p *Parser) ReadHeader(r io.Reader) ([]string, *csv.Reader, error) {
	br := bufio.NewReader(r)
	for i := 0; i < p.Options.SkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return nil, nil, types.WrapErr(types.KindParse, err, "skipping leading rows")
		}
	}
	// Peek the header line for delimiter detection without consuming it.
	peek, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, nil, types.WrapErr(types.KindParse, err, "reading header")
	}
	firstLine := string(peek)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	delim := DetectDelimiter(firstLine)

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, types.WrapErr(types.KindParse, err, "reading CSV header")
	}
	return NormalizeHeader(header), cr, nil
}

// Parse reads every data row and returns canonical records plus the count
// of malformed rows. Malformed rows are skipped, never fatal; an unreadable
// file is.
func (p *Parser) Parse(r io.Reader, accountID uuid.UUID) ([]Record, int, error) {
	header, cr, err := p.ReadHeader(r)
	if err != nil {
		return nil, 0, err
	}

	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(h)] = i
	}
	col := func(name string) (int, bool) {
		if name == "" {
			return 0, false
		}
		i, ok := idx[strings.ToLower(strings.TrimSpace(name))]
		return i, ok
	}

	dateIdx, ok := col(p.Mappings.Date)
	if !ok {
		return nil, 0, types.E(types.KindParse, "date column %q not found in header", p.Mappings.Date)
	}
	amountIdx, hasAmount := col(p.Mappings.Amount)
	debitIdx, hasDebit := col(p.Mappings.Debit)
	creditIdx, hasCredit := col(p.Mappings.Credit)
	if !hasAmount && !hasDebit && !hasCredit {
		return nil, 0, types.E(types.KindParse, "no amount column and no debit/credit pair found in header")
	}
	descIdx, hasDesc := col(p.Mappings.Description)
	balanceIdx, hasBalance := col(p.Mappings.Balance)

	var records []Record
	skipped := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A structurally broken row is a skip, not an abort.
			skipped++
			continue
		}
		field := func(i int) string {
			if i < 0 || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		date, err := ParseDate(field(dateIdx))
		if err != nil {
			skipped++
			continue
		}

		amount, err := p.rowAmount(field, amountIdx, hasAmount, debitIdx, hasDebit, creditIdx, hasCredit)
		if err != nil {
			skipped++
			continue
		}
		if p.Options.FlipSigns {
			amount = amount.Neg()
		}

		rec := Record{Date: date, Amount: amount}
		if hasDesc {
			rec.Description = field(descIdx)
		}
		if hasBalance {
			if raw := field(balanceIdx); raw != "" {
				if b, err := ParseNumber(raw, p.Options.NumberFormat); err == nil {
					rec.Balance = &b
				}
			}
		}
		rec.Fingerprint = Fingerprint(accountID, rec.Date, rec.Amount, rec.Description)
		records = append(records, rec)
	}
	return records, skipped, nil
}

func (p *Parser) rowAmount(field func(int) string, amountIdx int, hasAmount bool,
	debitIdx int, hasDebit bool, creditIdx int, hasCredit bool) (decimal.Decimal, error) {
	if hasAmount {
		raw := field(amountIdx)
		if raw != "" {
			return ParseNumber(raw, p.Options.NumberFormat)
		}
		if !hasDebit && !hasCredit {
			return decimal.Zero, types.E(types.KindParse, "empty amount")
		}
	}
	if hasDebit {
		if raw := field(debitIdx); raw != "" {
			d, err := ParseNumber(raw, p.Options.NumberFormat)
			if err != nil {
				return decimal.Zero, err
			}
			if p.Options.DebitNegative {
				d = d.Abs().Neg()
			}
			return d, nil
		}
	}
	if hasCredit {
		if raw := field(creditIdx); raw != "" {
			return ParseNumber(raw, p.Options.NumberFormat)
		}
	}
	return decimal.Zero, types.E(types.KindParse, "no amount value in row")
}
