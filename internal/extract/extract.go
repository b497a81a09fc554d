// Package extract turns raw OCR text from photographed receipts into
// transaction candidates. It is purely heuristic: line-oriented regex
// matching with a fixed keyword vocabulary, no layout or vision input.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the local date-time format candidates carry.
const TimestampLayout = "2006-01-02T15:04"

const (
	placeholderNote     = "Receipt"
	placeholderBulkNote = "Receipt/Transaction"
)

// Candidate is an extracted, not-yet-persisted guess at a transaction.
// Amount is nil when no monetary pattern was found; Date is empty only
// on the coordinator's OCR-failure sentinel.
type Candidate struct {
	Amount *decimal.Decimal `json:"amount"`
	Date   string           `json:"date,omitempty"`
	Note   string           `json:"note"`
}

var (
	// moneyPattern matches a decimal amount with exactly two fraction
	// digits, comma or dot separator, optionally preceded by a euro sign.
	moneyPattern = regexp.MustCompile(`€?\s*(\d+[.,]\d{2})`)

	// boundaryPattern is the bulk-mode variant: the first match in a line
	// marks that line as a transaction boundary. The sign, when present,
	// is consumed but amounts are always stored as magnitudes.
	boundaryPattern = regexp.MustCompile(`([+-])?\s*€?\s*(\d+[.,]\d{2})`)

	datePattern = regexp.MustCompile(`(\d{1,2})[-./](\d{1,2})[-./](\d{2,4})`)
)

// totalKeywords flag a line as carrying the receipt's grand total.
// Greek receipts print ΣΥΝΟΛΟ/ΠΛΗΡΩΤΕΟ/ΠΟΣΟ, which OCR engines commonly
// transliterate to latin.
var totalKeywords = []string{
	"total", "synolo", "pliroteo", "amount", "poso", "sum", "euro", "eur", "€",
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Lines splits OCR text into its ordered sequence of trimmed, non-empty
// lines. This is the only view of the text the extractors operate on.
func Lines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// moneyToken is one parsed monetary match, alive for a single pass.
type moneyToken struct {
	value      decimal.Decimal
	sourceLine string
	hasKeyword bool
}

// parseAmount normalizes the locale comma to a dot and parses the match.
// A match that fails to parse is discarded, never surfaced as zero.
func parseAmount(raw string) (decimal.Decimal, bool) {
	normalized := strings.Replace(raw, ",", ".", 1)
	value, err := decimal.NewFromString(normalized)
	if err != nil || value.IsNegative() {
		return decimal.Decimal{}, false
	}
	return value, true
}

func hasTotalKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range totalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// dateToken is a parsed D-M-Y match, year normalized to four digits.
type dateToken struct {
	day, month, year int
}

// findDate returns the first date-pattern match in text.
func findDate(text string) (dateToken, bool) {
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return dateToken{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	}
	return dateToken{day: day, month: month, year: year}, true
}

// render produces the candidate timestamp for this date with the given
// time-of-day. Out-of-range day/month values from OCR noise normalize
// through time.Date rollover so the result stays parseable.
func (d dateToken) render(hour, minute int) string {
	t := time.Date(d.year, time.Month(d.month), d.day, hour, minute, 0, 0, time.Local)
	return t.Format(TimestampLayout)
}
