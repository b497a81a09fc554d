package extract

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// dedupEpsilon is the amount tolerance under which two candidates with a
// shared note or date are treated as one doubled OCR read.
var dedupEpsilon = decimal.New(1, -2) // 0.01

// BulkExtractor segments the OCR text of a batch image (a bank statement
// or transaction list) into multiple transaction candidates. It never
// fails; an empty result means no monetary pattern exists anywhere.
type BulkExtractor struct {
	clock TimeSource
}

// NewBulkExtractor creates a BulkExtractor using the system clock.
func NewBulkExtractor() *BulkExtractor {
	return &BulkExtractor{clock: systemClock{}}
}

// NewBulkExtractorWithClock creates a BulkExtractor with a custom time
// source for testing.
func NewBulkExtractorWithClock(clock TimeSource) *BulkExtractor {
	return &BulkExtractor{clock: clock}
}

// ExtractAll returns candidates in reading order, one per boundary line,
// deduplicated. When no line-level boundary is found it falls back to a
// single whole-text candidate, or none at all.
func (e *BulkExtractor) ExtractAll(text string) []Candidate {
	lines := Lines(text)
	now := e.clock.Now()

	var out []Candidate
	for i, line := range lines {
		// Only the first match in a line marks a boundary.
		loc := boundaryPattern.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		value, ok := parseAmount(line[loc[4]:loc[5]])
		if !ok {
			continue
		}
		cand := Candidate{
			Amount: &value,
			Date:   boundaryDate(lines, i, now),
			Note:   boundaryNote(lines, i, line[:loc[0]]),
		}
		if !isDuplicate(out, cand) {
			out = append(out, cand)
		}
	}
	if len(out) > 0 {
		return out
	}
	return e.fallback(lines, now)
}

// boundaryDate resolves the date for the boundary at line i: the nearest
// date pattern on line i, i-1 or i-2 wins. A statement line's own date is
// authoritative, so it is rendered with noon as a neutral placeholder
// time rather than the wall clock.
func boundaryDate(lines []string, i int, now time.Time) string {
	for j := i; j >= 0 && j >= i-2; j-- {
		if d, ok := findDate(lines[j]); ok {
			return d.render(12, 0)
		}
	}
	return now.Format(TimestampLayout)
}

// boundaryNote resolves the note for the boundary at line i. The text
// preceding the amount on the same line wins when long enough; otherwise
// the previous line, unless that line itself looks like a date or money
// line and would mis-attribute a label.
func boundaryNote(lines []string, i int, prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if utf8.RuneCountInString(prefix) > 3 {
		return prefix
	}
	if i > 0 {
		prev := lines[i-1]
		if !datePattern.MatchString(prev) && !moneyPattern.MatchString(prev) {
			return prev
		}
	}
	return placeholderBulkNote
}

// isDuplicate reports whether cand repeats an already collected
// candidate: near-identical amount plus an equal note or equal date.
// OCR frequently re-renders a "Total: 15.00" line as a separate bare
// "15.00" a few lines later; this suppresses the doubled read without
// merging two genuinely distinct transactions on different dates.
func isDuplicate(existing []Candidate, cand Candidate) bool {
	for _, prev := range existing {
		if prev.Amount == nil || cand.Amount == nil {
			continue
		}
		if prev.Amount.Sub(*cand.Amount).Abs().LessThan(dedupEpsilon) &&
			(prev.Note == cand.Note || prev.Date == cand.Date) {
			return true
		}
	}
	return false
}

// fallback runs when the boundary scan found nothing: the numerically
// largest monetary match anywhere in the document becomes one candidate,
// or no candidates exist at all.
func (e *BulkExtractor) fallback(lines []string, now time.Time) []Candidate {
	var largest *decimal.Decimal
	for _, line := range lines {
		for _, m := range moneyPattern.FindAllStringSubmatch(line, -1) {
			value, ok := parseAmount(m[1])
			if !ok {
				continue
			}
			if largest == nil || value.GreaterThan(*largest) {
				v := value
				largest = &v
			}
		}
	}
	if largest == nil {
		return nil
	}

	date := now.Format(TimestampLayout)
	if d, ok := findDate(strings.Join(lines, "\n")); ok {
		date = d.render(12, 0)
	}
	return []Candidate{{Amount: largest, Date: date, Note: placeholderNote}}
}
