package extract

import (
	"sort"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// SingleExtractor produces one best-guess transaction candidate from the
// full OCR text of a single receipt. It never fails: with no usable data
// it returns a nil amount, the current time, and a placeholder note.
type SingleExtractor struct {
	clock TimeSource
}

// NewSingleExtractor creates a SingleExtractor using the system clock.
func NewSingleExtractor() *SingleExtractor {
	return &SingleExtractor{clock: systemClock{}}
}

// NewSingleExtractorWithClock creates a SingleExtractor with a custom
// time source for testing.
func NewSingleExtractorWithClock(clock TimeSource) *SingleExtractor {
	return &SingleExtractor{clock: clock}
}

// Extract returns the best-guess candidate for one receipt.
func (e *SingleExtractor) Extract(text string) Candidate {
	lines := Lines(text)
	now := e.clock.Now()

	date := now.Format(TimestampLayout)
	if d, ok := findDate(text); ok {
		// Receipts rarely print a usable time, so the receipt date is
		// rendered with the current clock time.
		date = d.render(now.Hour(), now.Minute())
	}

	return Candidate{
		Amount: selectAmount(lines),
		Date:   date,
		Note:   selectNote(lines),
	}
}

// selectAmount collects every monetary match and picks the winner:
// keyword-bearing matches first, then descending value. The grand total
// is usually the largest keyword-flagged figure, but OCR noise makes
// either signal unreliable alone.
func selectAmount(lines []string) *decimal.Decimal {
	var tokens []moneyToken
	for _, line := range lines {
		keyword := hasTotalKeyword(line)
		for _, m := range moneyPattern.FindAllStringSubmatch(line, -1) {
			value, ok := parseAmount(m[1])
			if !ok {
				continue
			}
			tokens = append(tokens, moneyToken{
				value:      value,
				sourceLine: line,
				hasKeyword: keyword,
			})
		}
	}
	if len(tokens) == 0 {
		return nil
	}

	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].hasKeyword != tokens[j].hasKeyword {
			return tokens[i].hasKeyword
		}
		return tokens[i].value.GreaterThan(tokens[j].value)
	})

	value := tokens[0].value
	return &value
}

// selectNote returns the first line longer than 3 characters that looks
// like neither an amount nor a date.
func selectNote(lines []string) string {
	for _, line := range lines {
		if utf8.RuneCountInString(line) <= 3 {
			continue
		}
		if moneyPattern.MatchString(line) || datePattern.MatchString(line) {
			continue
		}
		return line
	}
	return placeholderNote
}
