package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	priceTokenRe     = regexp.MustCompile(`\d{1,3}(?:,\d{3})*\.\d{2}\b`)
	currencyTokenRe  = regexp.MustCompile(`\$\s*\d|\d{1,3}(?:,\d{3})*\.\d{2}\b`)
	invoiceKeywordRe = regexp.MustCompile(`(?i)\b(invoice|total|amount|due|bill|qty|quantity|subtotal|tax|customer|vendor)\b`)
	numericTokenRe   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	itemShapeRe      = regexp.MustCompile(`\d+.*[A-Za-z]{3,}.*\d+\.\d{2}`)
)

// ScoreText estimates how much a piece of OCR output looks like a real
// invoice. Additive rubric, clamped to [0, 1]:
//
//	0.30  any non-whitespace content
//	0.20  a currency amount
//	0.15  an invoice keyword
//	0.10  ten or more alphabetic words of three-plus letters
//	0.10  five or more numeric tokens
//	0.15  a line shaped like an item row (digits, words, price)
//	-0.30 scaled by the non-printable character ratio
func ScoreText(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	score := 0.3

	if currencyTokenRe.MatchString(trimmed) {
		score += 0.2
	}
	if invoiceKeywordRe.MatchString(trimmed) {
		score += 0.15
	}
	if countAlphaWords(trimmed) >= 10 {
		score += 0.1
	}
	if len(numericTokenRe.FindAllString(trimmed, 6)) >= 5 {
		score += 0.1
	}
	for _, line := range strings.Split(trimmed, "\n") {
		if itemShapeRe.MatchString(line) {
			score += 0.15
			break
		}
	}

	score -= 0.3 * nonPrintableRatio(trimmed)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// HasPrices reports whether the text contains at least one dollars-and-
// cents amount. A text layer without prices is decorative for invoices.
func HasPrices(text string) bool {
	return priceTokenRe.MatchString(text)
}

func countAlphaWords(text string) int {
	count := 0
	for _, field := range strings.Fields(text) {
		alpha := 0
		for _, r := range field {
			if unicode.IsLetter(r) {
				alpha++
			}
		}
		if alpha >= 3 {
			count++
			if count >= 10 {
				return count
			}
		}
	}
	return count
}

// nonPrintableRatio measures garbage characters, a strong signal that a
// preprocessing variant destroyed the page.
func nonPrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	bad := 0
	total := 0
	for _, r := range text {
		total++
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if !unicode.IsPrint(r) || r == unicode.ReplacementChar {
			bad++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}
