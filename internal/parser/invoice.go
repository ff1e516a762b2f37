// Package parser turns extracted invoice text into structured line items,
// totals and metadata. Patterns are weighted tables in the same style as
// the vendor profiles; amounts are held in integer cents throughout.
package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Totals holds the extracted money summary in integer cents. Nil means the
// value was not found.
type Totals struct {
	SubtotalCents *int64 `json:"subtotal_cents,omitempty"`
	TaxCents      *int64 `json:"tax_cents,omitempty"`
	TotalCents    *int64 `json:"total_cents,omitempty"`
}

// LineItem is one parsed invoice line.
type LineItem struct {
	Description    string  `json:"description"`
	SKU            string  `json:"sku,omitempty"`
	Quantity       float64 `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TotalCents     int64   `json:"total_cents"`
	Category       string  `json:"category,omitempty"`
	UOMCorrected   bool    `json:"uom_corrected,omitempty"`
	MathVerified   bool    `json:"math_verified,omitempty"`
}

// Metadata is document-level parsed fields.
type Metadata struct {
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time `json:"invoice_date,omitempty"`
	Currency      string     `json:"currency"`
}

// Confidence reports parser confidence per concern plus overall.
type Confidence struct {
	Overall float64            `json:"overall"`
	Parsing map[string]float64 `json:"parsing"`
}

// Result is the full parser output.
type Result struct {
	Vendor     *VendorMatch `json:"vendor,omitempty"`
	Customer   string       `json:"customer,omitempty"`
	Metadata   Metadata     `json:"metadata"`
	LineItems  []LineItem   `json:"line_items"`
	Totals     Totals       `json:"totals"`
	Confidence Confidence   `json:"confidence"`
	Warnings   []string     `json:"warnings"`
}

// InvoiceParser parses extracted invoice text
type InvoiceParser struct {
	vendors *VendorDetector
}

// NewInvoiceParser creates a parser with the default vendor table
func NewInvoiceParser() *InvoiceParser {
	return &InvoiceParser{vendors: NewVendorDetector()}
}

// Vendors exposes the vendor detector for callers that score text directly.
func (p *InvoiceParser) Vendors() *VendorDetector {
	return p.vendors
}

var (
	invoiceNumberRe = regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?|num(?:ber)?)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{2,19})`)
	customerRe      = regexp.MustCompile(`(?i)(?:bill\s+to|sold\s+to|customer|ship\s+to)\s*[:#]?\s*([A-Za-z][A-Za-z0-9 .,&'-]{2,60})`)
	currencyRe      = regexp.MustCompile(`(?i)\b(USD|EUR|GBP|CAD)\b`)
	dateRe          = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)
	amountRe        = regexp.MustCompile(`\$?\s*(\d{1,3}(?:,\d{3})*|\d+)\.(\d{2})\b`)

	// itemLineRe matches "QTY DESCRIPTION ... UNIT TOTAL" style lines, with
	// an optional leading SKU.
	itemLineRe = regexp.MustCompile(`^\s*(?:([A-Z0-9]{5,12})\s+)?(\d{1,4}(?:\.\d{1,2})?)\s+(.{3,70}?)\s+\$?(\d{1,3}(?:,\d{3})*\.\d{2})\s+\$?(\d{1,3}(?:,\d{3})*\.\d{2})\s*$`)
)

// totalLabelEntry ranks total-like labels. Terminal labels must win over
// intermediate ones; GROUP TOTAL is explicitly intermediate.
type totalLabelEntry struct {
	re   *regexp.Regexp
	rank int
}

var totalLabels = []totalLabelEntry{
	{regexp.MustCompile(`(?i)\bINVOICE\s+TOTAL\b`), 100},
	{regexp.MustCompile(`(?i)\b(?:TOTAL|AMOUNT|BALANCE)\s+DUE\b`), 90},
	{regexp.MustCompile(`(?i)\bGRAND\s+TOTAL\b`), 85},
	// Intermediate labels must rank below the bare TOTAL fallback but be
	// matched before it, or "GROUP TOTAL" would read as a plain TOTAL.
	{regexp.MustCompile(`(?i)\bGROUP\s+TOTAL\b`), 10},
	{regexp.MustCompile(`(?i)\bSUB\s*-?\s*TOTAL\b`), 5},
	{regexp.MustCompile(`(?i)\bTOTAL\b`), 40},
}

var (
	subtotalRe = regexp.MustCompile(`(?i)\bSUB\s*-?\s*TOTAL\b`)
	taxRe      = regexp.MustCompile(`(?i)\b(?:SALES\s+)?TAX\b`)
)

// Parse parses the extracted text into a structured result. Parse never
// fails; defects surface as warnings and reduced confidence.
func (p *InvoiceParser) Parse(text string) *Result {
	result := &Result{
		Metadata: Metadata{Currency: "USD"},
		Confidence: Confidence{
			Parsing: make(map[string]float64),
		},
	}

	if strings.TrimSpace(text) == "" {
		result.Warnings = append(result.Warnings, "empty document text")
		return result
	}

	lines := strings.Split(text, "\n")

	result.Vendor = p.vendors.Detect(text)
	if result.Vendor != nil {
		result.Confidence.Parsing["vendor"] = result.Vendor.Confidence / 100
	}

	if m := invoiceNumberRe.FindStringSubmatch(text); m != nil {
		result.Metadata.InvoiceNumber = m[1]
		result.Confidence.Parsing["invoice_number"] = 0.8
	}
	if m := currencyRe.FindStringSubmatch(text); m != nil {
		result.Metadata.Currency = strings.ToUpper(m[1])
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		if date, ok := parseUSDate(m[1], m[2], m[3]); ok {
			result.Metadata.InvoiceDate = &date
			result.Confidence.Parsing["date"] = 0.7
		}
	}
	if m := customerRe.FindStringSubmatch(text); m != nil {
		result.Customer = strings.TrimSpace(m[1])
		result.Confidence.Parsing["customer"] = 0.6
	}

	result.LineItems = p.parseLineItems(lines)
	if len(result.LineItems) > 0 {
		result.Confidence.Parsing["line_items"] = 0.7
		verified := 0
		for _, it := range result.LineItems {
			if it.MathVerified {
				verified++
			}
		}
		if verified == len(result.LineItems) {
			result.Confidence.Parsing["line_items"] = 0.9
		}
	} else {
		result.Warnings = append(result.Warnings, "no line items recognized")
	}

	var vendorLabel *regexp.Regexp
	if result.Vendor != nil {
		if profile := p.vendors.Profile(result.Vendor.Key); profile != nil {
			vendorLabel = profile.TotalLabel
		}
	}
	result.Totals = extractTotals(lines, vendorLabel)
	if result.Totals.TotalCents != nil {
		result.Confidence.Parsing["totals"] = 0.8
	} else {
		result.Warnings = append(result.Warnings, "no invoice total found")
	}

	result.Confidence.Overall = combineParsing(result.Confidence.Parsing)
	return result
}

// parseLineItems scans for item lines, then resolves continuation lines
// that carry the authoritative quantity.
func (p *InvoiceParser) parseLineItems(lines []string) []LineItem {
	var items []LineItem
	for i, line := range lines {
		m := itemLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		qty, err := strconv.ParseFloat(m[2], 64)
		if err != nil || qty <= 0 {
			continue
		}
		unit, ok1 := parseAmountCents(m[4])
		total, ok2 := parseAmountCents(m[5])
		if !ok1 || !ok2 {
			continue
		}

		item := LineItem{
			SKU:            m[1],
			Quantity:       qty,
			Description:    strings.TrimSpace(m[3]),
			UnitPriceCents: unit,
			TotalCents:     total,
		}
		item.Category = categorize(item.Description)

		// A continuation line immediately after the item may supply the
		// authoritative quantity (catch weights and the like).
		if i+1 < len(lines) {
			resolveContinuation(&item, lines[i+1])
		}
		item.MathVerified = verifyLineMath(&item)
		items = append(items, item)
	}
	return items
}

// extractTotals walks the lines looking for labeled amounts. Vendor label
// evidence overrides heuristic ranking; among heuristics the highest rank
// wins, and on a tie the later line wins (totals close the document).
func extractTotals(lines []string, vendorLabel *regexp.Regexp) Totals {
	var totals Totals
	bestRank := -1

	for _, line := range lines {
		m := amountRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cents, ok := parseAmountCents(m[1] + "." + m[2])
		if !ok {
			continue
		}

		if subtotalRe.MatchString(line) && totals.SubtotalCents == nil {
			v := cents
			totals.SubtotalCents = &v
		}
		if taxRe.MatchString(line) && !strings.Contains(strings.ToLower(line), "total") && totals.TaxCents == nil {
			v := cents
			totals.TaxCents = &v
		}

		if vendorLabel != nil && vendorLabel.MatchString(line) {
			v := cents
			totals.TotalCents = &v
			bestRank = math.MaxInt32
			continue
		}

		for _, entry := range totalLabels {
			if !entry.re.MatchString(line) {
				continue
			}
			if entry.rank >= bestRank {
				v := cents
				totals.TotalCents = &v
				bestRank = entry.rank
			}
			break
		}
	}
	return totals
}

// verifyLineMath checks qty × unit against the line total, within 1% or
// 10 cents.
func verifyLineMath(item *LineItem) bool {
	if item.Quantity <= 0 || item.UnitPriceCents <= 0 || item.TotalCents <= 0 {
		return false
	}
	expected := item.Quantity * float64(item.UnitPriceCents)
	diff := math.Abs(expected - float64(item.TotalCents))
	return diff <= 10 || diff/float64(item.TotalCents) <= 0.01
}

// parseAmountCents converts "1,747.30" to 174730.
func parseAmountCents(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$")), ",", "")
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(value * 100)), true
}

// combineParsing averages the concern scores, weighted toward totals and
// line items which carry the business value.
func combineParsing(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	weights := map[string]float64{
		"totals":         0.35,
		"line_items":     0.3,
		"vendor":         0.15,
		"invoice_number": 0.1,
		"customer":       0.05,
		"date":           0.05,
	}
	var sum, weightSum float64
	for concern, weight := range weights {
		weightSum += weight
		sum += weight * scores[concern]
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

func parseUSDate(monthStr, dayStr, yearStr string) (time.Time, bool) {
	month, _ := strconv.Atoi(monthStr)
	day, _ := strconv.Atoi(dayStr)
	year, _ := strconv.Atoi(yearStr)
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
