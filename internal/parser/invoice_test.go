package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cents(result *Result) int64 {
	if result.Totals.TotalCents == nil {
		return -1
	}
	return *result.Totals.TotalCents
}

func TestParseBasicInvoice(t *testing.T) {
	text := `ACME SUPPLY CO
Invoice #: A-1001
Date: 01/15/2024
Bill To: Riverside Diner

2 WIDGETS LARGE 10.00 20.00
1 GADGET 5.50 5.50

SUBTOTAL 25.50
SALES TAX 2.10
TOTAL DUE 27.60`

	p := NewInvoiceParser()
	result := p.Parse(text)

	assert.Equal(t, "A-1001", result.Metadata.InvoiceNumber)
	require.NotNil(t, result.Metadata.InvoiceDate)
	assert.Equal(t, 2024, result.Metadata.InvoiceDate.Year())
	assert.Equal(t, "Riverside Diner", result.Customer)

	require.Len(t, result.LineItems, 2)
	assert.Equal(t, "WIDGETS LARGE", result.LineItems[0].Description)
	assert.Equal(t, 2.0, result.LineItems[0].Quantity)
	assert.Equal(t, int64(1000), result.LineItems[0].UnitPriceCents)
	assert.Equal(t, int64(2000), result.LineItems[0].TotalCents)
	assert.True(t, result.LineItems[0].MathVerified)

	require.NotNil(t, result.Totals.SubtotalCents)
	assert.Equal(t, int64(2550), *result.Totals.SubtotalCents)
	require.NotNil(t, result.Totals.TaxCents)
	assert.Equal(t, int64(210), *result.Totals.TaxCents)
	assert.Equal(t, int64(2760), cents(result))
}

func TestParseEmptyText(t *testing.T) {
	result := NewInvoiceParser().Parse("   \n  ")
	assert.Empty(t, result.LineItems)
	assert.Contains(t, result.Warnings, "empty document text")
	assert.Zero(t, result.Confidence.Overall)
}

// The terminal INVOICE TOTAL must win even when intermediate GROUP TOTAL
// lines appear later and carry larger amounts.
func TestTotalsPreferTerminalLabels(t *testing.T) {
	text := `GROUP TOTAL 2,110.00
MEAT GROUP TOTAL 912.44
INVOICE TOTAL 1,748.85
GROUP TOTAL 310.00`

	result := NewInvoiceParser().Parse(text)
	assert.Equal(t, int64(174885), cents(result))
}

func TestTotalsBareTotalFallback(t *testing.T) {
	text := `1 COFFEE BEANS 12.00 12.00
TOTAL 12.00`
	result := NewInvoiceParser().Parse(text)
	assert.Equal(t, int64(1200), cents(result))
}

func TestTotalsLaterLineWinsTie(t *testing.T) {
	// Two bare TOTAL lines: documents close with the final total.
	text := `TOTAL 50.00
some items
TOTAL 75.00`
	result := NewInvoiceParser().Parse(text)
	assert.Equal(t, int64(7500), cents(result))
}

func TestSubtotalNeverClaimsTotal(t *testing.T) {
	text := `SUBTOTAL 100.00`
	result := NewInvoiceParser().Parse(text)
	require.NotNil(t, result.Totals.SubtotalCents)
	assert.Equal(t, int64(10000), *result.Totals.SubtotalCents)
	// SUBTOTAL ranks below even GROUP TOTAL; alone it still sets TotalCents
	// at the lowest rank so a later real total always overrides it.
	text = `SUBTOTAL 100.00
AMOUNT DUE 108.25`
	result = NewInvoiceParser().Parse(text)
	assert.Equal(t, int64(10825), cents(result))
}

func TestVendorDetection(t *testing.T) {
	text := `SYSCO CORPORATION
T/WT= 43.5
GROUP TOTAL 912.44`

	result := NewInvoiceParser().Parse(text)
	require.NotNil(t, result.Vendor)
	assert.Equal(t, "sysco", result.Vendor.Key)
	assert.GreaterOrEqual(t, result.Vendor.Confidence, VendorClaimThreshold)
}

func TestVendorBelowThresholdNotClaimed(t *testing.T) {
	// A lone weak signal must not claim the vendor.
	result := NewInvoiceParser().Parse("GROUP TOTAL 10.00")
	assert.Nil(t, result.Vendor)
}

func TestVendorTotalLabelOverridesHeuristics(t *testing.T) {
	// With Sysco detected, its INVOICE TOTAL label is authoritative even
	// when a higher-ranked heuristic label appears afterwards.
	text := `SYSCO FOODS
INVOICE TOTAL 1,748.85
BALANCE DUE 0.00`

	result := NewInvoiceParser().Parse(text)
	require.NotNil(t, result.Vendor)
	assert.Equal(t, int64(174885), cents(result))
}

func TestVendorDetectionSurvivesLineBreaks(t *testing.T) {
	// OCR splits multi-word names across lines; detection normalizes
	// whitespace first.
	text := "PERFORMANCE\nFOOD GROUP\nsomething"
	result := NewInvoiceParser().Parse(text)
	require.NotNil(t, result.Vendor)
	assert.Equal(t, "pfg", result.Vendor.Key)
}

func TestContinuationLineCorrectsQuantity(t *testing.T) {
	text := `1 BEEF BRISKET CASE 5.00 217.50
T/WT= 43.5
INVOICE TOTAL 217.50`

	result := NewInvoiceParser().Parse(text)
	require.Len(t, result.LineItems, 1)
	item := result.LineItems[0]
	assert.True(t, item.UOMCorrected)
	assert.Equal(t, 43.5, item.Quantity)
	// Unit price recomputed from the line total: 21750 / 43.5 = 500.
	assert.Equal(t, int64(500), item.UnitPriceCents)
	assert.True(t, item.MathVerified)
}

func TestContinuationIgnoresLongLines(t *testing.T) {
	text := `2 CHICKEN THIGHS 10.00 20.00
NET WT 5.0 is mentioned somewhere inside this much longer narrative line of text`

	result := NewInvoiceParser().Parse(text)
	require.Len(t, result.LineItems, 1)
	assert.False(t, result.LineItems[0].UOMCorrected)
	assert.Equal(t, 2.0, result.LineItems[0].Quantity)
}

func TestContinuationSameQuantityNoop(t *testing.T) {
	text := `2 CHICKEN THIGHS 10.00 20.00
ACTUAL: 2`
	result := NewInvoiceParser().Parse(text)
	require.Len(t, result.LineItems, 1)
	assert.False(t, result.LineItems[0].UOMCorrected)
}

func TestLineMathVerification(t *testing.T) {
	// 3 × 3.33 = 9.99 vs total 10.00: inside the 10-cent tolerance.
	text := `3 PAPER TOWELS 3.33 10.00`
	result := NewInvoiceParser().Parse(text)
	require.Len(t, result.LineItems, 1)
	assert.True(t, result.LineItems[0].MathVerified)

	// 3 × 5.00 = 15.00 vs total 20.00: out of tolerance.
	text = `3 PAPER TOWELS 5.00 20.00`
	result = NewInvoiceParser().Parse(text)
	require.Len(t, result.LineItems, 1)
	assert.False(t, result.LineItems[0].MathVerified)
}

func TestLineItemSKUAndCategory(t *testing.T) {
	text := `7114402 2 FRZ CHICKEN WING 87.44 174.88`
	result := NewInvoiceParser().Parse(text)
	require.Len(t, result.LineItems, 1)
	item := result.LineItems[0]
	assert.Equal(t, "7114402", item.SKU)
	// Frozen takes precedence over meat keywords.
	assert.Equal(t, "frozen", item.Category)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		description string
		want        string
	}{
		{"GROUND BEEF 80/20", "meat"},
		{"ATLANTIC SALMON FILLET", "seafood"},
		{"ROMA TOMATO CASE", "produce"},
		{"SHREDDED CHEESE", "dairy"},
		{"COLD BREW COFFEE", "beverage"},
		{"AP FLOUR 50LB", "dry goods"},
		{"FROZEN SHRIMP", "frozen"},
		{"PLASTIC FORKS", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorize(tt.description), "categorize(%q)", tt.description)
	}
}

func TestParseAmountCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,747.30", 174730, true},
		{"$12.00", 1200, true},
		{"0.99", 99, true},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAmountCents(tt.in)
		assert.Equal(t, tt.ok, ok, "parseAmountCents(%q) ok", tt.in)
		if ok {
			assert.Equal(t, tt.want, got, "parseAmountCents(%q)", tt.in)
		}
	}
}

func TestConfidenceRisesWithEvidence(t *testing.T) {
	p := NewInvoiceParser()
	sparse := p.Parse("hello there")
	rich := p.Parse(`SYSCO CORPORATION
Invoice # 44718
2 WIDGETS 10.00 20.00
INVOICE TOTAL 20.00`)
	assert.Greater(t, rich.Confidence.Overall, sparse.Confidence.Overall)
}
