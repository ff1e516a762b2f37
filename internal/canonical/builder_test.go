package canonical

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInput() BuildInput {
	return BuildInput{
		SourceType:    "upload",
		ParserName:    "invoice-parser",
		ParserVersion: "1",
		SourceRef:     SourceRef{Kind: "file", Value: "invoice.pdf"},
	}
}

func fixedBuilder() *Builder {
	b := NewBuilder()
	b.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return b
}

// A flat payload with vendor-flavored key names must still map cleanly.
func TestBuildFlatPayload(t *testing.T) {
	payload := map[string]any{
		"raw_text":    "INVOICE TOTAL 174.88",
		"accountName": "Riverside Diner",
		"vendor_name": "Sysco Corporation",
		"items": []any{
			map[string]any{
				"description":      "CHICKEN WING",
				"qty":              2.0,
				"unitPriceDollars": 87.44,
			},
		},
		"invoice_total_cents": 17488.0,
	}

	inv, warnings := fixedBuilder().Build(payload, testInput())

	require.NotNil(t, inv.Parties.Customer)
	assert.Equal(t, "Riverside Diner", inv.Parties.Customer.Name)
	assert.Equal(t, "riverside diner", inv.Parties.Customer.NormalizedName)
	require.NotNil(t, inv.Parties.Vendor)
	assert.Equal(t, "Sysco Corporation", inv.Parties.Vendor.Name)

	require.Len(t, inv.LineItems, 1)
	item := inv.LineItems[0]
	assert.Equal(t, "L001", item.LineID)
	assert.Equal(t, 2.0, item.Quantity)
	require.NotNil(t, item.UnitPrice)
	assert.InDelta(t, 87.44, item.UnitPrice.Amount, 1e-9)
	require.NotNil(t, item.TotalPrice)
	assert.InDelta(t, 174.88, item.TotalPrice.Amount, 1e-9)

	require.NotNil(t, inv.Totals.InvoiceTotal)
	assert.InDelta(t, 174.88, inv.Totals.InvoiceTotal.Amount, 1e-9)

	assert.NotContains(t, warnings, "no line items recovered from payload")
	require.Empty(t, Validate(inv))
}

func TestBuildDocIDDeterministic(t *testing.T) {
	b := fixedBuilder()
	payload := map[string]any{"raw_text": "same document body"}

	first, _ := b.Build(payload, testInput())
	second, _ := b.Build(payload, testInput())
	assert.Equal(t, first.Doc.DocID, second.Doc.DocID)
	assert.Regexp(t, `^DOC-[0-9a-f]{12}$`, first.Doc.DocID)
	assert.NotEmpty(t, first.Doc.RawTextHash)

	other, _ := b.Build(map[string]any{"raw_text": "different body"}, testInput())
	assert.NotEqual(t, first.Doc.DocID, other.Doc.DocID)
}

func TestBuildDocIDRandomWithoutText(t *testing.T) {
	b := fixedBuilder()
	first, _ := b.Build(map[string]any{}, testInput())
	second, _ := b.Build(map[string]any{}, testInput())
	assert.Regexp(t, `^DOC-[0-9a-f]{12}$`, first.Doc.DocID)
	assert.NotEqual(t, first.Doc.DocID, second.Doc.DocID)
	assert.Empty(t, first.Doc.RawTextHash)
}

func TestBuildQuantityDefault(t *testing.T) {
	payload := map[string]any{
		"items": []any{
			map[string]any{"description": "Utility charge", "total": 42.5},
		},
	}

	inv, _ := fixedBuilder().Build(payload, testInput())
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, 1.0, inv.LineItems[0].Quantity)
	assert.Contains(t, inv.LineItems[0].Confidence.Notes, "quantity defaulted to 1")
}

func TestBuildStrictQuantitiesDropsLine(t *testing.T) {
	b := fixedBuilder()
	b.StrictQuantities = true
	payload := map[string]any{
		"items": []any{
			map[string]any{"description": "Utility charge", "total": 42.5},
			map[string]any{"description": "Widgets", "quantity": 3.0, "total": 30.0},
		},
	}

	inv, warnings := b.Build(payload, testInput())
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Widgets", inv.LineItems[0].RawDescription)
	assert.Contains(t, warnings, "line 1: no quantity in strict mode, skipped")
}

func TestBuildLineWithoutDescriptionOrQuantityDropped(t *testing.T) {
	payload := map[string]any{
		"items": []any{map[string]any{"total": 9.99}},
	}
	inv, warnings := fixedBuilder().Build(payload, testInput())
	assert.Empty(t, inv.LineItems)
	assert.Contains(t, warnings, "line 1: no description or quantity, skipped")
}

func TestBuildTotalComputedFromUnitPrice(t *testing.T) {
	payload := map[string]any{
		"items": []any{
			map[string]any{"description": "Napkins", "quantity": 4.0, "unit_price": 2.25},
		},
	}
	inv, _ := fixedBuilder().Build(payload, testInput())
	require.Len(t, inv.LineItems, 1)
	require.NotNil(t, inv.LineItems[0].TotalPrice)
	assert.InDelta(t, 9.0, inv.LineItems[0].TotalPrice.Amount, 1e-9)
	assert.Contains(t, inv.LineItems[0].Confidence.Notes, "total computed from quantity and unit price")
}

func TestBuildNestedItemPaths(t *testing.T) {
	payload := map[string]any{
		"parsed": map[string]any{
			"line_items": []any{
				map[string]any{"name": "Soda syrup", "count": 6.0, "price": "4.50"},
			},
		},
	}
	inv, _ := fixedBuilder().Build(payload, testInput())
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Soda syrup", inv.LineItems[0].RawDescription)
	assert.Equal(t, 6.0, inv.LineItems[0].Quantity)
	require.NotNil(t, inv.LineItems[0].UnitPrice)
	assert.InDelta(t, 4.5, inv.LineItems[0].UnitPrice.Amount, 1e-9)
}

func TestBuildIssuedAtCoercion(t *testing.T) {
	payload := map[string]any{"invoice_date": "2024-01-10"}
	inv, warnings := fixedBuilder().Build(payload, testInput())
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), inv.Doc.IssuedAt)
	assert.Empty(t, warningsContaining(warnings, "unparseable issued_at"))

	payload = map[string]any{"invoice_date": "not a date"}
	inv, warnings = fixedBuilder().Build(payload, testInput())
	// Falls back to the builder clock with a warning.
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), inv.Doc.IssuedAt)
	assert.NotEmpty(t, warningsContaining(warnings, "unparseable issued_at"))
}

func warningsContaining(warnings []string, substr string) []string {
	var out []string
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			out = append(out, w)
		}
	}
	return out
}

func TestLineScoreRubric(t *testing.T) {
	full := LineItem{RawDescription: "desc", UnitPrice: &Money{Amount: 1, Currency: "USD"}}
	assert.InDelta(t, 0.95, scoreLine(full, true), 1e-9)

	bare := LineItem{}
	assert.InDelta(t, 0.5, scoreLine(bare, false), 1e-9)

	described := LineItem{RawDescription: "desc"}
	assert.InDelta(t, 0.7, scoreLine(described, false), 1e-9)
}

func TestInvoiceScoreCap(t *testing.T) {
	payload := map[string]any{
		"raw_text":    "x",
		"vendor_name": "V",
		"customer":    "C",
		"total":       10.0,
		"items": []any{
			map[string]any{"description": "a", "quantity": 1.0},
		},
	}
	inv, _ := fixedBuilder().Build(payload, testInput())
	// 0.5 + 0.25 + 0.1 + 0.1 + 0.05 = 1.0, capped at 0.9.
	assert.Equal(t, 0.9, inv.Confidence.Overall)
	assert.Empty(t, Validate(inv))
}

func TestValidateCatchesViolations(t *testing.T) {
	inv, _ := fixedBuilder().Build(map[string]any{"raw_text": "x"}, testInput())
	require.Empty(t, Validate(inv))

	inv.Doc.DocID = "DOC-xyz"
	inv.SchemaVersion = "invoice.v2"
	inv.LineItems = []LineItem{{LineID: "", Quantity: 0, Frequency: "sometimes"}}
	errs := Validate(inv)
	assert.Len(t, errs, 5)
}
