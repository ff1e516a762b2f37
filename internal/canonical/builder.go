package canonical

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// BuildInput is the provenance envelope supplied with every payload.
type BuildInput struct {
	SourceType    string
	ParserName    string
	ParserVersion string
	SourceRef     SourceRef
}

// Builder converts arbitrary parser payloads into canonical invoices.
// Fields are resolved through ordered candidate-key paths so new parser
// shapes only need a table entry, not new probing code.
type Builder struct {
	// StrictQuantities disables the quantity-defaults-to-1 rule: lines
	// without an explicit quantity are dropped with a warning.
	StrictQuantities bool

	now func() time.Time
}

// NewBuilder creates a builder with the default tolerant behavior.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Candidate-key paths, tried in order; the first hit wins.
var (
	itemListPaths = [][]string{
		{"items"},
		{"line_items"},
		{"parsed", "items"},
		{"parsed", "line_items"},
		{"result", "items"},
		{"result", "line_items"},
		{"data", "items"},
		{"data", "line_items"},
	}
	rawTextPaths = [][]string{
		{"raw_text"}, {"rawText"}, {"text"}, {"parsed", "raw_text"},
	}
	currencyPaths = [][]string{
		{"currency"}, {"metadata", "currency"}, {"doc", "currency"},
	}
	invoiceNumberPaths = [][]string{
		{"invoice_number"}, {"invoiceNumber"}, {"metadata", "invoice_number"}, {"doc", "invoice_number"},
	}
	purchaseOrderPaths = [][]string{
		{"purchase_order"}, {"purchaseOrder"}, {"po_number"}, {"poNumber"}, {"po"},
	}
	issuedAtPaths = [][]string{
		{"issued_at"}, {"invoice_date"}, {"invoiceDate"}, {"date"}, {"metadata", "invoice_date"},
	}
	customerNamePaths = [][]string{
		{"customer", "name"}, {"accountName"}, {"account_name"}, {"customer_name"},
		{"customer"}, {"bill_to", "name"},
	}
	vendorNamePaths = [][]string{
		{"vendor", "name"}, {"vendor_name"}, {"vendor"}, {"supplier", "name"},
	}
	invoiceTotalPaths = [][]string{
		{"totals", "invoice_total"}, {"invoice_total"}, {"total"}, {"totals", "total"},
	}
	totalCentsPaths = [][]string{
		{"totals", "total_cents"}, {"invoice_total_cents"}, {"total_cents"},
	}
	addressPaths = [][]string{
		{"customer", "address"}, {"bill_to", "address"}, {"address"}, {"billing_address"},
	}
)

// Build maps a payload of unknown shape into a canonical v1 invoice.
// Build never fails: soft defects become warnings on the returned slice
// and inside provenance.
func (b *Builder) Build(payload map[string]any, input BuildInput) (*Invoice, []string) {
	var warnings []string
	now := b.now()

	rawText, _ := lookupString(payload, rawTextPaths)
	currency, found := lookupString(payload, currencyPaths)
	if !found || currency == "" {
		currency = "USD"
	}
	currency = strings.ToUpper(currency)

	inv := &Invoice{
		SchemaVersion: SchemaVersion,
		Doc: Doc{
			DocID:    deriveDocID(rawText),
			DocType:  "invoice",
			IssuedAt: now,
			Currency: currency,
			Tags:     []string{},
		},
		Totals: Totals{Notes: []string{}},
		Provenance: Provenance{
			SourceType: input.SourceType,
			CapturedAt: now,
			Parser: ParserProvenance{
				Name:     input.ParserName,
				Version:  input.ParserVersion,
				Warnings: []string{},
			},
			SourceRef: input.SourceRef,
		},
	}
	if rawText != "" {
		sum := sha256.Sum256([]byte(rawText))
		inv.Doc.RawTextHash = hex.EncodeToString(sum[:])
	}

	if number, ok := lookupString(payload, invoiceNumberPaths); ok {
		inv.Doc.InvoiceNumber = number
	}
	if po, ok := lookupString(payload, purchaseOrderPaths); ok {
		inv.Doc.PurchaseOrder = po
	}
	if raw, ok := lookup(payload, issuedAtPaths); ok {
		if issued, ok := coerceTime(raw); ok {
			inv.Doc.IssuedAt = issued
		} else {
			warnings = append(warnings, fmt.Sprintf("unparseable issued_at %v, defaulting to now", raw))
		}
	}

	if name, ok := lookupString(payload, vendorNamePaths); ok {
		inv.Parties.Vendor = &Party{Name: name, NormalizedName: normalizeName(name), Addresses: []Address{}}
	}
	if name, ok := lookupString(payload, customerNamePaths); ok {
		customer := &Party{Name: name, NormalizedName: normalizeName(name), Addresses: []Address{}}
		if raw, ok := lookup(payload, addressPaths); ok {
			if addr := parseAddress(raw); addr != nil {
				customer.Addresses = append(customer.Addresses, *addr)
			}
		}
		inv.Parties.Customer = customer
	}

	items, itemWarnings := b.buildLineItems(payload, currency)
	warnings = append(warnings, itemWarnings...)
	inv.LineItems = items
	if len(items) == 0 {
		warnings = append(warnings, "no line items recovered from payload")
	}

	if raw, ok := lookup(payload, invoiceTotalPaths); ok {
		inv.Totals.InvoiceTotal = ParseMoney(raw, currency)
	}
	if inv.Totals.InvoiceTotal == nil {
		if raw, ok := lookup(payload, totalCentsPaths); ok {
			if cents, ok := coerceFloat(raw); ok {
				inv.Totals.InvoiceTotal = FromCents(int64(cents), currency)
			}
		}
	}

	inv.Confidence = b.scoreInvoice(inv)
	inv.Provenance.Parser.Warnings = append(inv.Provenance.Parser.Warnings, warnings...)
	return inv, warnings
}

// buildLineItems coerces the first non-empty candidate array.
func (b *Builder) buildLineItems(payload map[string]any, currency string) ([]LineItem, []string) {
	var warnings []string

	raw, ok := lookup(payload, itemListPaths)
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, nil
	}

	var items []LineItem
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("line %d: not an object, skipped", i+1))
			continue
		}

		item := LineItem{
			LineID:     lineID(len(items)),
			Frequency:  coerceFrequency(m["frequency"]),
			Attributes: map[string]any{},
			Confidence: LineConfidence{Notes: []string{}},
		}
		item.RawDescription = stringKey(m, "description", "raw_description", "name", "item")
		item.SKU = stringKey(m, "sku", "item_number", "itemNumber")

		hasQty := false
		if raw, ok := firstKey(m, "quantity", "qty", "count"); ok {
			if qty, ok := coerceFloat(raw); ok && qty > 0 {
				item.Quantity = qty
				hasQty = true
			}
		}
		if !hasQty {
			if item.RawDescription == "" {
				warnings = append(warnings, fmt.Sprintf("line %d: no description or quantity, skipped", i+1))
				continue
			}
			if b.StrictQuantities {
				warnings = append(warnings, fmt.Sprintf("line %d: no quantity in strict mode, skipped", i+1))
				continue
			}
			item.Quantity = 1
			item.Confidence.Notes = append(item.Confidence.Notes, "quantity defaulted to 1")
		}

		item.UnitPrice = coerceUnitPrice(m, currency)
		if raw, ok := firstKey(m, "total_price", "total", "amount", "line_total"); ok {
			item.TotalPrice = ParseMoney(raw, currency)
		}
		if item.TotalPrice == nil {
			if cents, ok := coerceFloat(m["lineTotalCents"]); ok {
				item.TotalPrice = FromCents(int64(cents), currency)
			}
		}
		if item.TotalPrice == nil && item.UnitPrice != nil {
			item.TotalPrice = &Money{Amount: item.UnitPrice.Amount * item.Quantity, Currency: item.UnitPrice.Currency}
			item.Confidence.Notes = append(item.Confidence.Notes, "total computed from quantity and unit price")
		}

		item.Confidence.Overall = scoreLine(item, hasQty)
		items = append(items, item)
	}
	return items, warnings
}

// coerceUnitPrice accepts the generic keys plus the vendor-specific
// dollars/cents pair.
func coerceUnitPrice(m map[string]any, currency string) *Money {
	if raw, ok := firstKey(m, "unit_price", "unitPrice", "price", "rate", "unit_cost"); ok {
		if money := ParseMoney(raw, currency); money != nil {
			return money
		}
	}
	if dollars, ok := coerceFloat(m["unitPriceDollars"]); ok {
		return &Money{Amount: dollars, Currency: currency}
	}
	if cents, ok := coerceFloat(m["unitPriceCents"]); ok {
		return FromCents(int64(cents), currency)
	}
	return nil
}

// scoreLine applies the additive line rubric, clamped to [0, 0.95].
func scoreLine(item LineItem, explicitQty bool) float64 {
	score := 0.5
	if item.RawDescription != "" {
		score += 0.2
	}
	if explicitQty {
		score += 0.1
	}
	if item.UnitPrice != nil {
		score += 0.15
	}
	if score > 0.95 {
		score = 0.95
	}
	if score < 0 {
		score = 0
	}
	return score
}

// scoreInvoice applies the additive document rubric, capped at 0.9.
func (b *Builder) scoreInvoice(inv *Invoice) Confidence {
	conf := Confidence{Fields: []FieldConfidence{}}
	score := 0.5

	if len(inv.LineItems) > 0 {
		score += 0.25
		conf.Fields = append(conf.Fields, FieldConfidence{
			Path: "line_items", Score: 0.25, Method: "coercion",
			Evidence: []string{fmt.Sprintf("%d lines recovered", len(inv.LineItems))},
		})
	}
	if inv.Parties.Vendor != nil {
		score += 0.1
		conf.Fields = append(conf.Fields, FieldConfidence{
			Path: "parties.vendor", Score: 0.1, Method: "coercion",
			Evidence: []string{inv.Parties.Vendor.Name},
		})
	}
	if inv.Parties.Customer != nil {
		score += 0.1
		conf.Fields = append(conf.Fields, FieldConfidence{
			Path: "parties.customer", Score: 0.1, Method: "coercion",
			Evidence: []string{inv.Parties.Customer.Name},
		})
	}
	if inv.Totals.InvoiceTotal != nil {
		score += 0.05
		conf.Fields = append(conf.Fields, FieldConfidence{
			Path: "totals.invoice_total", Score: 0.05, Method: "coercion",
			Evidence: []string{fmt.Sprintf("%.2f %s", inv.Totals.InvoiceTotal.Amount, inv.Totals.InvoiceTotal.Currency)},
		})
	}
	if score > 0.9 {
		score = 0.9
	}
	conf.Overall = score
	return conf
}

// deriveDocID hashes the raw text when present, else random.
func deriveDocID(rawText string) string {
	if rawText != "" {
		sum := sha256.Sum256([]byte(rawText))
		return "DOC-" + hex.EncodeToString(sum[:])[:12]
	}
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "DOC-" + hex.EncodeToString([]byte(fmt.Sprintf("%06d", time.Now().UnixNano()%1e6)))[:12]
	}
	return "DOC-" + hex.EncodeToString(buf)
}

// lookup walks the candidate paths and returns the first present value.
func lookup(payload map[string]any, paths [][]string) (any, bool) {
	for _, path := range paths {
		current := any(payload)
		ok := true
		for _, key := range path {
			m, isMap := current.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			current, ok = m[key]
			if !ok {
				break
			}
		}
		if ok && current != nil {
			return current, true
		}
	}
	return nil, false
}

// lookupString is lookup restricted to non-empty strings; paths resolving
// to other types are passed over.
func lookupString(payload map[string]any, paths [][]string) (string, bool) {
	for _, path := range paths {
		raw, ok := lookup(payload, [][]string{path})
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

func firstKey(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func coerceFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		return parseMoneyString(v)
	}
	return 0, false
}

func coerceTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "01/02/2006", "1/2/2006", "01-02-2006"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func coerceFrequency(raw any) Frequency {
	s, ok := raw.(string)
	if !ok {
		return FrequencyUnknown
	}
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FrequencyWeekly:
		return FrequencyWeekly
	case FrequencyMonthly:
		return FrequencyMonthly
	case FrequencyDaily:
		return FrequencyDaily
	case FrequencyAnnual:
		return FrequencyAnnual
	}
	return FrequencyUnknown
}
