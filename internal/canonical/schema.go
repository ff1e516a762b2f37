// Package canonical maps heterogeneous parser payloads into the versioned
// canonical invoice schema. The builder is tolerant (warnings, not errors);
// the validator is the strict step.
package canonical

import "time"

// SchemaVersion identifies the canonical invoice schema.
const SchemaVersion = "invoice.v1"

// Frequency enumerates line item recurrence.
type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyDaily   Frequency = "daily"
	FrequencyAnnual  Frequency = "annual"
	FrequencyUnknown Frequency = "unknown"
)

// Money is a normalized monetary value in major units.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Invoice is the canonical v1 instance.
type Invoice struct {
	SchemaVersion string     `json:"schema_version"`
	Doc           Doc        `json:"doc"`
	Parties       Parties    `json:"parties"`
	LineItems     []LineItem `json:"line_items"`
	Totals        Totals     `json:"totals"`
	Provenance    Provenance `json:"provenance"`
	Confidence    Confidence `json:"confidence"`
}

// Doc carries document-level identity.
type Doc struct {
	DocID         string    `json:"doc_id"`
	DocType       string    `json:"doc_type"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	PurchaseOrder string    `json:"purchase_order,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
	ServicePeriod string    `json:"service_period,omitempty"`
	Currency      string    `json:"currency"`
	RawTextHash   string    `json:"raw_text_hash,omitempty"`
	Tags          []string  `json:"tags"`
}

// Party is a vendor, customer or shipping party.
type Party struct {
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Addresses      []Address `json:"addresses"`
}

// Parties groups the document parties. Vendor and customer may be nil when
// unrecovered; bill-to and ship-to are optional.
type Parties struct {
	Vendor   *Party `json:"vendor"`
	Customer *Party `json:"customer"`
	BillTo   *Party `json:"bill_to,omitempty"`
	ShipTo   *Party `json:"ship_to,omitempty"`
}

// Address is a parsed postal address with parse confidence.
type Address struct {
	Raw        string  `json:"raw"`
	Street     string  `json:"street,omitempty"`
	City       string  `json:"city,omitempty"`
	State      string  `json:"state,omitempty"`
	Postal     string  `json:"postal,omitempty"`
	Country    string  `json:"country"`
	Confidence float64 `json:"confidence"`
}

// LineItem is one canonical invoice line.
type LineItem struct {
	LineID                string         `json:"line_id"`
	RawDescription        string         `json:"raw_description"`
	NormalizedDescription string         `json:"normalized_description,omitempty"`
	SKU                   string         `json:"sku,omitempty"`
	Quantity              float64        `json:"quantity"`
	UnitPrice             *Money         `json:"unit_price"`
	TotalPrice            *Money         `json:"total_price"`
	Frequency             Frequency      `json:"frequency"`
	Attributes            map[string]any `json:"attributes"`
	Confidence            LineConfidence `json:"confidence"`
}

// LineConfidence scores one line, capped at 0.95.
type LineConfidence struct {
	Overall float64  `json:"overall"`
	Notes   []string `json:"notes"`
}

// Totals is the document money summary.
type Totals struct {
	InvoiceTotal          *Money   `json:"invoice_total"`
	WeeklyEquivalentTotal *Money   `json:"weekly_equivalent_total"`
	Notes                 []string `json:"notes"`
}

// Provenance records where the payload came from and which parser made it.
type Provenance struct {
	SourceType string           `json:"source_type"`
	CapturedAt time.Time        `json:"captured_at"`
	Parser     ParserProvenance `json:"parser"`
	SourceRef  SourceRef        `json:"source_ref"`
}

// ParserProvenance names the producing parser.
type ParserProvenance struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Warnings []string `json:"warnings"`
}

// SourceRef points at the originating artifact.
type SourceRef struct {
	Kind     string `json:"kind"`
	Value    string `json:"value,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Confidence is the document-level score, capped at 0.9, plus per-field
// detail.
type Confidence struct {
	Overall float64           `json:"overall"`
	Fields  []FieldConfidence `json:"fields"`
}

// FieldConfidence scores one canonical field.
type FieldConfidence struct {
	Path     string   `json:"path"`
	Score    float64  `json:"score"`
	Method   string   `json:"method"`
	Evidence []string `json:"evidence"`
}
