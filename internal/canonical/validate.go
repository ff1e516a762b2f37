package canonical

import (
	"fmt"
	"regexp"
)

var docIDRe = regexp.MustCompile(`^DOC-[0-9a-f]{12}$`)

// Validate performs the strict structural check of a canonical invoice.
// The builder is tolerant; this is the gate a persisted canonical must
// pass. Returns every violation found, or nil.
func Validate(inv *Invoice) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if inv == nil {
		return []error{fmt.Errorf("invoice is nil")}
	}
	if inv.SchemaVersion != SchemaVersion {
		fail("schema_version must be %q, got %q", SchemaVersion, inv.SchemaVersion)
	}
	if !docIDRe.MatchString(inv.Doc.DocID) {
		fail("doc.doc_id %q does not match DOC-<12 hex>", inv.Doc.DocID)
	}
	if inv.Doc.DocType != "invoice" {
		fail("doc.doc_type must be \"invoice\", got %q", inv.Doc.DocType)
	}
	if inv.Doc.Currency == "" {
		fail("doc.currency is required")
	}
	if inv.Doc.IssuedAt.IsZero() {
		fail("doc.issued_at is required")
	}

	for i, item := range inv.LineItems {
		if item.LineID == "" {
			fail("line_items[%d].line_id is required", i)
		}
		if item.Quantity <= 0 {
			fail("line_items[%d].quantity must be positive", i)
		}
		if item.Confidence.Overall < 0 || item.Confidence.Overall > 0.95 {
			fail("line_items[%d].confidence.overall %v outside [0, 0.95]", i, item.Confidence.Overall)
		}
		switch item.Frequency {
		case FrequencyWeekly, FrequencyMonthly, FrequencyDaily, FrequencyAnnual, FrequencyUnknown:
		default:
			fail("line_items[%d].frequency %q not in enum", i, item.Frequency)
		}
		if item.UnitPrice != nil && item.UnitPrice.Currency == "" {
			fail("line_items[%d].unit_price.currency is required", i)
		}
	}

	if inv.Confidence.Overall < 0 || inv.Confidence.Overall > 0.9 {
		fail("confidence.overall %v outside [0, 0.9]", inv.Confidence.Overall)
	}
	if inv.Provenance.Parser.Name == "" {
		fail("provenance.parser.name is required")
	}
	if inv.Provenance.SourceType == "" {
		fail("provenance.source_type is required")
	}
	return errs
}
