package extraction

import (
	"context"
	"fmt"

	"invoice-ingest/internal/ocr"
)

// roiRegion is a fractional crop of the page to re-OCR for totals.
type roiRegion struct {
	name                     string
	left, top, right, bottom float64
}

// Totals cluster at the bottom of invoices; the bottom-right corner is
// the most common placement.
var roiRegions = []roiRegion{
	{"bottom-right", 0.5, 0.6, 1.0, 1.0},
	{"bottom", 0.0, 0.7, 1.0, 1.0},
}

const (
	roiBumpFactor    = 0.2
	roiConfidenceCap = 0.95
)

// roiFallback re-OCRs totals-bearing regions of the page when full-page
// parsing found no invoice total. Found totals are merged into the parsed
// result and overall confidence gets a bounded bump.
func (p *Pipeline) roiFallback(ctx context.Context, result *Result, pageImage []byte) {
	vendorLabel := ""
	if result.Parsed.Vendor != nil {
		vendorLabel = result.Parsed.Vendor.Key
	}

	for _, region := range roiRegions {
		cropped, err := ocr.Crop(pageImage, region.left, region.top, region.right, region.bottom)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("roi crop %s failed: %v", region.name, err))
			continue
		}
		ocrResult, err := p.OCR.Recognize(ctx, cropped)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("roi ocr %s failed: %v", region.name, err))
			continue
		}

		regionParsed := p.Parser.Parse(ocrResult.Text)
		if regionParsed.Totals.TotalCents == nil {
			continue
		}

		if result.Parsed.Totals.TotalCents == nil {
			result.Parsed.Totals.TotalCents = regionParsed.Totals.TotalCents
			result.Parsed.Confidence.Parsing["totals"] = 0.6
		}
		if result.Parsed.Totals.SubtotalCents == nil {
			result.Parsed.Totals.SubtotalCents = regionParsed.Totals.SubtotalCents
		}
		if result.Parsed.Totals.TaxCents == nil {
			result.Parsed.Totals.TaxCents = regionParsed.Totals.TaxCents
		}

		bumped := result.Parsed.Confidence.Overall + ocrResult.Confidence*roiBumpFactor
		if bumped > roiConfidenceCap {
			bumped = roiConfidenceCap
		}
		result.Parsed.Confidence.Overall = bumped

		result.ExtractionMethod += "+roi-" + region.name
		p.logger.Info("ROI fallback recovered total",
			"region", region.name,
			"vendor", vendorLabel,
			"total_cents", *regionParsed.Totals.TotalCents,
		)
		return
	}
}
