package extraction

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"invoice-ingest/internal/ocr"
	"invoice-ingest/internal/parser"
)

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) Recognize(ctx context.Context, imageData []byte) (*ocr.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{
		Text:       f.text,
		Confidence: ocr.ScoreText(f.text),
		Method:     "ocr-standard",
	}, nil
}

func newTestPipeline(ocrEngine OCREngine) *Pipeline {
	return &Pipeline{
		OCR:    ocrEngine,
		Parser: parser.NewInvoiceParser(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestProcessDirectText(t *testing.T) {
	p := newTestPipeline(&fakeOCR{})
	result, err := p.Process(context.Background(), Input{
		Text: "Invoice # 4471\n2 WIDGETS 10.00 20.00\nINVOICE TOTAL 20.00",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !result.OK {
		t.Fatal("Expected OK result for direct text")
	}
	if result.ExtractionMethod != "direct-text" {
		t.Errorf("Expected direct-text method, got %q", result.ExtractionMethod)
	}
	if result.Parsed == nil || result.Parsed.Totals.TotalCents == nil {
		t.Fatal("Expected parsed totals")
	}
	if *result.Parsed.Totals.TotalCents != 2000 {
		t.Errorf("Expected 2000 cents, got %d", *result.Parsed.Totals.TotalCents)
	}
}

func TestProcessImageUsesOCR(t *testing.T) {
	engine := &fakeOCR{text: "INVOICE\n1 COFFEE 12.00 12.00\nTOTAL DUE 12.00"}
	p := newTestPipeline(engine)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	result, err := p.Process(context.Background(), Input{Data: jpeg, Filename: "scan.jpg"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.FileType != FileTypeJPEG {
		t.Errorf("Expected jpeg detection, got %q", result.FileType)
	}
	if result.ExtractionMethod != "ocr-standard" {
		t.Errorf("Expected OCR method, got %q", result.ExtractionMethod)
	}
	if result.Parsed.Totals.TotalCents == nil || *result.Parsed.Totals.TotalCents != 1200 {
		t.Error("Expected OCR text to flow into the parser")
	}
}

func TestProcessCombinedConfidence(t *testing.T) {
	engine := &fakeOCR{text: "INVOICE\n1 COFFEE 12.00 12.00\nTOTAL DUE 12.00"}
	p := newTestPipeline(engine)

	result, err := p.Process(context.Background(), Input{Data: []byte{0xFF, 0xD8, 0xFF, 0x00}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	want := 0.3*result.ExtractionConfidence + 0.7*result.Parsed.Confidence.Overall
	if diff := result.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Combined confidence %v, want %v", result.Confidence, want)
	}
}

func TestProcessManualReviewWarning(t *testing.T) {
	// Garbage OCR output parses to nothing; the combined confidence lands
	// under the review threshold.
	engine := &fakeOCR{text: "zzzz qqqq"}
	p := newTestPipeline(engine)

	result, err := p.Process(context.Background(), Input{Data: []byte{0xFF, 0xD8, 0xFF, 0x00}})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	found := false
	for _, w := range result.Warnings {
		if w == "manual review recommended" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected manual review warning, got %v", result.Warnings)
	}
}

func TestProcessInvalidInput(t *testing.T) {
	p := newTestPipeline(&fakeOCR{})

	if _, err := p.Process(context.Background(), Input{}); err == nil {
		t.Error("Expected error for empty input")
	}
	if _, err := p.Process(context.Background(), Input{Base64: "!!not base64!!"}); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestProcessUnsupportedType(t *testing.T) {
	p := newTestPipeline(&fakeOCR{})

	result, err := p.Process(context.Background(), Input{Data: []byte{0x00, 0x01, 0x02, 0xFF}})
	if err != nil {
		t.Fatalf("Unsupported types are not errors: %v", err)
	}
	if result.OK {
		t.Error("Expected OK false for unsupported content")
	}
	if len(result.Warnings) == 0 || !strings.Contains(result.Warnings[0], "unsupported file type") {
		t.Errorf("Expected unsupported-type warning, got %v", result.Warnings)
	}
}

func TestProcessPlainTextBytes(t *testing.T) {
	p := newTestPipeline(&fakeOCR{})

	result, err := p.Process(context.Background(), Input{
		Data:     []byte("Invoice # 9\n1 TEA 2.00 2.00\nTOTAL 2.00"),
		Filename: "invoice.txt",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.FileType != FileTypeText || result.ExtractionMethod != "plain-text" {
		t.Errorf("Expected plain-text path, got %q/%q", result.FileType, result.ExtractionMethod)
	}
	if !result.OK {
		t.Error("Expected OK result")
	}
}
