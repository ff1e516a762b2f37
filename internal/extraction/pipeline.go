package extraction

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	"invoice-ingest/internal/ocr"
	"invoice-ingest/internal/parser"
)

// Input carries the document to extract. Exactly one of Data, Base64,
// Text or Path should be set; they are tried in that order.
type Input struct {
	Data     []byte
	Base64   string
	Text     string
	Path     string
	Filename string
	// ContentType is the declared MIME type, if any. Content sniffing wins
	// over it.
	ContentType string
}

// Result is the full pipeline output for one document.
type Result struct {
	OK               bool           `json:"ok"`
	FileType         FileType       `json:"file_type"`
	ExtractionMethod string         `json:"extraction_method"`
	RawText          string         `json:"raw_text"`
	Parsed           *parser.Result `json:"parsed,omitempty"`
	// ExtractionConfidence scores the raw text quality; Confidence is the
	// combined extraction and parsing score.
	ExtractionConfidence float64  `json:"extraction_confidence"`
	Confidence           float64  `json:"confidence"`
	Warnings             []string `json:"warnings,omitempty"`
	ProcessingTimeMs     int64    `json:"processing_time_ms"`
}

// extractionWeight and parsingWeight combine the two confidence sources.
// Parsing dominates: structured fields matter more than clean glyphs.
const (
	extractionWeight      = 0.3
	parsingWeight         = 0.7
	manualReviewThreshold = 0.5
)

// Pipeline ties file detection, OCR and parsing together.
type Pipeline struct {
	OCR          OCREngine
	Parser       *parser.InvoiceParser
	PdftoppmPath string
	ROIEnabled   bool
	logger       *slog.Logger
}

// OCREngine abstracts the multi-pass OCR runner for testing.
type OCREngine interface {
	Recognize(ctx context.Context, imageData []byte) (*ocr.Result, error)
}

// NewPipeline creates a pipeline with the production OCR engine.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		OCR:          ocr.NewEngine(logger),
		Parser:       parser.NewInvoiceParser(),
		PdftoppmPath: "pdftoppm",
		ROIEnabled:   true,
		logger:       logger,
	}
}

// Process runs one document through detection, extraction and parsing.
// Unsupported or unreadable documents return a Result with OK false and
// warnings, not an error; errors are reserved for invalid input.
func (p *Pipeline) Process(ctx context.Context, input Input) (*Result, error) {
	started := time.Now()

	data, result, err := p.resolveInput(input)
	if err != nil {
		return nil, err
	}
	defer func() {
		result.ProcessingTimeMs = time.Since(started).Milliseconds()
	}()

	// A direct text input skips detection and extraction entirely.
	if input.Text != "" && len(data) == 0 {
		result.FileType = FileTypeText
		result.ExtractionMethod = "direct-text"
		result.RawText = input.Text
		result.ExtractionConfidence = ocr.ScoreText(input.Text)
		p.parseAndFinish(ctx, result, nil)
		return result, nil
	}

	result.FileType = DetectFileType(data, input.ContentType, input.Filename)
	switch {
	case result.FileType == FileTypePDF:
		outcome, warnings, err := p.extractPDF(ctx, data)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error())
			return result, nil
		}
		result.RawText = outcome.text
		result.ExtractionMethod = outcome.method
		result.ExtractionConfidence = outcome.confidence
		p.parseAndFinish(ctx, result, outcome.pageImage)

	case result.FileType.IsImage():
		ocrResult, err := p.OCR.Recognize(ctx, data)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("OCR failed: %v", err))
			return result, nil
		}
		result.RawText = ocrResult.Text
		result.ExtractionMethod = ocrResult.Method
		result.ExtractionConfidence = ocrResult.Confidence
		p.parseAndFinish(ctx, result, data)

	case result.FileType == FileTypeText:
		text := string(data)
		result.RawText = text
		result.ExtractionMethod = "plain-text"
		result.ExtractionConfidence = ocr.ScoreText(text)
		p.parseAndFinish(ctx, result, nil)

	default:
		result.Warnings = append(result.Warnings, fmt.Sprintf("unsupported file type %q", result.FileType))
		return result, nil
	}

	return result, nil
}

func (p *Pipeline) resolveInput(input Input) ([]byte, *Result, error) {
	result := &Result{FileType: FileTypeUnknown}

	switch {
	case len(input.Data) > 0:
		return input.Data, result, nil
	case input.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(input.Base64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return data, result, nil
	case input.Text != "":
		return nil, result, nil
	case input.Path != "":
		data, err := os.ReadFile(input.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", input.Path, err)
		}
		return data, result, nil
	}
	return nil, nil, fmt.Errorf("no input provided")
}

// parseAndFinish parses the extracted text, runs the ROI fallback when the
// totals are missing or weak, and computes the combined confidence.
func (p *Pipeline) parseAndFinish(ctx context.Context, result *Result, pageImage []byte) {
	result.Parsed = p.Parser.Parse(result.RawText)
	result.Warnings = append(result.Warnings, result.Parsed.Warnings...)

	if p.ROIEnabled && pageImage != nil &&
		(result.Parsed.Totals.TotalCents == nil || result.Parsed.Confidence.Overall < 0.6) {
		p.roiFallback(ctx, result, pageImage)
	}

	result.Confidence = extractionWeight*result.ExtractionConfidence + parsingWeight*result.Parsed.Confidence.Overall
	result.OK = result.RawText != ""
	if result.Confidence < manualReviewThreshold {
		result.Warnings = append(result.Warnings, "manual review recommended")
	}

	p.logger.Info("Document processed",
		"file_type", string(result.FileType),
		"method", result.ExtractionMethod,
		"confidence", result.Confidence,
		"line_items", len(result.Parsed.LineItems),
	)
}
