package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"invoice-ingest/internal/ocr"
)

const (
	// pdfTextAcceptScore is the quality bar for the embedded text layer.
	pdfTextAcceptScore = 0.7
	rasterDPI          = 300
	rasterTimeout      = 2 * time.Minute
)

// pdfOutcome is one rung of the PDF ladder.
type pdfOutcome struct {
	text       string
	method     string
	confidence float64
	// pageImage holds the rasterized first page when OCR ran, so the ROI
	// fallback can re-crop it.
	pageImage []byte
}

// extractPDF walks the ladder: embedded text layer first, then rasterize
// and OCR, then merge when both produced something weak.
func (p *Pipeline) extractPDF(ctx context.Context, data []byte) (*pdfOutcome, []string, error) {
	var warnings []string

	text, err := pdfTextLayer(data)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("pdf text layer unavailable: %v", err))
	}
	textScore := ocr.ScoreText(text)
	if textScore >= pdfTextAcceptScore && ocr.HasPrices(text) {
		return &pdfOutcome{text: text, method: "pdf-text", confidence: textScore}, warnings, nil
	}

	page, err := p.rasterizeFirstPage(ctx, data)
	if err != nil {
		if text != "" {
			warnings = append(warnings, fmt.Sprintf("rasterization failed, keeping text layer: %v", err))
			return &pdfOutcome{text: text, method: "pdf-text", confidence: textScore}, warnings, nil
		}
		return nil, warnings, fmt.Errorf("pdf has no usable text layer and rasterization failed: %w", err)
	}

	ocrResult, err := p.OCR.Recognize(ctx, page)
	if err != nil {
		if text != "" {
			warnings = append(warnings, fmt.Sprintf("OCR failed, keeping text layer: %v", err))
			return &pdfOutcome{text: text, method: "pdf-text", confidence: textScore}, warnings, nil
		}
		return nil, warnings, fmt.Errorf("pdf OCR failed: %w", err)
	}

	if ocrResult.Confidence >= textScore {
		return &pdfOutcome{
			text:       ocrResult.Text,
			method:     "pdf-" + ocrResult.Method,
			confidence: ocrResult.Confidence,
			pageImage:  page,
		}, warnings, nil
	}
	return &pdfOutcome{text: text, method: "pdf-text", confidence: textScore, pageImage: page}, warnings, nil
}

// pdfTextLayer pulls the embedded text layer from every page.
func pdfTextLayer(data []byte) (text string, err error) {
	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// rasterizeFirstPage shells out to pdftoppm and returns page 1 as PNG.
func (p *Pipeline) rasterizeFirstPage(ctx context.Context, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, rasterTimeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "pdf-raster-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}

	outPrefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, p.PdftoppmPath,
		"-png",
		"-r", fmt.Sprintf("%d", rasterDPI),
		"-f", "1", "-l", "1",
		inputPath, outPrefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("pdftoppm timed out after %s", rasterTimeout)
		}
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	// pdftoppm pads the page number depending on page count.
	for _, candidate := range []string{outPrefix + "-1.png", outPrefix + "-01.png", outPrefix + "-001.png"} {
		if page, err := os.ReadFile(candidate); err == nil {
			return page, nil
		}
	}
	return nil, fmt.Errorf("pdftoppm produced no output page")
}
