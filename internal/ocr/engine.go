package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds one tesseract invocation.
const DefaultTimeout = 60 * time.Second

// Attempt records one OCR pass.
type Attempt struct {
	Variant    Variant `json:"variant"`
	PSM        int     `json:"psm"`
	Text       string  `json:"-"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of a multi-pass OCR run.
type Result struct {
	Text       string    `json:"text"`
	Method     string    `json:"method"`
	Confidence float64   `json:"confidence"`
	Attempts   []Attempt `json:"attempts"`
}

// Engine drives the tesseract subprocess. The binary is an external
// collaborator invoked per page with an explicit timeout and working
// directory; temp files are removed on every exit path.
type Engine struct {
	TesseractPath string
	Language      string
	Timeout       time.Duration
	logger        *slog.Logger
}

// NewEngine creates an engine with defaults suitable for invoices.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		TesseractPath: "tesseract",
		Language:      "eng",
		Timeout:       DefaultTimeout,
		logger:        logger,
	}
}

// Recognize runs the full multi-pass ladder on an image:
//
//  1. standard preprocessing, PSM 6 / 3 / 4
//  2. below 0.6: advanced preprocessing, PSM 6 / 3
//  3. below 0.5: high-contrast preprocessing, PSM 11
//  4. below 0.65 with at least two attempts: combine unique lines
//
// The returned confidence never decreases as passes are added.
func (e *Engine) Recognize(ctx context.Context, imageData []byte) (*Result, error) {
	result := &Result{}

	runPass := func(variant Variant, psms []int) error {
		prepared, err := Preprocess(imageData, variant)
		if err != nil {
			return fmt.Errorf("preprocessing (%s) failed: %w", variant, err)
		}
		for _, psm := range psms {
			text, err := e.runTesseract(ctx, prepared, psm)
			if err != nil {
				e.logger.Warn("OCR pass failed", "variant", string(variant), "psm", psm, "error", err)
				continue
			}
			attempt := Attempt{
				Variant:    variant,
				PSM:        psm,
				Text:       text,
				Confidence: ScoreText(text),
			}
			result.Attempts = append(result.Attempts, attempt)
			if attempt.Confidence > result.Confidence {
				result.Confidence = attempt.Confidence
				result.Text = text
				result.Method = fmt.Sprintf("ocr-%s-psm%d", variant, psm)
			}
		}
		return nil
	}

	if err := runPass(VariantStandard, []int{6, 3, 4}); err != nil {
		return nil, err
	}
	if result.Confidence < 0.6 {
		if err := runPass(VariantAdvanced, []int{6, 3}); err != nil {
			e.logger.Warn("Advanced OCR pass unavailable", "error", err)
		}
	}
	if result.Confidence < 0.5 {
		if err := runPass(VariantHighContrast, []int{11}); err != nil {
			e.logger.Warn("High-contrast OCR pass unavailable", "error", err)
		}
	}

	if result.Confidence < 0.65 && len(result.Attempts) >= 2 {
		combined := combineAttempts(result.Attempts)
		if score := ScoreText(combined); score > result.Confidence {
			result.Text = combined
			result.Confidence = score
			result.Method = "ocr-combined"
		}
	}

	if len(result.Attempts) == 0 {
		return nil, fmt.Errorf("all OCR passes failed")
	}
	return result, nil
}

// runTesseract invokes the binary on a temp file and returns stdout. The
// temp directory is removed on every exit path.
func (e *Engine) runTesseract(ctx context.Context, png []byte, psm int) (string, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "ocr-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "page.png")
	if err := os.WriteFile(inputPath, png, 0o600); err != nil {
		return "", fmt.Errorf("failed to write OCR input: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.TesseractPath,
		inputPath, "stdout",
		"--psm", strconv.Itoa(psm),
		"-l", e.Language,
	)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tesseract timed out after %s", timeout)
		}
		return "", fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// combineAttempts starts from the highest-confidence text and appends
// unique meaningful lines from the other attempts.
func combineAttempts(attempts []Attempt) string {
	best := attempts[0]
	for _, a := range attempts[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}

	seen := make(map[string]bool)
	var lines []string
	for _, line := range strings.Split(best.Text, "\n") {
		lines = append(lines, line)
		seen[normalizeLine(line)] = true
	}

	for _, a := range attempts {
		if a.Text == best.Text {
			continue
		}
		for _, line := range strings.Split(a.Text, "\n") {
			key := normalizeLine(line)
			if seen[key] || !meaningfulLine(key) {
				continue
			}
			seen[key] = true
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func normalizeLine(line string) string {
	return strings.ToLower(strings.TrimSpace(line))
}

// meaningfulLine keeps only lines worth merging: long enough and carrying
// a currency or invoice signal.
func meaningfulLine(normalized string) bool {
	if len(normalized) <= 5 {
		return false
	}
	if strings.ContainsAny(normalized, "$") || priceTokenRe.MatchString(normalized) {
		return true
	}
	return invoiceKeywordRe.MatchString(normalized)
}
