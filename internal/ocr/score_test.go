package ocr

import (
	"math"
	"strings"
	"testing"
)

func TestScoreTextRubric(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"empty", "", 0},
		{"whitespace only", "   \n\t ", 0},
		{"bare content", "zzzz qqqq", 0.3},
		{"content with currency", "paid $5 yesterday", 0.5},
		{"content with keyword", "the total was wrong", 0.45},
		{
			"item shaped line",
			// 0.3 base + 0.2 currency + 0.15 keyword + 0.1 numerics + 0.15 item shape
			"invoice\n1 11.00 x\n2 2.0 3 4\n2 WIDGETS LARGE 10.00",
			0.9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreText(tt.text)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ScoreText(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestScoreTextPenalizesGarbage(t *testing.T) {
	clean := "invoice total $10.00"
	garbled := clean + strings.Repeat("\x01\x02", 20)
	if ScoreText(garbled) >= ScoreText(clean) {
		t.Error("Non-printable characters must reduce the score")
	}
}

func TestScoreTextClamped(t *testing.T) {
	for _, text := range []string{
		"\x01\x02\x03",
		"invoice total due $1,234.56\n1 WIDGET THING 10.00 10.00\nqty amount subtotal tax customer vendor bill due order item line page note",
	} {
		got := ScoreText(text)
		if got < 0 || got > 1 {
			t.Errorf("ScoreText(%q) = %v outside [0, 1]", text, got)
		}
	}
}

func TestHasPrices(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"TOTAL 1,748.85", true},
		{"unit 0.99 each", true},
		{"page 3 of 7", false},
		{"version 1.2.3", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasPrices(tt.text); got != tt.want {
			t.Errorf("HasPrices(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCombineAttemptsMergesUniqueLines(t *testing.T) {
	attempts := []Attempt{
		{Text: "INVOICE 4471\nTOTAL DUE 12.00", Confidence: 0.7},
		{Text: "INVOICE 4471\nSUBTOTAL 11.00\nnoise", Confidence: 0.4},
	}
	combined := combineAttempts(attempts)

	if !strings.Contains(combined, "TOTAL DUE 12.00") {
		t.Error("Best attempt lines must be kept")
	}
	if !strings.Contains(combined, "SUBTOTAL 11.00") {
		t.Error("Unique meaningful lines from other attempts must be merged")
	}
	if strings.Count(combined, "INVOICE 4471") != 1 {
		t.Error("Duplicate lines must not repeat")
	}
	if strings.Contains(combined, "noise") {
		t.Error("Short meaningless lines must not be merged")
	}
}

func TestCombineAttemptsPrefersHighestConfidence(t *testing.T) {
	attempts := []Attempt{
		{Text: "weak text", Confidence: 0.2},
		{Text: "INVOICE TOTAL 99.00", Confidence: 0.8},
	}
	combined := combineAttempts(attempts)
	if !strings.HasPrefix(combined, "INVOICE TOTAL 99.00") {
		t.Errorf("Combined text must start from the best attempt, got %q", combined)
	}
}
