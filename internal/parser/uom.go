package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Continuation-line patterns. A short line immediately after an item can
// carry the authoritative quantity for catch-weight goods.
var continuationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bT/WT\s*=?\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)\b(?:NET|GROSS)\s*WT\.?\s*:?\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)\bAVG\.?\s+(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)\bACTUAL\s*:\s*(\d+(?:\.\d+)?)`),
	// A bare numeric weight on its own short line.
	regexp.MustCompile(`^\s*(\d{1,4}(?:\.\d{1,2})?)\s*(?:LBS?|#)?\s*$`),
}

// resolveContinuation applies an authoritative quantity from the line
// following an item. When it differs from the parsed quantity, the unit
// price is recomputed from the line total and the item is marked corrected.
func resolveContinuation(item *LineItem, nextLine string) {
	line := strings.TrimSpace(nextLine)
	if line == "" || len(line) > 40 {
		return
	}

	for _, re := range continuationPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		qty, err := strconv.ParseFloat(m[1], 64)
		if err != nil || qty <= 0 {
			return
		}
		if qty == item.Quantity {
			return
		}
		item.Quantity = qty
		if item.TotalCents > 0 {
			item.UnitPriceCents = int64(math.Round(float64(item.TotalCents) / qty))
		}
		item.UOMCorrected = true
		return
	}
}

// categoryHints maps category names to description keywords.
var categoryHints = map[string][]string{
	"meat":      {"beef", "pork", "chicken", "turkey", "bacon", "sausage", "ham", "brisket", "ribeye", "steak"},
	"seafood":   {"shrimp", "salmon", "tuna", "cod", "crab", "lobster", "tilapia", "fish"},
	"produce":   {"lettuce", "tomato", "onion", "pepper", "apple", "banana", "avocado", "potato", "carrot", "celery"},
	"dairy":     {"milk", "cheese", "butter", "cream", "yogurt", "egg"},
	"beverage":  {"soda", "juice", "coffee", "tea", "water", "cola"},
	"dry goods": {"flour", "sugar", "rice", "pasta", "salt", "spice", "oil", "bean"},
	"frozen":    {"frozen", "froz", "ice cream", "frz"},
}

// categoryOrder fixes precedence so "FROZEN CHICKEN" is deterministic.
var categoryOrder = []string{"frozen", "meat", "seafood", "produce", "dairy", "beverage", "dry goods"}

// categorize assigns a category hint from the description, or "".
func categorize(description string) string {
	lower := strings.ToLower(description)
	for _, category := range categoryOrder {
		keywords := categoryHints[category]
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				return category
			}
		}
	}
	return ""
}
