package canonical

import (
	"strconv"
	"strings"
)

// ParseMoney normalizes any of the accepted money shapes:
//
//	4.5                      → {4.5, fallback}
//	"$1,234.50"              → {1234.5, fallback}
//	{"amount": 4.5}          → {4.5, fallback}
//	{"value": "4.50", "currency": "EUR"} → {4.5, "EUR"}
//
// Nil, unrecognized shapes and unparseable strings return nil.
func ParseMoney(input any, currencyFallback string) *Money {
	if currencyFallback == "" {
		currencyFallback = "USD"
	}

	switch v := input.(type) {
	case nil:
		return nil
	case float64:
		return &Money{Amount: v, Currency: currencyFallback}
	case float32:
		return &Money{Amount: float64(v), Currency: currencyFallback}
	case int:
		return &Money{Amount: float64(v), Currency: currencyFallback}
	case int64:
		return &Money{Amount: float64(v), Currency: currencyFallback}
	case string:
		amount, ok := parseMoneyString(v)
		if !ok {
			return nil
		}
		return &Money{Amount: amount, Currency: currencyFallback}
	case map[string]any:
		currency := currencyFallback
		if c, ok := v["currency"].(string); ok && c != "" {
			currency = strings.ToUpper(c)
		}
		for _, key := range []string{"amount", "value", "price"} {
			raw, ok := v[key]
			if !ok {
				continue
			}
			if nested := ParseMoney(raw, currency); nested != nil {
				nested.Currency = currency
				return nested
			}
		}
		return nil
	case *Money:
		return v
	case Money:
		return &v
	}
	return nil
}

// FromCents converts integer cents into a Money value.
func FromCents(cents int64, currency string) *Money {
	if currency == "" {
		currency = "USD"
	}
	return &Money{Amount: float64(cents) / 100, Currency: currency}
}

func parseMoneyString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimPrefix(s, "£")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}
