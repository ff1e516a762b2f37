package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoneyShapes(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		amount   float64
		currency string
	}{
		{"float", 4.5, 4.5, "USD"},
		{"int", 7, 7, "USD"},
		{"plain string", "4.50", 4.5, "USD"},
		{"dollar string with separators", "$1,234.50", 1234.5, "USD"},
		{"euro string", "€99.00", 99, "USD"},
		{"amount map", map[string]any{"amount": 4.5}, 4.5, "USD"},
		{"value map with currency", map[string]any{"value": "4.50", "currency": "eur"}, 4.5, "EUR"},
		{"price map", map[string]any{"price": 12.0, "currency": "GBP"}, 12, "GBP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			money := ParseMoney(tt.input, "USD")
			require.NotNil(t, money)
			assert.InDelta(t, tt.amount, money.Amount, 1e-9)
			assert.Equal(t, tt.currency, money.Currency)
		})
	}
}

func TestParseMoneyRejects(t *testing.T) {
	assert.Nil(t, ParseMoney(nil, "USD"))
	assert.Nil(t, ParseMoney("not money", "USD"))
	assert.Nil(t, ParseMoney("", "USD"))
	assert.Nil(t, ParseMoney([]any{1.0}, "USD"))
	assert.Nil(t, ParseMoney(map[string]any{"unrelated": 1.0}, "USD"))
}

func TestParseMoneyFallbackCurrency(t *testing.T) {
	money := ParseMoney(5.0, "")
	require.NotNil(t, money)
	assert.Equal(t, "USD", money.Currency)

	money = ParseMoney(5.0, "CAD")
	require.NotNil(t, money)
	assert.Equal(t, "CAD", money.Currency)
}

func TestFromCents(t *testing.T) {
	money := FromCents(174885, "USD")
	assert.InDelta(t, 1748.85, money.Amount, 1e-9)
	assert.Equal(t, "USD", money.Currency)

	money = FromCents(-250, "")
	assert.InDelta(t, -2.5, money.Amount, 1e-9)
	assert.Equal(t, "USD", money.Currency)
}
