package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressStructuredForm(t *testing.T) {
	addr := parseAddress(map[string]any{
		"line1":          "1390 Enclave Pkwy",
		"city_state_zip": "Houston, TX 77077",
	})
	require.NotNil(t, addr)
	assert.Equal(t, "1390 Enclave Pkwy", addr.Street)
	assert.Equal(t, "Houston", addr.City)
	assert.Equal(t, "TX", addr.State)
	assert.Equal(t, "77077", addr.Postal)
	assert.Equal(t, "US", addr.Country)
	assert.InDelta(t, 0.85, addr.Confidence, 1e-9)
}

func TestParseAddressNestedForm(t *testing.T) {
	addr := parseAddress(map[string]any{
		"street":     "42 Main St",
		"city":       "Springfield",
		"state":      "IL",
		"postalCode": "62704",
	})
	require.NotNil(t, addr)
	assert.Equal(t, "Springfield", addr.City)
	assert.Equal(t, "62704", addr.Postal)
	assert.InDelta(t, 0.85, addr.Confidence, 1e-9)

	// No recoverable ZIP drops the confidence.
	addr = parseAddress(map[string]any{"city": "Springfield", "state": "IL"})
	require.NotNil(t, addr)
	assert.InDelta(t, 0.5, addr.Confidence, 1e-9)
}

func TestParseAddressStringForm(t *testing.T) {
	addr := parseAddress("Houston, TX 77002-1234")
	require.NotNil(t, addr)
	assert.Equal(t, "77002", addr.Postal)
	assert.Equal(t, "TX", addr.State)
	assert.Equal(t, "Houston", addr.City)
}

func TestParseAddressRejectsEmpty(t *testing.T) {
	assert.Nil(t, parseAddress("   "))
	assert.Nil(t, parseAddress(map[string]any{}))
	assert.Nil(t, parseAddress(42))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "sysco corporation", normalizeName("  SYSCO   Corporation "))
	assert.Equal(t, "", normalizeName("   "))
}

func TestLineID(t *testing.T) {
	assert.Equal(t, "L001", lineID(0))
	assert.Equal(t, "L012", lineID(11))
}
