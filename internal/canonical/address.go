package canonical

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	zipRe      = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
	stateZipRe = regexp.MustCompile(`\b([A-Z]{2})\s+\d{5}`)
)

// parseAddress accepts either the structured form
// {line1, line2, city_state_zip} or the nested form
// {street|line1|address1, city, state, postalCode|postal|zip, country}.
// Confidence is 0.85 when a ZIP was recovered, else 0.5.
func parseAddress(input any) *Address {
	m, ok := input.(map[string]any)
	if !ok {
		if s, ok := input.(string); ok && strings.TrimSpace(s) != "" {
			return parseCityStateZip("", s)
		}
		return nil
	}

	street := stringKey(m, "street", "line1", "address1")
	city := stringKey(m, "city")
	state := stringKey(m, "state")
	postal := stringKey(m, "postalCode", "postal", "zip")
	country := stringKey(m, "country")
	if country == "" {
		country = "US"
	}

	// Nested form: enough named parts present.
	if city != "" || state != "" || postal != "" {
		addr := &Address{
			Raw:        joinNonEmpty(street, city, state, postal),
			Street:     street,
			City:       city,
			State:      state,
			Postal:     postal,
			Country:    country,
			Confidence: 0.5,
		}
		if zipRe.MatchString(postal) {
			addr.Confidence = 0.85
		}
		return addr
	}

	if csz := stringKey(m, "city_state_zip"); csz != "" {
		addr := parseCityStateZip(street, csz)
		if line2 := stringKey(m, "line2"); line2 != "" && addr.Street != "" {
			addr.Street = addr.Street + ", " + line2
		}
		addr.Country = country
		return addr
	}

	if street == "" {
		return nil
	}
	return &Address{Raw: street, Street: street, Country: country, Confidence: 0.5}
}

// parseCityStateZip extracts {city, state, postal} from a combined line
// like "Houston, TX 77002".
func parseCityStateZip(street, csz string) *Address {
	addr := &Address{
		Raw:        strings.TrimSpace(joinNonEmpty(street, csz)),
		Street:     street,
		Country:    "US",
		Confidence: 0.5,
	}

	if m := zipRe.FindStringSubmatch(csz); m != nil {
		addr.Postal = m[1]
		addr.Confidence = 0.85
	}
	if m := stateZipRe.FindStringSubmatch(csz); m != nil {
		addr.State = m[1]
		if i := strings.Index(csz, m[1]); i > 0 {
			addr.City = strings.Trim(strings.TrimSpace(csz[:i]), ",")
		}
	}
	return addr
}

func stringKey(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, ", ")
}

// normalizeName lowercases and collapses whitespace for party matching.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func lineID(index int) string {
	return fmt.Sprintf("L%03d", index+1)
}
