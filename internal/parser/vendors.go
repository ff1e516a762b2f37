package parser

import (
	"regexp"
	"strings"
)

// VendorClaimThreshold is the minimum score required to claim a vendor.
const VendorClaimThreshold = 50.0

// VendorMatch is the result of scoring text against vendor patterns.
type VendorMatch struct {
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// VendorPattern is one weighted signal for a vendor.
type VendorPattern struct {
	Regex  *regexp.Regexp
	Weight float64
}

// VendorProfile describes one known vendor: identification patterns plus
// parsing hints used by the totals extraction.
type VendorProfile struct {
	Key      string
	Name     string
	Patterns []VendorPattern

	// TotalLabel, when set, is the vendor's terminal total label. Evidence
	// from it overrides heuristic total scoring.
	TotalLabel *regexp.Regexp
}

// VendorDetector scores text against per-vendor pattern tables
type VendorDetector struct {
	profiles []VendorProfile
}

// NewVendorDetector creates a detector with the built-in vendor profiles
func NewVendorDetector() *VendorDetector {
	return &VendorDetector{profiles: defaultVendorProfiles()}
}

func defaultVendorProfiles() []VendorProfile {
	return []VendorProfile{
		{
			Key:  "sysco",
			Name: "Sysco Corporation",
			Patterns: []VendorPattern{
				{regexp.MustCompile(`(?i)\bsysco\b`), 60},
				{regexp.MustCompile(`(?i)sysco\s+(foods?|corporation)`), 25},
				{regexp.MustCompile(`(?i)\bGROUP\s+TOTAL\b`), 15},
				{regexp.MustCompile(`(?i)\bT/WT=`), 10},
			},
			TotalLabel: regexp.MustCompile(`(?i)\bINVOICE\s+TOTAL\b`),
		},
		{
			Key:  "usfoods",
			Name: "US Foods",
			Patterns: []VendorPattern{
				{regexp.MustCompile(`(?i)\bus\s*foods\b`), 60},
				{regexp.MustCompile(`(?i)usfoods\.com`), 30},
			},
			TotalLabel: regexp.MustCompile(`(?i)\bINVOICE\s+TOTAL\b`),
		},
		{
			Key:  "pfg",
			Name: "Performance Food Group",
			Patterns: []VendorPattern{
				{regexp.MustCompile(`(?i)performance\s+food\s*(group|service)`), 60},
				{regexp.MustCompile(`(?i)\bPFG\b`), 30},
			},
		},
		{
			Key:  "gfs",
			Name: "Gordon Food Service",
			Patterns: []VendorPattern{
				{regexp.MustCompile(`(?i)gordon\s+food\s+service`), 60},
				{regexp.MustCompile(`(?i)\bGFS\b`), 25},
			},
		},
		{
			Key:  "restaurant_depot",
			Name: "Restaurant Depot",
			Patterns: []VendorPattern{
				{regexp.MustCompile(`(?i)restaurant\s+depot`), 60},
				{regexp.MustCompile(`(?i)jetro\b`), 25},
			},
		},
	}
}

// Detect scores the normalized text against each profile and returns the
// best match, or nil when no vendor reaches the claim threshold.
func (d *VendorDetector) Detect(text string) *VendorMatch {
	normalized := normalizeForDetection(text)

	var best *VendorMatch
	for _, profile := range d.profiles {
		score := 0.0
		for _, p := range profile.Patterns {
			if p.Regex.MatchString(normalized) {
				score += p.Weight
			}
		}
		if score < VendorClaimThreshold {
			continue
		}
		if score > 100 {
			score = 100
		}
		if best == nil || score > best.Confidence {
			best = &VendorMatch{Key: profile.Key, Name: profile.Name, Confidence: score}
		}
	}
	return best
}

// Profile returns the profile for a vendor key, or nil.
func (d *VendorDetector) Profile(key string) *VendorProfile {
	for i := range d.profiles {
		if d.profiles[i].Key == key {
			return &d.profiles[i]
		}
	}
	return nil
}

func normalizeForDetection(text string) string {
	// Collapse whitespace so multi-word patterns survive OCR line breaks.
	return strings.Join(strings.Fields(text), " ")
}
