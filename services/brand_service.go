package services

import (
	"strings"
	"unicode"

	"adscan-pipeline/models"
)

// BrandService manages brand name normalization
type BrandService struct {
	displayNames map[string]string
}

// NewBrandService creates a new brand service
func NewBrandService() *BrandService {
	s := &BrandService{displayNames: make(map[string]string)}
	for _, name := range []string{
		"Coca-Cola", "Red Bull", "Nike", "Adidas", "Pepsi", "McDonald's",
		"Starbucks", "Apple", "Samsung", "Microsoft", "Google", "Amazon",
		"eBay", "IKEA", "BMW", "H&M", "L'Oréal", "YouTube", "iPhone",
	} {
		s.displayNames[s.NormalizeBrandName(name)] = name
	}
	return s
}

// NormalizeBrandName returns the key used to group the same brand across
// slots and pages. Sentinel labels have no key.
func (s *BrandService) NormalizeBrandName(brandName string) string {
	if brandName == "" || models.IsSentinelLabel(brandName) {
		return ""
	}

	normalized := strings.ToLower(brandName)

	// Remove common punctuation and spaces
	normalized = strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.', ',', '&', '\'', '’', '!':
			return -1
		}
		return r
	}, normalized)

	// Remove extra spaces
	return strings.Join(strings.Fields(normalized), "")
}

// GetBrandDisplayName returns a display-friendly name for a brand. Sentinel
// labels pass through unchanged.
func (s *BrandService) GetBrandDisplayName(brandName string) string {
	brandName = strings.TrimSpace(brandName)
	if brandName == "" || models.IsSentinelLabel(brandName) {
		return brandName
	}

	if known, ok := s.displayNames[s.NormalizeBrandName(brandName)]; ok {
		return known
	}

	// Keep deliberate mixed case such as "PlayStation".
	if hasMixedCase(brandName) {
		return brandName
	}
	return s.toTitleCase(brandName)
}

func hasMixedCase(str string) bool {
	var upper, lower bool
	for _, r := range str {
		if unicode.IsUpper(r) {
			upper = true
		} else if unicode.IsLower(r) {
			lower = true
		}
	}
	return upper && lower
}

// toTitleCase converts a string to title case
func (s *BrandService) toTitleCase(str string) string {
	runes := []rune(str)
	runes[0] = unicode.ToUpper(runes[0])

	for i := 1; i < len(runes); i++ {
		if unicode.IsSpace(runes[i-1]) || runes[i-1] == '-' || runes[i-1] == '_' {
			runes[i] = unicode.ToUpper(runes[i])
		} else {
			runes[i] = unicode.ToLower(runes[i])
		}
	}

	return string(runes)
}
