package domain

import "strings"

// NormalizePhoneNumber strips separators and rewrites a leading trunk prefix 0 to
// countryCode. The result must be all digits.
func NormalizePhoneNumber(raw, countryCode string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '+', '-':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", NewValidationError("phone_number", "is required")
	}
	if strings.HasPrefix(cleaned, "0") && countryCode != "" {
		cleaned = countryCode + cleaned[1:]
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", NewValidationError("phone_number", "must contain digits only")
		}
	}
	return cleaned, nil
}
