package masking

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)

// Phone keeps the country prefix and last two digits of a phone number,
// masking the rest. Short or empty values are fully masked.
func Phone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) < 6 {
		return "***"
	}
	return digits[:2] + strings.Repeat("*", len(digits)-4) + digits[len(digits)-2:]
}

// Text redacts phone-number-shaped sequences inside free text and truncates
// it, so audit rows stay useful for support without storing PII verbatim.
func Text(text string, max int) string {
	masked := phonePattern.ReplaceAllStringFunc(text, Phone)
	if max > 0 && len(masked) > max {
		return masked[:max] + "…"
	}
	return masked
}
