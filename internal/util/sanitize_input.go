package util

import (
	"html"
	"strings"
	"unicode"
)

// SanitizeInput trims and escapes HTML in free-form text such as display names.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports script-like fragments in user supplied text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// NormalizeMobile strips spaces and dashes from a phone number.
func NormalizeMobile(mobile string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(mobile))
}

// IsValidMobile accepts 6 to 15 digits with an optional leading plus.
func IsValidMobile(mobile string) bool {
	digits := strings.TrimPrefix(mobile, "+")
	if len(digits) < 6 || len(digits) > 15 {
		return false
	}
	return IsDigits(digits)
}

func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// MaskMobile keeps the first three and last four characters.
func MaskMobile(mobile string) string {
	if len(mobile) <= 7 {
		return strings.Repeat("*", len(mobile))
	}
	return mobile[:3] + strings.Repeat("*", len(mobile)-7) + mobile[len(mobile)-4:]
}
