package detectors

import (
	"regexp"
	"strings"
)

var (
	nonDigit         = regexp.MustCompile(`\D`)
	dateLikePhone    = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	phoneSeparators  = regexp.MustCompile(`[- ]+`)
	mobilePattern    = regexp.MustCompile(`(\+91[- ]?|91[- ]?)?[6-9]\d{2,3}[- ]?\d{6,7}$`)
	landlinePattern  = regexp.MustCompile(`^0?\d{2,4}[- ]?\d{2,3}[- ]?\d{4,5}$`)
	shortLinePattern = regexp.MustCompile(`^\d{6,8}$`)
)

// PhoneDigits strips everything but ASCII digits
func PhoneDigits(text string) string {
	return nonDigit.ReplaceAllString(text, "")
}

// IsValidPhoneNumber accepts common Indian mobile and landline layouts while
// rejecting date-like strings and digit runs that are too short or too long
// to be a phone number.
func IsValidPhoneNumber(text string) bool {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return false
	}

	digits := PhoneDigits(raw)
	if len(digits) < 7 || len(digits) > 12 {
		return false
	}

	if dateLikePhone.MatchString(raw) {
		return false
	}

	normalized := strings.TrimSpace(phoneSeparators.ReplaceAllString(raw, " "))
	if mobilePattern.MatchString(normalized) ||
		landlinePattern.MatchString(normalized) ||
		shortLinePattern.MatchString(normalized) {
		return true
	}

	n := len(digits)
	switch {
	case n == 10 && isMobileLead(digits[0]):
		return true
	case (n == 11 || n == 12) && isMobileLead(digits[n-10]):
		return true
	case n >= 8 && digits[0] == '0':
		return true
	case n >= 8 && n <= 10:
		return true
	}
	return false
}

func isMobileLead(b byte) bool {
	return b >= '6' && b <= '9'
}
