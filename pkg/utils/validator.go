package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds ids accepted from callers
const MaxIdentifierLength = 128

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// ValidateIdentifier checks an externally supplied id such as an entity id,
// a user id or a trigger key
func ValidateIdentifier(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > MaxIdentifierLength {
		return fmt.Errorf("%s exceeds %d characters", field, MaxIdentifierLength)
	}
	if controlChars.MatchString(value) {
		return fmt.Errorf("%s contains control characters", field)
	}
	return nil
}

// Page normalizes list paging: a non-positive limit becomes def, a limit
// above max is capped, a negative offset becomes 0
func Page(limit, offset, def, max int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// SanitizeString removes control characters from free text such as
// decision comments and cancellation reasons
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}
