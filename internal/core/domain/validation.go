package domain

import (
	"regexp"
)

var macRegex = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// IsValidMAC checks if the string is a colon or dash separated 48-bit address
func IsValidMAC(mac string) bool {
	return macRegex.MatchString(mac)
}
