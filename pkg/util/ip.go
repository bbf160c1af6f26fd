package util

import (
	"net"
	"regexp"
)

var ipv4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// ExtractIPv4s returns every IPv4-looking token in s, in order of appearance.
// Candidates that do not parse as addresses are dropped.
func ExtractIPv4s(s string) []string {
	var result []string
	for _, m := range ipv4Re.FindAllString(s, -1) {
		if net.ParseIP(m) != nil {
			result = append(result, m)
		}
	}
	return result
}

// ValidIP reports whether s parses as an IPv4 or IPv6 address.
func ValidIP(s string) bool {
	return net.ParseIP(s) != nil
}
