// Package cli provides shared formatting helpers for the edgewatch CLI.
package cli

import (
	"os"
	"strings"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

// Green wraps s in ANSI green. Returns s unchanged when NO_COLOR is set.
func Green(s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

// Yellow wraps s in ANSI yellow. Returns s unchanged when NO_COLOR is set.
func Yellow(s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

// Red wraps s in ANSI red. Returns s unchanged when NO_COLOR is set.
func Red(s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

// Bold wraps s in ANSI bold. Returns s unchanged when NO_COLOR is set.
func Bold(s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

// Dim wraps s in ANSI dim. Returns s unchanged when NO_COLOR is set.
func Dim(s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}

// Severity colors an offence severity for terminal display.
func Severity(s string) string {
	switch strings.ToLower(s) {
	case "critical":
		return Bold(Red(s))
	case "high":
		return Red(s)
	case "medium":
		return Yellow(s)
	case "low":
		return Green(s)
	default:
		return s
	}
}

// OffenceStatus colors an offence workflow status for terminal display.
func OffenceStatus(s string) string {
	switch strings.ToLower(s) {
	case "new":
		return Red(s)
	case "in_progress":
		return Yellow(s)
	case "closed_false_positive", "closed_true_positive", "closed_other":
		return Green(s)
	default:
		return s
	}
}

// DeviceStatus colors a device reachability status for terminal display.
func DeviceStatus(s string) string {
	switch strings.ToLower(s) {
	case "reachable":
		return Green(s)
	case "configuring":
		return Yellow(s)
	case "unreachable", "error":
		return Red(s)
	case "unknown":
		return Dim(s)
	default:
		return s
	}
}

// DotPad pads name with dots to the given width.
// Example: DotPad("syslog-port", 30) → "syslog-port .................."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}
