package common

import (
	"strconv"
	"strings"
)

// AtoiDefault converts the provided string to an integer falling back to the default when parsing fails.
func AtoiDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// ParseMoney parses a user-entered price such as "$2,500.00". When the value
// cannot be parsed the previous valid value is returned, so a half-typed
// field never poisons downstream arithmetic.
func ParseMoney(value string, prior float64) float64 {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return prior
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return prior
	}
	return parsed
}

// Clamp bounds v to the inclusive [min, max] range.
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampNonNegative floors v at zero.
func ClampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
