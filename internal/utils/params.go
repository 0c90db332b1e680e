// Package utils holds small helpers shared by the HTTP layer and the CLI.
// Nothing here knows about the domain.
package utils

import "strconv"

// AtoiDefault parses s, or returns def when s is empty or not an integer.
// Surrounding spaces are not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// IntParam parses a query or flag value with a default, then clamps it.
//
//	page := utils.IntParam(c.Query("page"), 1, 1, math.MaxInt)
//	k := utils.IntParam(c.Query("k"), 5, 1, 20)
func IntParam(s string, def, lo, hi int) int {
	return Clamp(AtoiDefault(s, def), lo, hi)
}
