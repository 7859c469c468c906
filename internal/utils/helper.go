package utils

import (
	"fmt"
	"strconv"
)

// ParseLimit parses a row limit query parameter. Empty means max; values
// above max are clamped. max <= 0 means unlimited.
func ParseLimit(raw string, max int) (int, error) {
	if raw == "" {
		return max, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if max > 0 && (n == 0 || n > max) {
		return max, nil
	}
	return n, nil
}

func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
