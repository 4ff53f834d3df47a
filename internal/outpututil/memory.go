package outpututil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/isol8/isol8/internal/errkind"
)

// ParseMemory parses a memory-size string like "512m", "1g", "256k", "1024",
// or "512mb" into a byte count. Suffixes are case-insensitive; a bare integer
// is interpreted as bytes. Binary (1024-based) multiples are used throughout.
func ParseMemory(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty memory string", errkind.BadRequest)
	}

	lower := strings.ToLower(trimmed)

	// Longest suffixes first so "mb" matches before "m" would otherwise
	// leave a trailing "b" in the numeric portion.
	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"kb", 1024},
		{"mb", 1024 * 1024},
		{"gb", 1024 * 1024 * 1024},
		{"k", 1024},
		{"m", 1024 * 1024},
		{"g", 1024 * 1024 * 1024},
		{"b", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(lower, m.suffix) {
			numStr := strings.TrimSuffix(lower, m.suffix)
			if numStr == "" {
				return 0, fmt.Errorf("%w: invalid memory string %q", errkind.BadRequest, s)
			}
			val, err := strconv.ParseFloat(numStr, 64)
			if err != nil || val < 0 {
				return 0, fmt.Errorf("%w: invalid memory string %q", errkind.BadRequest, s)
			}
			return int64(val * float64(m.factor)), nil
		}
	}

	// No recognized suffix: treat as a raw byte count.
	val, err := strconv.ParseInt(lower, 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("%w: invalid memory string %q", errkind.BadRequest, s)
	}
	return val, nil
}
