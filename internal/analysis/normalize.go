package analysis

import (
	"strconv"
	"strings"
)

// NormalizeUsage coerces numeric strings in provider usage metadata into
// numbers, recursing into nested maps. Providers report token counts and
// prices inconsistently as strings or numbers.
func NormalizeUsage(usage any) any {
	m, ok := usage.(map[string]any)
	if !ok {
		if usage == nil {
			return map[string]any{}
		}
		return usage
	}

	normalized := make(map[string]any, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed != "" {
				if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
					normalized[key] = n
					continue
				}
			}
			normalized[key] = v
		case map[string]any:
			normalized[key] = NormalizeUsage(v)
		default:
			normalized[key] = v
		}
	}
	return normalized
}
