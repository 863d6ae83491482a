package textutil

import "strings"

// NormalizeStringMap prepares caller-supplied metadata for the payment
// gateway. Keys and values are trimmed, entries whose key or value trims
// to empty are dropped, and an empty result collapses to nil so callers
// can omit the metadata field entirely.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		trimmedValue := strings.TrimSpace(value)
		if trimmedKey == "" || trimmedValue == "" {
			continue
		}
		result[trimmedKey] = trimmedValue
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
