package masking

import "strings"

const maskToken = "****"

// sensitiveKeys are metadata keys whose string values are redacted before an
// audit row is written.
var sensitiveKeys = map[string]struct{}{
	"transaction_id":  {},
	"idempotency_key": {},
}

// MaskReference redacts an external reference while keeping its prefix and a
// minimal suffix, e.g. TXN-****WXYZ.
func MaskReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskMetadata returns a copy of input with sensitive values masked.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, ok := sensitiveKeys[trimmedKey]; ok {
			if s, isString := value.(string); isString {
				masked[trimmedKey] = MaskReference(s)
				continue
			}
		}
		masked[trimmedKey] = value
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func splitPrefix(value string) (string, string) {
	last := strings.LastIndexAny(value, "_-")
	if last == -1 || last == len(value)-1 {
		return "", value
	}
	return value[:last+1], value[last+1:]
}
