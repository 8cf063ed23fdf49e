package audit

import (
	"strings"
	"unicode/utf8"
)

const (
	RedactedValue = "[REDACTED]"

	maxDetailStringRunes = 500
	maxDetailDepth       = 8
	maxIPLength          = 45
	maxUserAgentLength   = 512
)

// sensitiveMarkers are matched against detail keys after lower-casing and
// stripping separators, so "Password", "new_password" and "X-Api-Key" all hit.
var sensitiveMarkers = []string{
	"password",
	"passwd",
	"passphrase",
	"pwd",
	"secret",
	"hash",
	"token",
	"jwt",
	"apikey",
	"privatekey",
	"accesskey",
	"authorization",
	"bearer",
	"cookie",
	"credential",
	"otp",
	"pin",
	"cvv",
	"cvc",
	"cardnumber",
	"creditcard",
	"iban",
	"ssn",
	"signature",
}

// sensitiveExactKeys are too short to match as substrings without hitting
// unrelated names.
var sensitiveExactKeys = map[string]struct{}{
	"key":  {},
	"auth": {},
	"sid":  {},
}

func isSensitiveKey(key string) bool {
	normalized := normalizeKey(key)
	if normalized == "" {
		return false
	}
	if _, ok := sensitiveExactKeys[normalized]; ok {
		return true
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

func normalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(key) {
		switch r {
		case '_', '-', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Sanitize returns a deep copy of details with sensitive keys redacted and
// long strings truncated. The input map is never modified.
func Sanitize(details map[string]any) map[string]any {
	if len(details) == 0 {
		return map[string]any{}
	}
	return sanitizeMap(details, 0)
}

func sanitizeMap(in map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if isSensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = sanitizeValue(v, depth+1)
	}
	return out
}

func sanitizeValue(v any, depth int) any {
	if depth > maxDetailDepth {
		return RedactedValue
	}

	switch value := v.(type) {
	case nil:
		return nil
	case string:
		return truncate(value, maxDetailStringRunes)
	case map[string]any:
		return sanitizeMap(value, depth)
	case map[string]string:
		converted := make(map[string]any, len(value))
		for k, s := range value {
			converted[k] = s
		}
		return sanitizeMap(converted, depth)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = sanitizeValue(item, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = truncate(item, maxDetailStringRunes)
		}
		return out
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return value
	case error:
		return truncate(value.Error(), maxDetailStringRunes)
	default:
		// Unknown types (structs, byte slices) could hide secrets in fields
		// we cannot inspect.
		return RedactedValue
	}
}

func truncate(value string, maxRunes int) string {
	if utf8.RuneCountInString(value) <= maxRunes {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxRunes])
}
