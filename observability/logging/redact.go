package logging

import (
	"log/slog"
	"slices"
	"strings"
)

// RedactedValue replaces masked values in log output.
const RedactedValue = "[REDACTED]"

// Keys MaskField lets through untouched. Everything else passed to MaskField
// is treated as client-identifying.
var allowlisted = []string{
	"caller", "code", "component", "env", "error", "message", "method",
	"path", "reason", "request_id", "service", "severity", "status",
	"timestamp", "vault",
}

// Keys the handler masks no matter how they were logged.
var secretKeys = []string{"api_key", "authorization", "password", "secret", "token"}

func normalizeKey(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

func isAllowlisted(key string) bool {
	_, found := slices.BinarySearch(allowlisted, normalizeKey(key))
	return found
}

func isSecret(key string) bool {
	key = normalizeKey(key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// RedactionAllowlist returns the sorted keys MaskField never masks.
func RedactionAllowlist() []string { return slices.Clone(allowlisted) }

// MaskField builds a string attribute whose value is replaced by
// RedactedValue unless the key is allowlisted. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || isAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// scrubSecret masks string attributes whose key names a credential.
func scrubSecret(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || attr.Value.String() == "" || !isSecret(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
