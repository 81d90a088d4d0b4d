package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces masked values in log output.
const RedactedValue = "[REDACTED]"

// Keys emitted verbatim by MaskField.
var maskAllowlist = map[string]struct{}{
	"asset":      {},
	"collection": {},
	"component":  {},
	"kind":       {},
	"loan":       {},
	"op":         {},
	"route":      {},
}

// Key fragments that are always masked, whoever logs them.
var sensitiveFragments = []string{"token", "secret", "password", "authorization", "private_key", "mnemonic"}

// IsAllowlisted reports whether MaskField emits key unmasked.
func IsAllowlisted(key string) bool {
	_, ok := maskAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// IsSensitive reports whether key names a credential. Setup masks string
// values under such keys regardless of how they were logged.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskField returns an attribute whose value is redacted unless the key is
// allowlisted and not sensitive. Blank values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || (IsAllowlisted(key) && !IsSensitive(key)) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

func redactSensitive(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || attr.Value.String() == "" {
		return attr
	}
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}
