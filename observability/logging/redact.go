package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that carry no user secrets and may pass through unmasked. Everything
// else handed to MaskField is redacted; API keys and bearer material never
// reach the log stream.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"module":    {},
	"method":    {},
	"path":      {},
	"status":    {},
}

// IsAllowlisted reports whether the key is exempt from masking.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField builds a slog.Attr whose value is redacted unless the key is
// allowlisted. Empty values pass through so absent headers stay readable.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
