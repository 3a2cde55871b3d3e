package logging

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// secretFieldMarkers are substrings of field names whose values are always
// masked. Matching is case-insensitive.
var secretFieldMarkers = []string{"token", "secret", "password", "authorization", "device_code", "user_code"}

// RedactionHook masks credential material in structured log fields before any
// formatter or writer sees the entry, so tokens never reach a log sink intact.
type RedactionHook struct{}

// Levels registers the hook for every log level.
func (h *RedactionHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire rewrites secret-bearing fields in place.
func (h *RedactionHook) Fire(entry *log.Entry) error {
	for key, value := range entry.Data {
		if !isSecretField(key) {
			continue
		}
		if s, ok := value.(string); ok {
			entry.Data[key] = MaskSecret(s)
			continue
		}
		entry.Data[key] = "***"
	}
	return nil
}

func isSecretField(key string) bool {
	lowered := strings.ToLower(key)
	for _, marker := range secretFieldMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// MaskSecret reduces a secret to a recognizable but unrecoverable form,
// e.g. "gho_16C7...Qx2a". Values shorter than 24 characters are fully
// masked so the retained prefix and suffix never make up more than half
// of the secret.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) < 24 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", value[:8], value[len(value)-4:])
}
