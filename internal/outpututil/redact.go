package outpututil

import "strings"

// redactedPlaceholder replaces every occurrence of a secret value.
const redactedPlaceholder = "***"

// Redact replaces every occurrence of each non-empty value in secrets with a
// fixed placeholder. Used at finalization to mask secret env values out of
// captured stdout/stderr before they reach the caller.
func Redact(s string, secrets map[string]string) string {
	if len(secrets) == 0 {
		return s
	}
	for _, v := range secrets {
		if v == "" {
			continue
		}
		s = strings.ReplaceAll(s, v, redactedPlaceholder)
	}
	return s
}
