package transport

import (
	"fmt"
	"strings"
)

// NormalizeModel ensures the provider-required "models/" prefix and rejects
// names that could traverse the URL path.
func NormalizeModel(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("model name is empty")
	}
	bare := strings.TrimPrefix(trimmed, "models/")
	if bare == "" {
		return "", fmt.Errorf("model name is empty")
	}
	if strings.Contains(bare, "..") || strings.ContainsAny(bare, "/\\?#%") {
		return "", fmt.Errorf("invalid model name %q", name)
	}
	return "models/" + bare, nil
}
