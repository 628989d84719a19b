// Package env reads process settings that sit outside the envconfig structs:
// bootstrap values needed before config loads and secrets mounted as files.
package env

import (
	"fmt"
	"os"
	"strings"
)

// FileSuffix marks a variable whose value is a path to the real secret.
const FileSuffix = "_FILE"

// Get returns the value of key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Secret resolves key from the environment, then from the file named by
// key+FileSuffix. It returns "" when neither is set.
func Secret(key string) (string, error) {
	if val := Get(key, ""); val != "" {
		return val, nil
	}
	path := Get(key+FileSuffix, "")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key+FileSuffix, err)
	}
	return strings.TrimSpace(string(data)), nil
}
