package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDataDir returns a per-user directory appropriate for persisting
// the transfer journal and received files. LANLINK_DATA_DIR overrides it;
// otherwise it prefers os.UserConfigDir and falls back to the current
// directory.
func DefaultDataDir() string {
	if v := strings.TrimSpace(os.Getenv("LANLINK_DATA_DIR")); v != "" {
		return filepath.Clean(v)
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "lanlink")
	}
	return ".lanlink"
}

// EnsureDir makes sure dir exists and returns the cleaned path.
func EnsureDir(dir string) (string, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
