package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands $VAR and ${VAR} references in path, then resolves a
// leading ~ to the home directory. An empty path stays empty.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
