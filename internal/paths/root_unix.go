//go:build !windows && !darwin

package paths

import (
	"os"
	"path/filepath"
)

// dataRoot follows the XDG base directory layout.
func dataRoot() (string, error) {
	if x := os.Getenv("XDG_DATA_HOME"); x != "" && filepath.IsAbs(x) {
		return x, nil
	}
	h, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, ".local", "share"), nil
}
