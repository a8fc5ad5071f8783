//go:build darwin

package paths

import "path/filepath"

func dataRoot() (string, error) {
	h, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, "Library", "Application Support"), nil
}
