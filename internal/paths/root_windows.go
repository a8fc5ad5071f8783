//go:build windows

package paths

import (
	"errors"
	"os"
)

func dataRoot() (string, error) {
	dir := os.Getenv("APPDATA")
	if dir == "" {
		return "", errors.New("%APPDATA% is not defined")
	}
	return dir, nil
}
