// Package registry resolves bundled helper binaries by name.
//
// Only files that live in the registry directory can be resolved; names are
// never interpreted as paths.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	ErrInvalidName = errors.New("invalid binary name")
	ErrNotFound    = errors.New("bundled binary not found")
)

// Registry looks up binaries in Dir. An empty Dir means the directory of the
// running executable.
type Registry struct {
	Dir string
}

// Resolve returns the absolute path of the bundled binary called name.
// It tries "<name>" and then "<name>-<target triple>", with ".exe" on Windows.
func (r *Registry) Resolve(name string) (string, error) {
	if !isSafeName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir, err := r.dir()
	if err != nil {
		return "", err
	}
	for _, c := range candidates(name) {
		p := filepath.Join(dir, c)
		if ok := isExecutable(p); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
}

func (r *Registry) dir() (string, error) {
	if r.Dir != "" {
		return filepath.Abs(r.Dir)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func candidates(name string) []string {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	out := []string{name + ext}
	if t := TargetTriple(); t != "" {
		out = append(out, name+"-"+t+ext)
	}
	return out
}

func isExecutable(p string) bool {
	fi, err := os.Stat(p)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode().Perm()&0o111 != 0
}

// isSafeName allows [A-Za-z0-9._-] without traversal.
func isSafeName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// TargetTriple returns the target triple bundled binaries are suffixed with on
// this platform, or "" when unknown.
func TargetTriple() string {
	arch := map[string]string{
		"amd64": "x86_64",
		"arm64": "aarch64",
		"386":   "i686",
		"arm":   "armv7",
	}[runtime.GOARCH]
	if arch == "" {
		return ""
	}
	switch runtime.GOOS {
	case "linux":
		if arch == "armv7" {
			return "armv7-unknown-linux-gnueabihf"
		}
		return arch + "-unknown-linux-gnu"
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	case "freebsd":
		return arch + "-unknown-freebsd"
	}
	return ""
}
