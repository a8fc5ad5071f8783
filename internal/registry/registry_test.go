package registry

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeBin(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestResolvePlainName(t *testing.T) {
	dir := t.TempDir()
	want := writeBin(t, dir, "desktop-backend", 0o755)
	r := &Registry{Dir: dir}
	got, err := r.Resolve("desktop-backend")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestResolveTripleSuffix(t *testing.T) {
	triple := TargetTriple()
	if triple == "" {
		t.Skip("no target triple for this platform")
	}
	dir := t.TempDir()
	want := writeBin(t, dir, "desktop-backend-"+triple, 0o755)
	got, err := (&Registry{Dir: dir}).Resolve("desktop-backend")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestResolveMissing(t *testing.T) {
	_, err := (&Registry{Dir: t.TempDir()}).Resolve("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRejectsPaths(t *testing.T) {
	r := &Registry{Dir: t.TempDir()}
	for _, name := range []string{"", ".", "..", "../sh", "/bin/sh", `a\b`, "a b"} {
		if _, err := r.Resolve(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestResolveSkipsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("execute bit is a Unix concept")
	}
	dir := t.TempDir()
	writeBin(t, dir, "backend", 0o644)
	if _, err := (&Registry{Dir: dir}).Resolve("backend"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-executable file, got %v", err)
	}
}

func TestResolveSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "backend"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := (&Registry{Dir: dir}).Resolve("backend"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}
