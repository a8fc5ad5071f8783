// Package paths resolves the per-user storage location of the desktop backend
// and derives the connection string handed to it.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultIdentifier names the application data directory under the platform root.
	DefaultIdentifier = "com.itcert.desktop"
	// DefaultDatabaseFile is the backend's persistent store inside the storage location.
	DefaultDatabaseFile = "itcert.db"
	// ConnectionScheme prefixes every connection string.
	ConnectionScheme = "file:"
)

// StorageLocation is a per-user application data directory. Values must be
// absolute and cleaned (as returned by Resolver); ConnectionStringFor is only
// one-to-one over cleaned paths, since "/a" and "/a/" join to the same file.
type StorageLocation string

// String returns the location as a filesystem path.
func (l StorageLocation) String() string { return string(l) }

// Join returns a path below the storage location.
func (l StorageLocation) Join(elem ...string) string {
	return filepath.Join(append([]string{string(l)}, elem...)...)
}

// ConnectionString is the data store URL passed to the backend.
type ConnectionString string

func (c ConnectionString) String() string { return string(c) }

// PathResolutionError reports that no per-user application directory could be determined.
type PathResolutionError struct {
	Err error
}

func (e *PathResolutionError) Error() string {
	return "resolve app data dir: " + e.Err.Error()
}

func (e *PathResolutionError) Unwrap() error { return e.Err }

// DirectoryCreateError reports that the resolved directory could not be created.
type DirectoryCreateError struct {
	Path string
	Err  error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("create app data dir %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error { return e.Err }

// Resolver computes the storage location. Root overrides the platform data root.
type Resolver struct {
	Identifier string
	Root       string
}

// Resolve computes the storage location without touching the filesystem.
func (r *Resolver) Resolve() (StorageLocation, error) {
	id := r.Identifier
	if id == "" {
		id = DefaultIdentifier
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", &PathResolutionError{Err: fmt.Errorf("invalid identifier %q", id)}
	}
	root := r.Root
	if root == "" {
		var err error
		root, err = dataRoot()
		if err != nil {
			return "", &PathResolutionError{Err: err}
		}
	}
	abs, err := filepath.Abs(filepath.Join(root, id))
	if err != nil {
		return "", &PathResolutionError{Err: err}
	}
	return StorageLocation(abs), nil
}

// Ensure resolves the storage location and creates it if missing.
// Creating an existing directory is not an error.
func (r *Resolver) Ensure() (StorageLocation, error) {
	loc, err := r.Resolve()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(string(loc), 0o750); err != nil {
		return "", &DirectoryCreateError{Path: string(loc), Err: err}
	}
	return loc, nil
}

// ConnectionStringFor derives the backend connection string for file inside loc.
func ConnectionStringFor(loc StorageLocation, file string) ConnectionString {
	if file == "" {
		file = DefaultDatabaseFile
	}
	return ConnectionString(ConnectionScheme + loc.Join(file))
}

var errNoHome = errors.New("home directory is not set")

func homeDir() (string, error) {
	h, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if h == "" {
		return "", errNoHome
	}
	return h, nil
}
