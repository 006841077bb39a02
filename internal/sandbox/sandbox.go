// Package sandbox confines all file operations to a single root
// directory. Read-path resolution rejects any name that escapes the
// root (via .., absolute paths, or symlinks); the write path strips
// directory components instead, so a hostile filename degrades to a
// plain name inside the root.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andmartins7/docket/internal/extract"
)

// ErrNotFound reports a file that does not exist inside the sandbox.
var ErrNotFound = errors.New("file not found")

// ViolationError reports an attempted escape from the sandbox root.
type ViolationError struct {
	Name string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("path escapes sandbox root: %s", e.Name)
}

// Dir is a sandboxed directory.
type Dir struct {
	root string // absolute, symlink-resolved
}

// New creates the sandbox root if needed and returns a Dir confined
// to it.
func New(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("sandbox path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	// Resolve symlinks in the root itself so containment checks
	// compare like with like.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	return &Dir{root: resolved}, nil
}

// Root returns the absolute sandbox root.
func (d *Dir) Root() string {
	return d.root
}

// Resolve maps name to an absolute path and verifies it stays inside
// the root. Absolute names, ".." traversal, and symlinks pointing
// outside the root are all rejected identically.
func (d *Dir) Resolve(name string) (string, error) {
	candidate := name
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(d.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !d.contains(candidate) {
		return "", &ViolationError{Name: name}
	}

	// A symlink inside the root may still point outside it.
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		if !d.contains(resolved) {
			return "", &ViolationError{Name: name}
		}
		candidate = resolved
	}

	return candidate, nil
}

func (d *Dir) contains(path string) bool {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// List returns the sorted names of regular files in the root.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read sandbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ReadText resolves name and returns its extracted plain text.
// Returns ErrNotFound if the file does not exist.
func (d *Dir) ReadText(name string) (string, error) {
	path, err := d.Resolve(name)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return extract.Text(path)
}

// Save writes content under the root, stripping any directory
// component from name first. Overwrites an existing file. Returns the
// name actually written.
func (d *Dir) Save(name, content string) (string, error) {
	safe := filepath.Base(filepath.Clean(name))
	if safe == "." || safe == string(os.PathSeparator) || safe == ".." || safe == "" {
		return "", &ViolationError{Name: name}
	}

	path := filepath.Join(d.root, safe)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", safe, err)
	}
	return safe, nil
}
