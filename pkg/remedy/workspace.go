package remedy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the file surface a fix may edit.
type Workspace interface {
	// ReadFile returns the content of path.
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces the content of path.
	WriteFile(path string, data []byte) error
}

// DirWorkspace confines all reads and writes to one directory tree.
// Paths from diagnostics are untrusted, so anything resolving outside
// the root is rejected.
type DirWorkspace struct {
	root string
}

// NewDirWorkspace creates a workspace rooted at dir.
func NewDirWorkspace(dir string) (*DirWorkspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &DirWorkspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *DirWorkspace) Root() string {
	return w.root
}

// ReadFile returns the content of path, which must resolve inside the
// workspace.
func (w *DirWorkspace) ReadFile(path string) ([]byte, error) {
	resolved, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile replaces the content of path, which must resolve inside the
// workspace.
func (w *DirWorkspace) WriteFile(path string, data []byte) error {
	resolved, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(resolved, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (w *DirWorkspace) resolve(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(w.root, resolved)
	}
	resolved = filepath.Clean(resolved)
	if resolved != w.root && !strings.HasPrefix(resolved, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", path)
	}
	return resolved, nil
}
