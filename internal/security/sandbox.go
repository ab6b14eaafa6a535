package security

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"localagent/internal/domain"
)

// Sandbox confines file operations to a single directory tree.
type Sandbox struct {
	root string // absolute, resolved workspace root
}

// NewSandbox creates a sandbox rooted at an existing directory.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved}, nil
}

// EnsureSandbox creates root (and parents) when missing, then opens it.
func EnsureSandbox(root string) (*Sandbox, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	return NewSandbox(root)
}

// Resolve maps a caller-supplied path to an absolute path inside the sandbox.
// Relative paths are taken relative to the root. Symlinks are resolved before
// the containment check, including links above directories that do not exist
// yet, so a link pointing outside the root is rejected.
func (s *Sandbox) Resolve(requested string) (string, error) {
	if requested == "" {
		return "", domain.NewSubSystemError("file", "Sandbox.Resolve", domain.ErrInvalidInput, "empty path")
	}
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(s.root, requested)
	}
	abs := filepath.Clean(requested)

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, err.Error())
		}
		// Missing directories under the root are created by writers.
		resolved, err = resolveMissing(abs)
		if err != nil {
			return "", err
		}
	}

	if !s.isWithinRoot(resolved) {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}

	return resolved, nil
}

// resolveMissing resolves the deepest existing ancestor of path and appends
// the missing components to it. An entry that exists but does not resolve is
// a dangling symlink and is rejected.
func resolveMissing(path string) (string, error) {
	var tail []string
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox,
				fmt.Sprintf("%q is a dangling symlink", cur))
		} else if !os.IsNotExist(err) {
			return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, err.Error())
		}
		tail = append(tail, filepath.Base(cur))

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox,
				fmt.Sprintf("no existing ancestor for %q", path))
		}
		cur = parent

		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			slices.Reverse(tail)
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, err.Error())
		}
	}
}

// Rel returns path relative to the sandbox root, using forward slashes.
func (s *Sandbox) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

func (s *Sandbox) isWithinRoot(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}
