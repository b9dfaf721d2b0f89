// Package tools wraps the deterministic capabilities exposed to agents:
// project file access, unified-diff application, the validator, the
// typecheck/lint/unit check suite, and snapshot creation.
package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPathEscapesRoot is returned for any path that would resolve outside
// the project root.
var ErrPathEscapesRoot = errors.New("path escapes project root")

// RepoTools provides file access jailed to a project root directory.
type RepoTools struct {
	root string
}

// NewRepoTools creates repo tools rooted at dir.
func NewRepoTools(dir string) *RepoTools {
	return &RepoTools{root: filepath.Clean(dir)}
}

// Root returns the project root path.
func (r *RepoTools) Root() string { return r.root }

// resolve maps a project-relative path to an absolute one, refusing
// absolute inputs and any traversal out of the root.
func (r *RepoTools) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathEscapesRoot)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathEscapesRoot)
	}
	return filepath.Join(r.root, clean), nil
}

// ReadFile returns the contents of a project-relative file. Missing files
// return an empty string with ok=false rather than an error: agents read
// expected files that may not exist yet.
func (r *RepoTools) ReadFile(rel string) (string, bool, error) {
	abs, err := r.resolve(rel)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %s: %w", rel, err)
	}
	return string(data), true, nil
}

// ReadFiles reads up to limit project-relative files, skipping ones that do
// not exist. The result preserves input order.
func (r *RepoTools) ReadFiles(paths []string, limit int) (map[string]string, error) {
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		content, ok, err := r.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if ok {
			out[p] = content
		}
	}
	return out, nil
}

// ListFiles walks the project root and returns the relative paths of every
// file whose name ends in one of exts, sorted. Dot-directories are skipped.
func (r *RepoTools) ListFiles(exts ...string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != r.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		for _, ext := range exts {
			if strings.HasSuffix(d.Name(), ext) {
				rel, err := filepath.Rel(r.root, path)
				if err != nil {
					return err
				}
				out = append(out, filepath.ToSlash(rel))
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing project files: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// writeFile writes a project-relative file, creating parent directories.
// Unexported: all agent-driven writes go through ApplyPatch.
func (r *RepoTools) writeFile(rel, content string) error {
	abs, err := r.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating directories for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}
