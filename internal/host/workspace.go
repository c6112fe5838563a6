package host

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Workspace is the scoped working directory owned by exactly one host for
// the lifetime of one handin. Close removes it recursively; every exit path
// of the host must end in Close.
type Workspace struct {
	path string
}

// NewWorkspace creates the working directory keyed by the handin id under
// root.
func NewWorkspace(root, handinID string) (*Workspace, error) {
	dir := filepath.Join(root, handinID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{path: dir}, nil
}

// Path returns the workspace root directory.
func (w *Workspace) Path() string {
	return w.path
}

// FullPath resolves a slash-relative file name inside the workspace.
func (w *Workspace) FullPath(rel string) string {
	return filepath.Join(w.path, filepath.FromSlash(rel))
}

// CopyTree copies every regular file under src into the workspace,
// preserving relative structure.
func (w *Workspace) CopyTree(src string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		return w.WriteFile(filepath.ToSlash(rel), in)
	})
}

// WriteFile stores one file inside the workspace, creating parents as
// needed. rel must already be a reformed in-sandbox path.
func (w *Workspace) WriteFile(rel string, r io.Reader) error {
	dst := w.FullPath(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o700)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Chown hands the whole workspace tree over to the leased execution
// account, so the unprivileged process can read what was extracted.
func (w *Workspace) Chown(uid, gid uint32) error {
	return filepath.WalkDir(w.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(p, int(uid), int(gid))
	})
}

// Close deletes the workspace recursively.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.path)
}

var errUnsafePath = errors.New("path escapes the working directory")

// ReformPath canonicalizes an archive entry name into a safe slash-relative
// path. Crafted names that would escape the sandbox (absolute paths, drive
// letters, ".." traversal) are rejected rather than normalized away.
func ReformPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", errUnsafePath
	}
	if len(name) > 1 && name[1] == ':' {
		return "", errUnsafePath
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." ||
		strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", errUnsafePath
	}
	return cleaned, nil
}
