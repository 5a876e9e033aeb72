package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/bibcite/internal/apperr"
	"github.com/starford/bibcite/internal/checksum"
	"github.com/starford/bibcite/internal/models"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FS implements Provider backed by one directory of files sharing an
// extension, e.g. "*.csl".
type FS struct {
	root string // absolute path to the asset directory
	ext  string // including the dot
}

// NewFS creates a provider rooted at dir, creating the directory if needed.
func NewFS(root, ext string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &FS{root: abs, ext: ext}, nil
}

// Root returns the asset directory.
func (f *FS) Root() string { return f.root }

// ValidName reports whether name can address an asset.
func ValidName(name string) bool {
	return nameRe.MatchString(name) && !strings.Contains(name, "..")
}

// path resolves an asset name to its file and rejects anything that could
// escape the root.
func (f *FS) path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("storage: %w: %q", apperr.ErrInvalidName, name)
	}
	abs := filepath.Join(f.root, name+f.ext)
	if filepath.Dir(abs) != f.root {
		return "", fmt.Errorf("storage: %w: %q", apperr.ErrInvalidName, name)
	}
	return abs, nil
}

// List returns every asset directly under the root.
func (f *FS) List() ([]models.Asset, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	var out []models.Asset
	for _, d := range entries {
		name, ok := strings.CutSuffix(d.Name(), f.ext)
		if d.IsDir() || !ok || !ValidName(name) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			return nil, fmt.Errorf("storage: stat %s: %w", d.Name(), err)
		}
		data, err := os.ReadFile(filepath.Join(f.root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("storage: read %s: %w", d.Name(), err)
		}
		out = append(out, models.Asset{
			Name:      name,
			Checksum:  checksum.Sum(data),
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Read returns the raw bytes of an asset. A missing asset yields
// apperr.ErrNotFound.
func (f *FS) Read(name string) ([]byte, error) {
	abs, err := f.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: read %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(name string, content []byte) error {
	abs, err := f.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, ".bibcite-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes an asset.
func (f *FS) Delete(name string) error {
	abs, err := f.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

var _ Provider = (*FS)(nil)
