/**
 * @description
 * Blob storage for uploaded PDFs and cover thumbnails. Objects are addressed by a
 * relative locator such as "pdfs/1700000000_notes.pdf" and live on an afero.Fs,
 * which is the OS filesystem rooted at UPLOAD_DIR in production and a memory
 * filesystem in tests.
 *
 * @dependencies
 * - github.com/spf13/afero: Filesystem abstraction.
 */

package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

var (
	ErrNotFound       = errors.New("blob not found")
	ErrInvalidLocator = errors.New("invalid blob locator")
)

// Object is an open blob. Callers must Close it.
type Object struct {
	afero.File
	Size int64
}

// Store reads and writes blobs on a filesystem.
type Store struct {
	fs afero.Fs
}

// NewStore wraps an existing filesystem.
func NewStore(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOSStore returns a store rooted at dir on the local disk, creating it if needed.
func NewOSStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %q: %w", dir, err)
	}
	return NewStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewMemoryStore returns a store backed by memory.
func NewMemoryStore() *Store {
	return NewStore(afero.NewMemMapFs())
}

func cleanLocator(locator string) (string, error) {
	if locator == "" || strings.HasPrefix(locator, "/") || strings.Contains(locator, `\`) {
		return "", ErrInvalidLocator
	}
	cleaned := path.Clean(locator)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidLocator
	}
	return cleaned, nil
}

// Put writes r to locator, replacing any existing object, and returns the byte count.
// A partially written object is removed on failure.
func (s *Store) Put(locator string, r io.Reader) (int64, error) {
	name, err := cleanLocator(locator)
	if err != nil {
		return 0, err
	}
	if dir := path.Dir(name); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}

	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(name)
		return 0, err
	}
	return n, nil
}

// Open returns the object at locator with its size.
func (s *Store) Open(locator string) (*Object, error) {
	name, err := cleanLocator(locator)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return &Object{File: f, Size: info.Size()}, nil
}

// Exists reports whether an object is stored at locator.
func (s *Store) Exists(locator string) (bool, error) {
	name, err := cleanLocator(locator)
	if err != nil {
		return false, err
	}
	info, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// Delete removes the object at locator. Deleting a missing object is not an error.
func (s *Store) Delete(locator string) error {
	name, err := cleanLocator(locator)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
