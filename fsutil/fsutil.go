// Package fsutil provides the small filesystem surface the resolver and
// hastemap packages need, backed by afero so production code and tests share
// one abstraction (os-backed in a real run, in-memory in tests).
package fsutil

import (
	"os"

	"github.com/spf13/afero"
)

// Fs is the filesystem interface consumed throughout this module.
type Fs = afero.Fs

// NewOsFs returns a filesystem backed by the real OS.
func NewOsFs() Fs { return afero.NewOsFs() }

// NewMemMapFs returns an in-memory filesystem, used in tests.
func NewMemMapFs() Fs { return afero.NewMemMapFs() }

// Exists reports whether path exists on fs.
func Exists(fs Fs, path string) (bool, error) { return afero.Exists(fs, path) }

// IsDir reports whether path exists and is a directory.
func IsDir(fs Fs, path string) (bool, error) { return afero.IsDir(fs, path) }

// IsFile reports whether path exists and is a regular file.
func IsFile(fs Fs, path string) (bool, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// ReadFile reads the whole file at path.
func ReadFile(fs Fs, path string) ([]byte, error) { return afero.ReadFile(fs, path) }

// WriteFile writes data to path, creating parent directories as needed.
func WriteFile(fs Fs, path string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(fs, path, data, perm)
}
