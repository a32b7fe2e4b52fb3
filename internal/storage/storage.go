// Package storage keeps uploaded images on the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxSuffix bounds the collision suffixes tried for one name.
const maxSuffix = 100

// ErrInvalidName is returned for names that would escape the base directory.
var ErrInvalidName = errors.New("invalid file name")

// LocalStorage stores files under a single directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates basePath if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// BasePath returns the storage directory.
func (l *LocalStorage) BasePath() string {
	return l.basePath
}

// Save writes data under filename without ever replacing an existing file.
// If filename is taken, "_1", "_2", ... is inserted before the extension.
// It returns the name actually used.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	if err := validateName(filename); err != nil {
		return "", err
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	name := filename
	for i := 1; ; i++ {
		err := l.create(name, data)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		if i > maxSuffix {
			return "", fmt.Errorf("no free name for %s after %d attempts", filename, maxSuffix)
		}
		name = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

func (l *LocalStorage) create(name string, data []byte) error {
	f, err := os.OpenFile(filepath.Join(l.basePath, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("closing file: %w", err)
	}
	return nil
}

// Delete removes a stored file.
func (l *LocalStorage) Delete(filename string) error {
	if err := validateName(filename); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.basePath, filename)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
