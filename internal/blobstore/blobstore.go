// Package blobstore writes attachment payloads to a content-addressed
// directory. File names are the sha256 of the decoded bytes followed by the
// original extension, so concurrent writers of the same payload produce the
// same file.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

type Store struct {
	fs  afero.Fs
	dir string
}

// New returns a store rooted at dir on fs, creating dir when missing
func New(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &Store{fs: fs, dir: dir}, nil
}

// NewOS returns a store on the local filesystem
func NewOS(dir string) (*Store, error) {
	return New(afero.NewOsFs(), dir)
}

// Digest returns the hex sha256 of data
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Name returns the storage file name for data with the extension of originalName
func Name(data []byte, originalName string) string {
	return Digest(data) + strings.ToLower(filepath.Ext(originalName))
}

// Write stores data and returns its path
func (s *Store) Write(originalName string, data []byte) (string, error) {
	path := filepath.Join(s.dir, Name(data, originalName))
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Read returns the stored bytes at path
func (s *Store) Read(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}
