// Package artifact holds compiled server bundles in memory.
//
// The store is the output filesystem of the watch-compile loop: each pass
// writes its artifact under a path key resolved from configuration, and the
// loader reads it back from the same key. Nothing is persisted to disk.
package artifact

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Artifact is the output of one successful compile pass. It is superseded by
// the next pass and never mutated.
type Artifact struct {
	PathKey  string
	Contents []byte
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int {
	return len(a.Contents)
}

// Store is an in-memory write target for compiled artifacts.
//
// Only the watch-compile loop writes, one pass at a time, so no ordering
// beyond last-write-wins is provided.
type Store struct {
	fs afero.Fs
}

// NewStore creates an empty store backed by volatile memory.
func NewStore() *Store {
	return &Store{fs: afero.NewMemMapFs()}
}

// Write replaces the contents stored under pathKey.
func (s *Store) Write(pathKey string, contents []byte) error {
	key := normalize(pathKey)
	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", path.Dir(key), err)
	}
	// afero.WriteFile truncates, so a shorter artifact never keeps a stale tail.
	if err := afero.WriteFile(s.fs, key, contents, 0o644); err != nil {
		return fmt.Errorf("writing artifact %s: %w", key, err)
	}
	return nil
}

// Read returns a copy of the bytes last written under pathKey. Unknown keys
// yield an error wrapping fs.ErrNotExist.
func (s *Store) Read(pathKey string) ([]byte, error) {
	key := normalize(pathKey)
	data, err := afero.ReadFile(s.fs, key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("reading artifact %s: %w", key, err)
	}
	return data, nil
}

// Load reads pathKey into an Artifact.
func (s *Store) Load(pathKey string) (*Artifact, error) {
	data, err := s.Read(pathKey)
	if err != nil {
		return nil, err
	}
	return &Artifact{PathKey: normalize(pathKey), Contents: data}, nil
}

// Exists reports whether anything has been written under pathKey.
func (s *Store) Exists(pathKey string) bool {
	ok, err := afero.Exists(s.fs, normalize(pathKey))
	return err == nil && ok
}

// Remove deletes pathKey. Removing a missing key is not an error.
func (s *Store) Remove(pathKey string) error {
	err := s.fs.Remove(normalize(pathKey))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func normalize(pathKey string) string {
	return path.Join("/", pathKey)
}

// NamePlaceholder is replaced by the bundle name in output filename patterns.
const NamePlaceholder = "[name]"

// ResolvePath builds the path key for a bundle from the configured output
// directory and filename pattern.
func ResolvePath(outputPath, filenamePattern, name string) string {
	filename := strings.ReplaceAll(filenamePattern, NamePlaceholder, name)
	return path.Join("/", outputPath, filename)
}
