// Package storage is the blob store that holds all of the glyph server's
// persistent data: image files, candidate sets, template collections and indices.
//
// Blobs are addressed by a container and a key within that container.
package storage

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/cyclopcam/glyphs/pkg/errs"
)

// Containers
const (
	ContainerImageData   = "image-data"
	ContainerRecognition = "char-recognition"
)

// Storage is an abstraction of a blob store (eg GCS).
// Reading a blob that does not exist returns an error wrapping errs.ErrNotFound.
type Storage interface {
	// When finished, you must close the WriteCloser.
	// The blob only becomes visible once the writer is closed without error.
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

// Key joins a container and a key into a blob name
func Key(container, key string) string {
	return container + "/" + strings.TrimPrefix(key, "/")
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return errs.Validationf("invalid blob name '%v'", name)
	}
	return nil
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// Get reads a whole blob
func Get(s Storage, container, key string) ([]byte, error) {
	return ReadFile(s, Key(container, key))
}

// Put writes a whole blob, replacing any previous content
func Put(s Storage, container, key string, data []byte) error {
	return WriteFile(s, Key(container, key), bytes.NewReader(data))
}
