package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/logs"
)

// StorageFS is a filesystem-based blob store
type StorageFS struct {
	Root string
	log  logs.Log
}

func NewStorageFS(log logs.Log, root string) (*StorageFS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create root directory %v (relative path %v): %w", absRoot, root, err)
	}
	return &StorageFS{
		Root: absRoot,
		log:  log,
	}, nil
}

// Writes go to a temporary file, which is renamed over the final name on Close.
// Readers never see a partially written blob.
type fsWriter struct {
	*os.File
	final string
}

func (w *fsWriter) Close() error {
	if err := w.File.Close(); err != nil {
		os.Remove(w.File.Name())
		return err
	}
	return os.Rename(w.File.Name(), w.final)
}

func (s *StorageFS) WriteFile(name string) (io.WriteCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.log.Debugf("Writing file %v", name)
	fullPath := filepath.Join(s.Root, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &fsWriter{File: f, final: fullPath}, nil
}

func (s *StorageFS) ReadFile(name string) (*File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.Root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.NotFoundf("%v", name)
	} else if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &File{
		Reader:     file,
		ModifiedAt: st.ModTime(),
		Size:       st.Size(),
	}, nil
}

func (s *StorageFS) DeleteFile(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.log.Infof("Deleting file %v", name)
	err := os.Remove(filepath.Join(s.Root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return errs.NotFoundf("%v", name)
	}
	return err
}
