package storage

import (
	"errors"
	"testing"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStorageFS(t *testing.T) {
	s, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)

	_, err = Get(s, ContainerImageData, "index.tsv")
	require.True(t, errors.Is(err, errs.ErrNotFound))

	require.NoError(t, Put(s, ContainerImageData, "original/a_0.bin", []byte{1, 2, 3}))
	b, err := Get(s, ContainerImageData, "original/a_0.bin")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)

	require.NoError(t, Put(s, ContainerImageData, "original/a_0.bin", []byte{4}))
	b, err = ReadFile(s, "image-data/original/a_0.bin")
	require.NoError(t, err)
	require.Equal(t, []byte{4}, b)

	require.NoError(t, s.DeleteFile(Key(ContainerImageData, "original/a_0.bin")))
	require.True(t, errors.Is(s.DeleteFile(Key(ContainerImageData, "original/a_0.bin")), errs.ErrNotFound))

	_, err = s.ReadFile("../escape")
	require.True(t, errors.Is(err, errs.ErrValidation))
}

func TestUnclosedWriteIsInvisible(t *testing.T) {
	s, err := NewStorageFS(logs.NewTestingLog(t), t.TempDir())
	require.NoError(t, err)
	w, err := s.WriteFile("x/y.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	_, err = ReadFile(s, "x/y.bin")
	require.True(t, errors.Is(err, errs.ErrNotFound))
	require.NoError(t, w.Close())
	b, err := ReadFile(s, "x/y.bin")
	require.NoError(t, err)
	require.Equal(t, "partial", string(b))
}
