package main

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeIDX(magic uint32, dims []int, body []byte) []byte {
	b := binary.BigEndian.AppendUint32(nil, magic)
	for _, d := range dims {
		b = binary.BigEndian.AppendUint32(b, uint32(d))
	}
	return append(b, body...)
}

func TestParseIDX(t *testing.T) {
	// three 2x2 images
	pixels := []byte{
		1, 1, 1, 1,
		2, 2, 2, 2,
		3, 3, 3, 3,
	}
	im, err := parseIDXImages(makeIDX(idxMagicImages, []int{3, 2, 2}, pixels))
	require.NoError(t, err)
	require.Equal(t, 3, im.Count)
	require.Equal(t, 2, im.Height)

	labels, err := parseIDXLabels(makeIDX(idxMagicLabels, []int{3}, []byte{7, 0, 7}))
	require.NoError(t, err)

	order, byLabel, err := groupIDX(im, labels, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"7", "0"}, order)
	require.Equal(t, []byte{1, 1, 1, 1, 3, 3, 3, 3}, byLabel["7"])
	require.Equal(t, []byte{2, 2, 2, 2}, byLabel["0"])

	order, byLabel, err = groupIDX(im, labels, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"7", "0"}, order)
	require.Len(t, byLabel["7"], 4)

	_, err = parseIDXImages(makeIDX(idxMagicImages, []int{3, 2, 2}, pixels[:11]))
	require.Error(t, err)
	_, err = parseIDXImages(makeIDX(idxMagicLabels, []int{3, 2, 2}, pixels))
	require.Error(t, err)
	_, _, err = groupIDX(im, labels[:2], 0)
	require.Error(t, err)
}

func TestSideBySide(t *testing.T) {
	require.Equal(t, "ab   12\ncd   34\n", sideBySide("ab\ncd\n", "12\n34\n"))
	require.Equal(t, "ab\ncd\n", sideBySide("ab\ncd\n", ""))
}
