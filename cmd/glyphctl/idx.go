package main

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/server/imagedata"
)

// IDX magic numbers: unsigned bytes, with 3 or 1 dimensions
const (
	idxMagicImages = 0x00000803
	idxMagicLabels = 0x00000801
)

// idxImages is the content of an IDX image file
type idxImages struct {
	Count  int
	Height int
	Width  int
	Pixels []byte
}

func readMaybeGzip(filename string) ([]byte, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(filename, ".gz") {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func parseIDXImages(raw []byte) (*idxImages, error) {
	if len(raw) < 16 || binary.BigEndian.Uint32(raw) != idxMagicImages {
		return nil, fmt.Errorf("Not an IDX image file")
	}
	im := &idxImages{
		Count:  int(binary.BigEndian.Uint32(raw[4:])),
		Height: int(binary.BigEndian.Uint32(raw[8:])),
		Width:  int(binary.BigEndian.Uint32(raw[12:])),
	}
	if len(raw)-16 != im.Count*im.Height*im.Width {
		return nil, fmt.Errorf("IDX image file has %v bytes of pixels, but header says %v x %v x %v", len(raw)-16, im.Count, im.Height, im.Width)
	}
	im.Pixels = raw[16:]
	return im, nil
}

func parseIDXLabels(raw []byte) ([]byte, error) {
	if len(raw) < 8 || binary.BigEndian.Uint32(raw) != idxMagicLabels {
		return nil, fmt.Errorf("Not an IDX label file")
	}
	n := int(binary.BigEndian.Uint32(raw[4:]))
	if len(raw)-8 != n {
		return nil, fmt.Errorf("IDX label file has %v labels, but header says %v", len(raw)-8, n)
	}
	return raw[8:], nil
}

// groupIDX concatenates the images of each label, in order of first appearance
func groupIDX(im *idxImages, labels []byte, limit int) ([]string, map[string][]byte, error) {
	if len(labels) != im.Count {
		return nil, nil, fmt.Errorf("%v images, but %v labels", im.Count, len(labels))
	}
	n := im.Count
	if limit > 0 {
		n = min(n, limit)
	}
	bpi := im.Height * im.Width
	order := []string{}
	byLabel := map[string][]byte{}
	for i := 0; i < n; i++ {
		label := strconv.Itoa(int(labels[i]))
		if _, ok := byLabel[label]; !ok {
			order = append(order, label)
		}
		byLabel[label] = append(byLabel[label], im.Pixels[i*bpi:(i+1)*bpi]...)
	}
	return order, byLabel, nil
}

func ingestIDX(index *imagedata.LabelIndex, imagesFile, labelsFile string, limit int) error {
	rawImages, err := readMaybeGzip(imagesFile)
	if err != nil {
		return err
	}
	rawLabels, err := readMaybeGzip(labelsFile)
	if err != nil {
		return err
	}
	im, err := parseIDXImages(rawImages)
	if err != nil {
		return err
	}
	labels, err := parseIDXLabels(rawLabels)
	if err != nil {
		return err
	}
	order, byLabel, err := groupIDX(im, labels, limit)
	if err != nil {
		return err
	}
	for _, label := range order {
		files, err := index.AddImages(label, bitimage.TypeGrayscale, im.Height, im.Width, byLabel[label])
		if err != nil {
			return fmt.Errorf("Adding images of '%v': %w", label, err)
		}
		fmt.Printf("Added %v images of '%v' (files %v)\n", len(byLabel[label])/(im.Height*im.Width), label, files)
	}
	return nil
}
