// Package imagedata stores labelled glyph images in the blob store.
//
// Images of one label are packed 32 to a file, and files are named after
// the number of their first image, so image 40 of label "A" lives in
// original/A_32.bin. Every original file has a matching standard/ file
// with the same images after standardization (8 bytes each).
//
// index.tsv lists every label, with its image encoding and its last file:
//
//	Label	Type	Height	Width	Last File
//	0	G	28	28	32
//	A	B	16	16	64
package imagedata

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/logs"
)

const MaxImagesPerFile = 32

// Blob key prefixes within the image-data container
const (
	PrefixOriginal = "original/"
	PrefixStandard = "standard/"
)

const indexKey = "index.tsv"
const indexHeader = "Label\tType\tHeight\tWidth\tLast File"

// LabelStats describes the images of one label
type LabelStats struct {
	Label    string `json:"label"`
	Type     string `json:"type"`
	Height   int    `json:"height"`
	Width    int    `json:"width"`
	LastFile int    `json:"lastFile"` // number of the first image in the last file
}

func (s *LabelStats) BytesPerImage() int {
	n, _ := bitimage.BytesPerImage(s.Type, s.Height, s.Width)
	return n
}

// FileNumber rounds an image number down to the number of the file that holds it
func FileNumber(imageNumber int) int {
	return imageNumber / MaxImagesPerFile * MaxImagesPerFile
}

func fileKey(prefix, label string, fileNumber int) string {
	return fmt.Sprintf("%v%v_%v.bin", prefix, label, fileNumber)
}

// LabelIndex is the in-memory copy of index.tsv, plus the operations that
// read and write image files. Call Load before using it.
type LabelIndex struct {
	Log   logs.Log
	store storage.Storage

	// Serializes operations that add images, so that two writers never
	// append to the same file at once.
	writeLock sync.Mutex

	lock   sync.RWMutex
	labels map[string]*LabelStats
	order  []string // labels in index.tsv order
}

func NewLabelIndex(log logs.Log, store storage.Storage) *LabelIndex {
	return &LabelIndex{
		Log:    log,
		store:  store,
		labels: map[string]*LabelStats{},
	}
}

// Load reads index.tsv. A missing index.tsv is an empty index.
func (x *LabelIndex) Load() error {
	return x.Refresh()
}

// Refresh replaces the in-memory index with the content of index.tsv
func (x *LabelIndex) Refresh() error {
	raw, err := storage.Get(x.store, storage.ContainerImageData, indexKey)
	if errors.Is(err, errs.ErrNotFound) {
		raw = nil
	} else if err != nil {
		return err
	}
	labels, order, err := parseIndex(string(raw))
	if err != nil {
		return err
	}
	x.lock.Lock()
	x.labels = labels
	x.order = order
	x.lock.Unlock()
	x.Log.Infof("Loaded image index with %v labels", len(order))
	return nil
}

func parseIndex(s string) (map[string]*LabelStats, []string, error) {
	labels := map[string]*LabelStats{}
	order := []string{}
	for i, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || (i == 0 && strings.HasPrefix(line, "Label\t")) {
			continue
		}
		tokens := strings.Split(line, "\t")
		if len(tokens) != 5 {
			return nil, nil, errs.Corruptf("index.tsv line %v has %v fields", i+1, len(tokens))
		}
		e := &LabelStats{
			Label: tokens[0],
			Type:  strings.TrimSpace(tokens[1]),
		}
		var err1, err2, err3 error
		e.Height, err1 = strconv.Atoi(strings.TrimSpace(tokens[2]))
		e.Width, err2 = strconv.Atoi(strings.TrimSpace(tokens[3]))
		e.LastFile, err3 = strconv.Atoi(strings.TrimSpace(tokens[4]))
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, nil, errs.Corruptf("index.tsv line %v: %v", i+1, err)
		}
		if err := template.ValidLabel(e.Label); err != nil {
			return nil, nil, errs.Corruptf("index.tsv line %v: %v", i+1, err)
		}
		if err := validShape(e.Type, e.Height, e.Width); err != nil {
			return nil, nil, errs.Corruptf("index.tsv line %v: %v", i+1, err)
		}
		if e.LastFile < 0 || e.LastFile%MaxImagesPerFile != 0 {
			return nil, nil, errs.Corruptf("index.tsv line %v: invalid last file %v", i+1, e.LastFile)
		}
		if labels[e.Label] == nil {
			order = append(order, e.Label)
		}
		labels[e.Label] = e
	}
	return labels, order, nil
}

func formatIndex(labels map[string]*LabelStats, order []string) string {
	sb := strings.Builder{}
	sb.WriteString(indexHeader)
	sb.WriteByte('\n')
	for _, label := range order {
		e := labels[label]
		fmt.Fprintf(&sb, "%v\t%v\t%v\t%v\t%v\n", e.Label, e.Type, e.Height, e.Width, e.LastFile)
	}
	return sb.String()
}

func validShape(imageType string, height, width int) error {
	if _, err := bitimage.BytesPerImage(imageType, height, width); err != nil {
		return err
	}
	if height <= 0 || width <= 0 || height > template.MaxDimension || width > template.MaxDimension {
		return errs.Validationf("invalid image size %v x %v", width, height)
	}
	return nil
}

// Labels returns all labels, in index order
func (x *LabelIndex) Labels() []string {
	x.lock.RLock()
	defer x.lock.RUnlock()
	return append([]string{}, x.order...)
}

// Stats returns the stats of label, or false if the label has no images
func (x *LabelIndex) Stats(label string) (LabelStats, bool) {
	x.lock.RLock()
	defer x.lock.RUnlock()
	e := x.labels[label]
	if e == nil {
		return LabelStats{}, false
	}
	return *e, true
}

// AllStats returns the stats of every label, in index order
func (x *LabelIndex) AllStats() []LabelStats {
	x.lock.RLock()
	defer x.lock.RUnlock()
	out := make([]LabelStats, 0, len(x.order))
	for _, label := range x.order {
		out = append(out, *x.labels[label])
	}
	return out
}

func (x *LabelIndex) mustStats(label string) (LabelStats, error) {
	st, ok := x.Stats(label)
	if !ok {
		return st, errs.NotFoundf("label '%v'", label)
	}
	return st, nil
}

// setStats updates one label and writes index.tsv. Caller must hold writeLock.
// The in-memory index only changes once index.tsv has been written.
func (x *LabelIndex) setStats(st LabelStats) error {
	x.lock.RLock()
	labels := maps.Clone(x.labels)
	order := slices.Clone(x.order)
	x.lock.RUnlock()
	if labels[st.Label] == nil {
		order = append(order, st.Label)
	}
	labels[st.Label] = &st
	if err := storage.Put(x.store, storage.ContainerImageData, indexKey, []byte(formatIndex(labels, order))); err != nil {
		return err
	}
	x.lock.Lock()
	x.labels = labels
	x.order = order
	x.lock.Unlock()
	return nil
}
