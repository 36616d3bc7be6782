package imagedata

import (
	"errors"
	"slices"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/server/storage"
	"golang.org/x/sync/errgroup"
)

// Maximum number of files written concurrently by AddImages
const uploadConcurrency = 8

func (x *LabelIndex) get(key string) ([]byte, error) {
	return storage.Get(x.store, storage.ContainerImageData, key)
}

func (x *LabelIndex) put(key string, data []byte) error {
	return storage.Put(x.store, storage.ContainerImageData, key, data)
}

// getOrEmpty treats a missing file as empty
func (x *LabelIndex) getOrEmpty(key string) ([]byte, error) {
	b, err := x.get(key)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// checkNewImages validates a request to add images to label, and returns the
// stats the label will have (for a new label, LastFile is 0).
func (x *LabelIndex) checkNewImages(label, imageType string, height, width int) (LabelStats, bool, error) {
	if err := template.ValidLabel(label); err != nil {
		return LabelStats{}, false, err
	}
	if err := validShape(imageType, height, width); err != nil {
		return LabelStats{}, false, err
	}
	st, exists := x.Stats(label)
	if !exists {
		return LabelStats{Label: label, Type: imageType, Height: height, Width: width}, false, nil
	}
	if st.Type != imageType || st.Height != height || st.Width != width {
		return st, true, errs.Validationf("label '%v' holds %v %v x %v images, not %v %v x %v", label, st.Type, st.Width, st.Height, imageType, width, height)
	}
	return st, true, nil
}

func standardizeOne(st *LabelStats, buf []byte, offset int) ([]byte, error) {
	g, err := bitimage.Decode(st.Type, st.Height, st.Width, buf, offset)
	if err != nil {
		return nil, err
	}
	return bitimage.Pack(bitimage.Standardize(g)), nil
}

// AddImage adds a single image to label, and returns its image number.
// The standardized image is added to the matching standard file.
func (x *LabelIndex) AddImage(label, imageType string, height, width int, image []byte) (int, error) {
	x.writeLock.Lock()
	defer x.writeLock.Unlock()

	st, exists, err := x.checkNewImages(label, imageType, height, width)
	if err != nil {
		return 0, err
	}
	bpi := st.BytesPerImage()
	if len(image) != bpi {
		return 0, errs.Validationf("image is %v bytes, but a %v %v x %v image is %v bytes", len(image), imageType, width, height, bpi)
	}
	std, err := standardizeOne(&st, image, 0)
	if err != nil {
		return 0, err
	}

	var existing []byte
	if exists {
		if existing, err = x.getOrEmpty(fileKey(PrefixOriginal, label, st.LastFile)); err != nil {
			return 0, err
		}
		if len(existing) >= bpi*MaxImagesPerFile {
			st.LastFile += MaxImagesPerFile
			existing = nil
		}
	}
	if len(existing)%bpi != 0 {
		return 0, errs.Corruptf("%v is %v bytes, which is not a whole number of images", fileKey(PrefixOriginal, label, st.LastFile), len(existing))
	}
	n := len(existing) / bpi
	if err := x.put(fileKey(PrefixOriginal, label, st.LastFile), append(existing, image...)); err != nil {
		return 0, err
	}

	stdKey := fileKey(PrefixStandard, label, st.LastFile)
	stdExisting, err := x.getOrEmpty(stdKey)
	if err != nil {
		return 0, err
	}
	if len(stdExisting) == n*bitimage.StandardBytes {
		err = x.put(stdKey, append(stdExisting, std...))
	} else {
		// The standard file is out of step with the original, so rebuild it
		_, err = x.standardizeFile(&st, st.LastFile)
	}
	if err != nil {
		return 0, err
	}

	if !exists || n == 0 {
		if err := x.setStats(st); err != nil {
			return 0, err
		}
	}
	return st.LastFile + n, nil
}

// AddImages adds many images (concatenated in data) to label, and returns the
// numbers of the files that were written. Files are standardized as they are written.
// The last partially filled file of the label is topped up with whole images
// first, then new files are written, and index.tsv is updated last.
func (x *LabelIndex) AddImages(label, imageType string, height, width int, data []byte) ([]int, error) {
	x.writeLock.Lock()
	defer x.writeLock.Unlock()

	st, exists, err := x.checkNewImages(label, imageType, height, width)
	if err != nil {
		return nil, err
	}
	bpi := st.BytesPerImage()
	if len(data)%bpi != 0 {
		return nil, errs.Validationf("%v bytes is not a whole number of %v byte images", len(data), bpi)
	}
	if len(data) == 0 {
		return nil, nil
	}
	fileBytes := bpi * MaxImagesPerFile

	type pendingFile struct {
		number  int
		content []byte
	}
	pending := []pendingFile{}
	offset := 0
	next := 0
	if exists {
		existing, err := x.getOrEmpty(fileKey(PrefixOriginal, label, st.LastFile))
		if err != nil {
			return nil, err
		}
		if len(existing)%bpi != 0 {
			return nil, errs.Corruptf("%v is %v bytes, which is not a whole number of images", fileKey(PrefixOriginal, label, st.LastFile), len(existing))
		}
		if free := fileBytes - len(existing); free > 0 {
			offset = min(free, len(data))
			pending = append(pending, pendingFile{st.LastFile, append(existing, data[:offset]...)})
		}
		next = st.LastFile + MaxImagesPerFile
	}
	for ; offset < len(data); next += MaxImagesPerFile {
		end := min(offset+fileBytes, len(data))
		pending = append(pending, pendingFile{next, data[offset:end]})
		offset = end
	}

	g := errgroup.Group{}
	g.SetLimit(uploadConcurrency)
	for _, f := range pending {
		g.Go(func() error {
			if err := x.put(fileKey(PrefixOriginal, label, f.number), f.content); err != nil {
				return err
			}
			_, err := x.standardizeBytes(&st, f.number, f.content)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := []int{}
	for _, f := range pending {
		files = append(files, f.number)
	}
	st.LastFile = slices.Max(files)
	if err := x.setStats(st); err != nil {
		return nil, err
	}
	x.Log.Infof("Added %v images to '%v' in %v files", len(data)/bpi, label, len(files))
	return files, nil
}

// StandardizeFile rebuilds the standard file that holds imageNumber from its
// original file, and returns the number of images in it.
func (x *LabelIndex) StandardizeFile(label string, imageNumber int) (int, error) {
	st, err := x.mustStats(label)
	if err != nil {
		return 0, err
	}
	return x.standardizeFile(&st, FileNumber(imageNumber))
}

func (x *LabelIndex) standardizeFile(st *LabelStats, fileNumber int) (int, error) {
	original, err := x.get(fileKey(PrefixOriginal, st.Label, fileNumber))
	if err != nil {
		return 0, err
	}
	return x.standardizeBytes(st, fileNumber, original)
}

func (x *LabelIndex) standardizeBytes(st *LabelStats, fileNumber int, original []byte) (int, error) {
	bpi := st.BytesPerImage()
	if len(original)%bpi != 0 {
		return 0, errs.Corruptf("%v is %v bytes, which is not a whole number of images", fileKey(PrefixOriginal, st.Label, fileNumber), len(original))
	}
	n := len(original) / bpi
	out := make([]byte, 0, n*bitimage.StandardBytes)
	for i := 0; i < n; i++ {
		std, err := standardizeOne(st, original, i*bpi)
		if err != nil {
			return 0, err
		}
		out = append(out, std...)
	}
	return n, x.put(fileKey(PrefixStandard, st.Label, fileNumber), out)
}

func bytesPerImage(prefix string, st *LabelStats) (int, error) {
	switch prefix {
	case PrefixOriginal:
		return st.BytesPerImage(), nil
	case PrefixStandard:
		return bitimage.StandardBytes, nil
	}
	return 0, errs.Validationf("unknown image prefix '%v'", prefix)
}

// LabelBytes returns the whole file that holds imageNumber
func (x *LabelIndex) LabelBytes(prefix, label string, imageNumber int) ([]byte, error) {
	st, err := x.mustStats(label)
	if err != nil {
		return nil, err
	}
	if _, err := bytesPerImage(prefix, &st); err != nil {
		return nil, err
	}
	if imageNumber < 0 || FileNumber(imageNumber) > st.LastFile {
		return nil, errs.NotFoundf("image %v of label '%v'", imageNumber, label)
	}
	return x.get(fileKey(prefix, label, FileNumber(imageNumber)))
}

// LabelBytesByNumbers returns the concatenated images of label with the given numbers.
// Numbers should be sorted, so that each file is only read once.
func (x *LabelIndex) LabelBytesByNumbers(prefix, label string, sortedNumbers []int) ([]byte, error) {
	st, err := x.mustStats(label)
	if err != nil {
		return nil, err
	}
	bpi, err := bytesPerImage(prefix, &st)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sortedNumbers)*bpi)
	currentFile := -1
	var current []byte
	for _, n := range sortedNumbers {
		file := FileNumber(n)
		if n < 0 || file > st.LastFile {
			return nil, errs.NotFoundf("image %v of label '%v'", n, label)
		}
		if file != currentFile {
			if current, err = x.get(fileKey(prefix, label, file)); err != nil {
				return nil, err
			}
			currentFile = file
		}
		start := (n - file) * bpi
		if start+bpi > len(current) {
			return nil, errs.NotFoundf("image %v of label '%v'", n, label)
		}
		out = append(out, current[start:start+bpi]...)
	}
	return out, nil
}

// ImageCount returns the number of images of label, by reading its last file
func (x *LabelIndex) ImageCount(label string) (int, error) {
	st, err := x.mustStats(label)
	if err != nil {
		return 0, err
	}
	last, err := x.getOrEmpty(fileKey(PrefixOriginal, label, st.LastFile))
	if err != nil {
		return 0, err
	}
	return st.LastFile + len(last)/st.BytesPerImage(), nil
}
