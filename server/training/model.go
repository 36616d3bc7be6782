package training

import (
	"fmt"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/recog"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/pkg/tindex"
	"github.com/cyclopcam/glyphs/server/imagedata"
	"github.com/cyclopcam/glyphs/server/storage"
	"golang.org/x/sync/errgroup"
)

// Blob keys within the char-recognition container
const (
	KeyCandidateCollection = "template_collections/all_candidates.bin"
	KeyModelCollection     = "template_collections/all_labels.bin"
	KeyModelIndex          = "template_indices/all_labels.bin"
)

// Maximum number of labels whose candidate images are read at once
const loadConcurrency = 8

func labelCollectionKey(label string) string {
	return fmt.Sprintf("template_collections/%v.bin", label)
}

// ModelLoader returns the model that tests should run against
type ModelLoader func() (*recog.Model, error)

// LoadPublished reads the published model straight from the blob store
func LoadPublished(store storage.Storage) (*recog.Model, error) {
	ix, err := storage.Get(store, storage.ContainerRecognition, KeyModelIndex)
	if err != nil {
		return nil, err
	}
	coll, err := storage.Get(store, storage.ContainerRecognition, KeyModelCollection)
	if err != nil {
		return nil, err
	}
	return recog.LoadModel(ix, coll)
}

// Publish writes a model. The collection is written before the index, so a
// reader never sees an index that refers to templates it cannot find.
func Publish(store storage.Storage, c *template.Collection, ix *tindex.Index) error {
	collBytes, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	ixBytes, err := ix.MarshalBinary()
	if err != nil {
		return err
	}
	if err := storage.Put(store, storage.ContainerRecognition, KeyModelCollection, collBytes); err != nil {
		return err
	}
	return storage.Put(store, storage.ContainerRecognition, KeyModelIndex, ixBytes)
}

// BuildCandidateCollection turns the standard images of every candidate of
// labels into templates, and writes them as the candidate collection.
// Labels appear in the collection in the order given.
func BuildCandidateCollection(index *imagedata.LabelIndex, store storage.Storage, labels []string) (*template.Collection, error) {
	perLabel := make([][]*template.Template, len(labels))
	g := errgroup.Group{}
	g.SetLimit(loadConcurrency)
	for i, label := range labels {
		g.Go(func() error {
			cand, err := LoadCandidates(store, label)
			if err != nil {
				return err
			}
			buf, err := index.LabelBytesByNumbers(imagedata.PrefixStandard, label, cand.IDs())
			if err != nil {
				return err
			}
			for off := 0; off+bitimage.StandardBytes <= len(buf); off += bitimage.StandardBytes {
				t, err := template.FromPacked(buf, off, bitimage.StandardSize, bitimage.StandardSize)
				if err != nil {
					return err
				}
				perLabel[i] = append(perLabel[i], t)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := template.NewCollection(bitimage.StandardSize, bitimage.StandardSize)
	for i, label := range labels {
		if err := c.Add(perLabel[i], label); err != nil {
			return nil, err
		}
	}
	raw, err := c.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := storage.Put(store, storage.ContainerRecognition, KeyCandidateCollection, raw); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCandidateCollection reads the collection written by BuildCandidateCollection
func LoadCandidateCollection(store storage.Storage) (*template.Collection, error) {
	raw, err := storage.Get(store, storage.ContainerRecognition, KeyCandidateCollection)
	if err != nil {
		return nil, err
	}
	return template.UnmarshalCollection(raw)
}

// MergeLabels joins the trained collections of labels into one, and indexes it
func MergeLabels(store storage.Storage, labels []string) (*template.Collection, *tindex.Index, error) {
	parts := make([]*template.Collection, len(labels))
	g := errgroup.Group{}
	g.SetLimit(loadConcurrency)
	for i, label := range labels {
		g.Go(func() error {
			raw, err := storage.Get(store, storage.ContainerRecognition, labelCollectionKey(label))
			if err != nil {
				return err
			}
			parts[i], err = template.UnmarshalCollection(raw)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	merged, err := template.Merge(parts...)
	if err != nil {
		return nil, nil, err
	}
	ix, err := tindex.Build(merged.Height(), merged.Width(), merged.All(), 0)
	if err != nil {
		return nil, nil, err
	}
	return merged, ix, nil
}
