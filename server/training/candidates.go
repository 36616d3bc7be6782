package training

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/server/storage"
)

func candidatesKey(label string) string {
	return fmt.Sprintf("candidate_numbers/%v.bin", label)
}

// Candidates is the set of image numbers of one label that are used as
// training templates. The set only grows.
type Candidates struct {
	Label string
	ids   map[int]bool
}

func NewCandidates(label string) *Candidates {
	return &Candidates{
		Label: label,
		ids:   map[int]bool{},
	}
}

// LoadCandidates reads the candidate set of label. A missing set is empty.
func LoadCandidates(store storage.Storage, label string) (*Candidates, error) {
	c := NewCandidates(label)
	raw, err := storage.Get(store, storage.ContainerRecognition, candidatesKey(label))
	if errors.Is(err, errs.ErrNotFound) {
		return c, nil
	} else if err != nil {
		return nil, err
	}
	ids, err := decodeIDs(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", candidatesKey(label), err)
	}
	for _, id := range ids {
		c.ids[id] = true
	}
	return c, nil
}

// Add inserts ids, and returns true if any of them were new
func (c *Candidates) Add(ids []int) bool {
	added := false
	for _, id := range ids {
		if !c.ids[id] {
			c.ids[id] = true
			added = true
		}
	}
	return added
}

func (c *Candidates) Count() int {
	return len(c.ids)
}

// IDs returns the image numbers in ascending order
func (c *Candidates) IDs() []int {
	out := make([]int, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (c *Candidates) Save(store storage.Storage) error {
	return storage.Put(store, storage.ContainerRecognition, candidatesKey(c.Label), encodeIDs(c.IDs()))
}

// [count int32][ids int32...], little endian
func encodeIDs(ids []int) []byte {
	b := make([]byte, 0, 4+4*len(ids))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(ids)))
	for _, id := range ids {
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(id)))
	}
	return b
}

func decodeIDs(b []byte) ([]int, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, errs.Corruptf("candidate list is %v bytes", len(b))
	}
	n := int(int32(binary.LittleEndian.Uint32(b)))
	if n < 0 || 4+4*n != len(b) {
		return nil, errs.Corruptf("candidate list claims %v ids, but is %v bytes", n, len(b))
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = int(int32(binary.LittleEndian.Uint32(b[4+4*i:])))
		if ids[i] < 0 {
			return nil, errs.Corruptf("negative candidate id %v", ids[i])
		}
	}
	return ids, nil
}
