package template

import (
	"sort"

	"github.com/cyclopcam/glyphs/pkg/errs"
)

// Collection is an ordered list of templates, grouped into contiguous runs that share a label.
// A template's id is its position in the collection.
type Collection struct {
	height    int
	width     int
	templates []*Template
	labels    []string
	offsets   []int // offsets[i] is the id of the first template of labels[i]
}

func NewCollection(height, width int) *Collection {
	return &Collection{
		height: height,
		width:  width,
	}
}

func (c *Collection) Height() int { return c.height }
func (c *Collection) Width() int  { return c.width }

// Len returns the number of templates
func (c *Collection) Len() int { return len(c.templates) }

// Labels returns the label of every run, in order. A label can appear more than once.
func (c *Collection) Labels() []string {
	return append([]string(nil), c.labels...)
}

// UniqueLabels returns every distinct label, in order of first appearance
func (c *Collection) UniqueLabels() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, l := range c.labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// All returns the templates in id order. The slice is shared with the collection.
func (c *Collection) All() []*Template {
	return c.templates
}

// Add appends templates as one run under label.
// An empty run is ignored, so that run offsets stay strictly increasing.
func (c *Collection) Add(templates []*Template, label string) error {
	if err := ValidLabel(label); err != nil {
		return err
	}
	for _, t := range templates {
		if t.height != c.height || t.width != c.width {
			return errs.Corruptf("template is %v x %v, but collection is %v x %v", t.width, t.height, c.width, c.height)
		}
	}
	if len(templates) == 0 {
		return nil
	}
	c.labels = append(c.labels, label)
	c.offsets = append(c.offsets, len(c.templates))
	c.templates = append(c.templates, templates...)
	return nil
}

// Template returns the template with the given id
func (c *Collection) Template(id int) (*Template, error) {
	if id < 0 || id >= len(c.templates) {
		return nil, errs.NotFoundf("template %v (collection has %v)", id, len(c.templates))
	}
	return c.templates[id], nil
}

// Label returns the label of the template with the given id
func (c *Collection) Label(id int) (string, error) {
	if id < 0 || id >= len(c.templates) {
		return "", errs.NotFoundf("label of template %v (collection has %v)", id, len(c.templates))
	}
	// First run whose offset is beyond id, then step back one
	i := sort.Search(len(c.offsets), func(i int) bool { return c.offsets[i] > id }) - 1
	return c.labels[i], nil
}

func (c *Collection) runEnd(i int) int {
	if i+1 < len(c.offsets) {
		return c.offsets[i+1]
	}
	return len(c.templates)
}

// TemplatesFor returns every template labelled label, across all of its runs
func (c *Collection) TemplatesFor(label string) []*Template {
	out := []*Template{}
	for i, l := range c.labels {
		if l == label {
			out = append(out, c.templates[c.offsets[i]:c.runEnd(i)]...)
		}
	}
	return out
}

// Split partitions the templates into those labelled label, and all the others.
// Relative order is preserved in both lists.
func (c *Collection) Split(label string) (match, rest []*Template) {
	for i, l := range c.labels {
		run := c.templates[c.offsets[i]:c.runEnd(i)]
		if l == label {
			match = append(match, run...)
		} else {
			rest = append(rest, run...)
		}
	}
	return
}

// Merge combines collections into a new one with a single run per label.
// Labels appear in order of first appearance, and each label's templates are
// concatenated in input order.
func Merge(collections ...*Collection) (*Collection, error) {
	if len(collections) == 0 {
		return nil, errs.Validationf("no collections to merge")
	}
	h, w := collections[0].height, collections[0].width
	labels := []string{}
	seen := map[string]bool{}
	for _, c := range collections {
		if c.height != h || c.width != w {
			return nil, errs.Corruptf("cannot merge a %v x %v collection into %v x %v", c.width, c.height, w, h)
		}
		for _, l := range c.labels {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	out := NewCollection(h, w)
	for _, label := range labels {
		run := []*Template{}
		for _, c := range collections {
			run = append(run, c.TemplatesFor(label)...)
		}
		if err := out.Add(run, label); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarshalBinary encodes the collection as
// [height][width][offsets_count][offsets i32...][labels_count]{[len][utf8]}[templates_count]{[size][template]}
func (c *Collection) MarshalBinary() ([]byte, error) {
	size := 20 + 4*len(c.offsets)
	for _, l := range c.labels {
		size += 4 + len(l)
	}
	for _, t := range c.templates {
		size += 4 + t.binarySize()
	}
	b := make([]byte, 0, size)
	b = appendU32(b, uint32(c.height))
	b = appendU32(b, uint32(c.width))
	b = appendU32(b, uint32(len(c.offsets)))
	for _, o := range c.offsets {
		b = appendU32(b, uint32(int32(o)))
	}
	b = appendU32(b, uint32(len(c.labels)))
	for _, l := range c.labels {
		b = appendU32(b, uint32(len(l)))
		b = append(b, l...)
	}
	b = appendU32(b, uint32(len(c.templates)))
	for _, t := range c.templates {
		b = appendU32(b, uint32(t.binarySize()))
		b = t.appendBinary(b)
	}
	return b, nil
}

// UnmarshalCollection decodes a collection that was encoded with MarshalBinary
func UnmarshalCollection(buf []byte) (*Collection, error) {
	r := &reader{buf: buf}
	c := &Collection{}
	c.height = int(r.u32())
	c.width = int(r.u32())
	nOffsets := r.count(4)
	for i := 0; i < nOffsets; i++ {
		c.offsets = append(c.offsets, int(r.i32()))
	}
	nLabels := r.count(4)
	for i := 0; i < nLabels; i++ {
		c.labels = append(c.labels, string(r.bytes(r.count(1))))
	}
	nTemplates := r.count(4)
	for i := 0; i < nTemplates && r.err == nil; i++ {
		size := r.count(1)
		start := r.pos
		t, err := readTemplate(r)
		if err != nil {
			return nil, err
		}
		if r.pos-start != size {
			return nil, errs.Corruptf("template %v declares %v bytes but used %v", i, size, r.pos-start)
		}
		c.templates = append(c.templates, t)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(buf) {
		return nil, errs.Corruptf("%v trailing bytes after collection", len(buf)-r.pos)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collection) validate() error {
	if len(c.offsets) != len(c.labels) {
		return errs.Corruptf("collection has %v offsets but %v labels", len(c.offsets), len(c.labels))
	}
	for i, o := range c.offsets {
		if o < 0 || o >= len(c.templates) || (i > 0 && o <= c.offsets[i-1]) {
			return errs.Corruptf("collection offset %v (%v) is out of order or range", i, o)
		}
	}
	if len(c.templates) != 0 && (len(c.offsets) == 0 || c.offsets[0] != 0) {
		return errs.Corruptf("collection templates are not all covered by a label")
	}
	for _, l := range c.labels {
		if err := ValidLabel(l); err != nil {
			return err
		}
	}
	for _, t := range c.templates {
		if t.height != c.height || t.width != c.width {
			return errs.Corruptf("template is %v x %v, but collection is %v x %v", t.width, t.height, c.width, c.height)
		}
	}
	return nil
}
