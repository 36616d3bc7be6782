// Package recog matches glyphs against a trained template collection,
// and trains the collections in the first place.
package recog

import (
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/perfstats"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/pkg/tindex"
)

// Match is a candidate template that survived both Diff directions
type Match struct {
	ID        int    `json:"id"`
	Label     string `json:"label"`
	Score     int    `json:"score"`     // max of the two Diff directions
	Secondary int    `json:"secondary"` // difference in foreground pixel count
}

// Result is the outcome of RecognizeDetailed
type Result struct {
	Label     string  `json:"label"`
	OK        bool    `json:"ok"`
	Ambiguous bool    `json:"ambiguous"` // best matches tied with different labels
	Matches   []Match `json:"matches"`   // best first
}

// Model is a template collection plus its index.
// Once constructed, it is safe to call Recognize from multiple goroutines.
type Model struct {
	index      *tindex.Index
	collection *template.Collection
	stats      *perfstats.Stats

	latestLock sync.Mutex
	latestID   int
	hasLatest  bool
}

// NewModel creates a model. If either index or collection is nil, the model
// recognizes nothing.
func NewModel(index *tindex.Index, collection *template.Collection) *Model {
	return &Model{
		index:      index,
		collection: collection,
	}
}

// LoadModel decodes an index and a collection, and checks that they belong together
func LoadModel(indexBytes, collectionBytes []byte) (*Model, error) {
	collection, err := template.UnmarshalCollection(collectionBytes)
	if err != nil {
		return nil, err
	}
	index, err := tindex.Unmarshal(indexBytes)
	if err != nil {
		return nil, err
	}
	if index.Height() != collection.Height() || index.Width() != collection.Width() {
		return nil, errs.Corruptf("index is %v x %v, but collection is %v x %v", index.Width(), index.Height(), collection.Width(), collection.Height())
	}
	for _, e := range index.Entries() {
		for _, id := range e.IDs {
			if id < 0 || id >= collection.Len() {
				return nil, errs.Corruptf("index refers to template %v, but collection has %v templates", id, collection.Len())
			}
		}
	}
	return NewModel(index, collection), nil
}

// SetStats makes the model record the duration of every recognition in stats
func (m *Model) SetStats(stats *perfstats.Stats) {
	m.stats = stats
}

// Collection may be nil
func (m *Model) Collection() *template.Collection {
	return m.collection
}

// Index may be nil
func (m *Model) Index() *tindex.Index {
	return m.index
}

func (m *Model) IsEmpty() bool {
	return m.index == nil || m.collection == nil || m.collection.Len() == 0
}

// Recognize returns the label of the glyph in g, or ok = false if the glyph
// is unknown or ambiguous. g must be a standardized grid of the same size as
// the model's templates.
func (m *Model) Recognize(g *bitimage.Grid) (label string, ok bool, err error) {
	r, err := m.RecognizeDetailed(g)
	if err != nil {
		return "", false, err
	}
	return r.Label, r.OK, nil
}

// RecognizeDetailed is Recognize, but also returns the ranked candidates
func (m *Model) RecognizeDetailed(g *bitimage.Grid) (Result, error) {
	if m.IsEmpty() {
		m.setLatest(0, false)
		return Result{}, nil
	}
	if g.Height != m.collection.Height() || g.Width != m.collection.Width() {
		return Result{}, errs.Validationf("image is %v x %v, but model is %v x %v", g.Width, g.Height, m.collection.Width(), m.collection.Height())
	}
	if m.stats != nil {
		start := time.Now()
		defer func() {
			m.stats.Add("recognize", time.Since(start))
		}()
	}

	query := template.FromGrid(g)
	query.ActivateHalo()

	matches := []Match{}
	for _, id := range m.index.Search(query) {
		t2, err := m.collection.Template(id)
		if err != nil {
			return Result{}, err
		}
		diffA := t2.Diff(query)
		if diffA >= template.RejectScore {
			continue
		}
		diffB := query.Diff(t2)
		if diffB >= template.RejectScore {
			continue
		}
		label, err := m.collection.Label(id)
		if err != nil {
			return Result{}, err
		}
		matches = append(matches, Match{
			ID:        id,
			Label:     label,
			Score:     max(diffA, diffB),
			Secondary: abs(query.ForegroundCount() - t2.ForegroundCount()),
		})
	}

	if len(matches) == 0 {
		m.setLatest(0, false)
		return Result{Matches: matches}, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score < matches[j].Score
		}
		return matches[i].Secondary < matches[j].Secondary
	})
	m.setLatest(matches[0].ID, true)

	best := matches[0]
	for i := 1; i < len(matches); i++ {
		if matches[i].Score != matches[i-1].Score || matches[i].Secondary != matches[i-1].Secondary {
			break
		}
		if matches[i].Label != best.Label {
			return Result{Ambiguous: true, Matches: matches}, nil
		}
	}
	return Result{Label: best.Label, OK: true, Matches: matches}, nil
}

func (m *Model) setLatest(id int, ok bool) {
	m.latestLock.Lock()
	m.latestID = id
	m.hasLatest = ok
	m.latestLock.Unlock()
}

// LatestBestMatch returns the id of the best candidate of the most recent
// recognition, or ok = false if that recognition had no candidates.
// With concurrent callers, "most recent" is whichever call finished last.
func (m *Model) LatestBestMatch() (id int, ok bool) {
	m.latestLock.Lock()
	defer m.latestLock.Unlock()
	return m.latestID, m.hasLatest
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
