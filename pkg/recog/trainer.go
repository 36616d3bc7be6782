package recog

import (
	"fmt"
	"runtime"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/template"
	"golang.org/x/sync/errgroup"
)

// ErrNoTrainingData is returned by TrainOneLabel when the collection has no templates for the label.
// It is an errs.ErrNotFound, so a train round with a label that has no candidates fails.
var ErrNoTrainingData = fmt.Errorf("%w: no training data", errs.ErrNotFound)

// Maximum reverse Diff for a later template to be considered a duplicate of an earlier one
const dedupReverseThreshold = 25

// TrainReport counts what happened while training templates against their rejects
type TrainReport struct {
	Collisions  int `json:"collisions"`  // rejects that partially matched a target
	Resolved    int `json:"resolved"`    // collisions removed by deactivating halo cells
	Irreducible int `json:"irreducible"` // collisions that no halo cell could remove
	Deactivated int `json:"deactivated"` // halo cells turned to background
}

func (r *TrainReport) add(b TrainReport) {
	r.Collisions += b.Collisions
	r.Resolved += b.Resolved
	r.Irreducible += b.Irreducible
	r.Deactivated += b.Deactivated
}

// TrainToReject activates the halo of target, and then switches off just
// enough halo cells that no reject template partially matches target.
//
// A reject that lands on target's foreground alone (Diff = 0) is a true
// duplicate across labels, and no halo change can fix that, so those are
// ignored. The greedy choice removes the halo cell that resolves the most
// outstanding rejects first, which keeps as much of the halo as possible.
func TrainToReject(target *template.Template, rejects []*template.Template) TrainReport {
	target.ActivateHalo()
	report := TrainReport{}

	h, w := target.Height(), target.Width()
	responsible := make([][]int, h*w)
	outstanding := map[int]bool{}
	for i, r := range rejects {
		d := r.Diff(target)
		if d == 0 || d >= template.RejectScore {
			continue
		}
		report.Collisions++
		outstanding[i] = true
		for j := 0; j < r.ForegroundCount(); j++ {
			row, col := r.ForegroundAt(j)
			if target.At(row, col) == template.Halo {
				responsible[row*w+col] = append(responsible[row*w+col], i)
			}
		}
	}

	for len(outstanding) != 0 {
		best := -1
		bestN := 0
		for k, ids := range responsible {
			n := 0
			for _, id := range ids {
				if outstanding[id] {
					n++
				}
			}
			if n > bestN {
				best = k
				bestN = n
			}
		}
		if best == -1 {
			break
		}
		target.Set(best/w, best%w, template.Background)
		report.Deactivated++
		for _, id := range responsible[best] {
			if outstanding[id] {
				delete(outstanding, id)
				report.Resolved++
			}
		}
		responsible[best] = nil
	}
	report.Irreducible = len(outstanding)
	return report
}

// Dedup returns templates with near duplicates removed, in their original order.
// Template j is a duplicate of an earlier surviving template i if
// Diff(i,j) < RejectScore and Diff(j,i) < 25.
func Dedup(templates []*template.Template) []*template.Template {
	redundant := make([]bool, len(templates))
	for i := range templates {
		if redundant[i] {
			continue
		}
		for j := i + 1; j < len(templates); j++ {
			if redundant[j] {
				continue
			}
			if templates[i].Diff(templates[j]) < template.RejectScore && templates[j].Diff(templates[i]) < dedupReverseThreshold {
				redundant[j] = true
			}
		}
	}
	out := []*template.Template{}
	for i, t := range templates {
		if !redundant[i] {
			out = append(out, t)
		}
	}
	return out
}

// TrainOneLabel trains every template of label against the templates of all
// other labels in c, and then removes duplicates.
// The templates in c are not modified.
func TrainOneLabel(c *template.Collection, label string) ([]*template.Template, TrainReport, error) {
	match, rest := c.Split(label)
	if len(match) == 0 {
		return nil, TrainReport{}, fmt.Errorf("%w for label '%v'", ErrNoTrainingData, label)
	}

	trained := make([]*template.Template, len(match))
	reports := make([]TrainReport, len(match))
	g := errgroup.Group{}
	g.SetLimit(runtime.NumCPU())
	for i := range match {
		g.Go(func() error {
			t := match[i].Clone()
			reports[i] = TrainToReject(t, rest)
			trained[i] = t
			return nil
		})
	}
	g.Wait()

	report := TrainReport{}
	for _, r := range reports {
		report.add(r)
	}

	final := Dedup(trained)
	if len(final) == 0 {
		return nil, report, fmt.Errorf("training label '%v' produced no templates", label)
	}
	return final, report, nil
}
