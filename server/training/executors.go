package training

import (
	"context"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/glyphs/pkg/recog"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/server/imagedata"
	"github.com/cyclopcam/glyphs/server/storage"
)

// Counter names reported by the executors
const (
	CounterImages      = "images"
	CounterFiles       = "files"
	CounterCorrect     = "correct"
	CounterIncorrect   = "incorrect"
	CounterUnknown     = "unknown"
	CounterTemplates   = "templates"
	CounterCollisions  = "collisions"
	CounterResolved    = "resolved"
	CounterIrreducible = "irreducible"
	CounterDeactivated = "deactivated"
)

// StandardizeExecutor rebuilds the standard file of every original file in the unit
func StandardizeExecutor(index *imagedata.LabelIndex) coordinator.Executor {
	return func(ctx context.Context, u coordinator.Unit) (coordinator.Outcome, error) {
		out := coordinator.Outcome{Counters: map[string]int{}}
		for file := imagedata.FileNumber(u.Start); file < u.End; file += imagedata.MaxImagesPerFile {
			if err := ctx.Err(); err != nil {
				return coordinator.Outcome{}, err
			}
			n, err := index.StandardizeFile(u.Label, file)
			if err != nil {
				return coordinator.Outcome{}, err
			}
			out.Counters[CounterFiles]++
			out.Counters[CounterImages] += n
		}
		return out, nil
	}
}

// TestExecutor recognizes every standard image in the unit with the model
// returned by loader, and compares the result to the unit's label.
// Failing holds the image numbers that were misclassified or not recognized.
func TestExecutor(index *imagedata.LabelIndex, loader ModelLoader) coordinator.Executor {
	return func(ctx context.Context, u coordinator.Unit) (coordinator.Outcome, error) {
		model, err := loader()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		out := coordinator.Outcome{
			Counters: map[string]int{
				CounterCorrect:   0,
				CounterIncorrect: 0,
				CounterUnknown:   0,
			},
		}
		for file := imagedata.FileNumber(u.Start); file < u.End; file += imagedata.MaxImagesPerFile {
			if err := ctx.Err(); err != nil {
				return coordinator.Outcome{}, err
			}
			buf, err := index.LabelBytes(imagedata.PrefixStandard, u.Label, file)
			if err != nil {
				return coordinator.Outcome{}, err
			}
			for i := 0; (i+1)*bitimage.StandardBytes <= len(buf); i++ {
				n := file + i
				if n < u.Start || n >= u.End {
					continue
				}
				g, err := bitimage.Unpack(buf, i*bitimage.StandardBytes, bitimage.StandardSize, bitimage.StandardSize)
				if err != nil {
					return coordinator.Outcome{}, err
				}
				label, ok, err := model.Recognize(g)
				if err != nil {
					return coordinator.Outcome{}, err
				}
				switch {
				case !ok:
					out.Counters[CounterUnknown]++
				case label == u.Label:
					out.Counters[CounterCorrect]++
					continue
				default:
					out.Counters[CounterIncorrect]++
				}
				if len(out.Failing) < coordinator.MaxFailingSample {
					out.Failing = append(out.Failing, n)
				}
			}
		}
		return out, nil
	}
}

// TrainExecutor trains the templates of the unit's label against the rest of
// candidates, and writes the result as that label's collection.
// The unit's image range is ignored.
func TrainExecutor(store storage.Storage, candidates *template.Collection) coordinator.Executor {
	return func(ctx context.Context, u coordinator.Unit) (coordinator.Outcome, error) {
		if err := ctx.Err(); err != nil {
			return coordinator.Outcome{}, err
		}
		templates, report, err := recog.TrainOneLabel(candidates, u.Label)
		if err != nil {
			return coordinator.Outcome{}, err
		}
		c := template.NewCollection(candidates.Height(), candidates.Width())
		if err := c.Add(templates, u.Label); err != nil {
			return coordinator.Outcome{}, err
		}
		raw, err := c.MarshalBinary()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		if err := storage.Put(store, storage.ContainerRecognition, labelCollectionKey(u.Label), raw); err != nil {
			return coordinator.Outcome{}, err
		}
		return coordinator.Outcome{
			Counters: map[string]int{
				CounterTemplates:   len(templates),
				CounterCollisions:  report.Collisions,
				CounterResolved:    report.Resolved,
				CounterIrreducible: report.Irreducible,
				CounterDeactivated: report.Deactivated,
			},
		}, nil
	}
}
