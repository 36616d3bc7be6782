package training

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/recog"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/pkg/tindex"
	"github.com/cyclopcam/glyphs/server/imagedata"
	"github.com/cyclopcam/glyphs/server/rounddb"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// A 16x16 stroke, vertical for "V" and horizontal for "H", that moves with i
func stroke(label string, i int) *bitimage.Grid {
	g := bitimage.NewGrid(16, 16)
	pos := 2 + i%12
	for j := 2; j < 14; j++ {
		if label == "V" {
			g.Set(j, pos, 255)
		} else {
			g.Set(pos, j, 255)
		}
	}
	return g
}

func strokes(label string, n int) []byte {
	out := []byte{}
	for i := 0; i < n; i++ {
		out = append(out, bitimage.Pack(stroke(label, i))...)
	}
	return out
}

type fixture struct {
	log   logs.Log
	store storage.Storage
	index *imagedata.LabelIndex
}

func setup(t *testing.T, labels ...string) *fixture {
	log := logs.NewTestingLog(t)
	store, err := storage.NewStorageFS(log, t.TempDir())
	require.NoError(t, err)
	index := imagedata.NewLabelIndex(log, store)
	require.NoError(t, index.Load())
	for _, label := range labels {
		_, err := index.AddImages(label, bitimage.TypeBilevel, 16, 16, strokes(label, 40))
		require.NoError(t, err)
	}
	return &fixture{log: log, store: store, index: index}
}

func testConfig() coordinator.Config {
	return coordinator.Config{
		Workers:    4,
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
	}
}

func TestCandidates(t *testing.T) {
	f := setup(t)
	c, err := LoadCandidates(f.store, "A")
	require.NoError(t, err)
	require.Equal(t, 0, c.Count())

	require.True(t, c.Add([]int{7, 3, 7}))
	require.False(t, c.Add([]int{3}))
	require.Equal(t, []int{3, 7}, c.IDs())
	require.NoError(t, c.Save(f.store))

	c2, err := LoadCandidates(f.store, "A")
	require.NoError(t, err)
	require.Equal(t, []int{3, 7}, c2.IDs())

	_, err = decodeIDs([]byte{1, 0, 0, 0})
	require.ErrorIs(t, err, errs.ErrCorrupt)
	_, err = decodeIDs([]byte{1, 0, 0})
	require.ErrorIs(t, err, errs.ErrCorrupt)
	_, err = decodeIDs(encodeIDs([]int{-1}))
	require.ErrorIs(t, err, errs.ErrCorrupt)
}

func TestPipeline(t *testing.T) {
	f := setup(t, "V", "H")
	rounds, err := rounddb.Open(f.log, filepath.Join(t.TempDir(), "rounds.sqlite"), true)
	require.NoError(t, err)
	p := NewPipeline(f.log, f.index, f.store, rounds, testConfig(), nil)
	defer p.Close()

	published := make(chan bool, 1)
	p.OnPublish(func() { published <- true })

	// Standardize
	r, err := p.StartStandardizeAll()
	require.NoError(t, err)
	res := r.Wait()
	require.False(t, res.Failed)
	require.Equal(t, 80, res.Total(CounterImages))
	require.Equal(t, 4, res.Total(CounterFiles))

	// Train
	run, err := p.StartTraining(TrainRequest{Seed: 3})
	require.NoError(t, err)
	require.NoError(t, run.Wait())
	require.True(t, <-published)
	prog := run.Progress()
	require.Equal(t, StageDone, prog.Stage)
	require.True(t, prog.Done)
	require.NotNil(t, prog.Round)
	require.Equal(t, 2, prog.Round.UnitsDone)
	require.NotEmpty(t, prog.Messages)

	model, err := LoadPublished(f.store)
	require.NoError(t, err)
	require.Equal(t, []string{"V", "H"}, model.Collection().UniqueLabels())
	label, ok, err := model.Recognize(bitimage.Standardize(stroke("H", 5)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "H", label)

	// Test
	r, err = p.StartTest(TestRequest{AllImages: true})
	require.NoError(t, err)
	res = r.Wait()
	require.Equal(t, 80, res.Total(CounterCorrect))
	require.Equal(t, 0, res.Total(CounterIncorrect))
	require.Equal(t, 0, res.Total(CounterUnknown))

	// Every round was audited
	require.Eventually(t, func() bool {
		recent, err := rounds.Recent("", 10)
		if err != nil {
			return false
		}
		finished := 0
		for _, rec := range recent {
			if rec.FinishedAt != 0 {
				finished++
			}
		}
		return finished == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTrainingWithoutCandidates(t *testing.T) {
	f := setup(t)
	p := NewPipeline(f.log, f.index, f.store, nil, testConfig(), nil)
	run, err := p.StartTraining(TrainRequest{})
	require.NoError(t, err)
	require.ErrorIs(t, run.Wait(), errs.ErrNotFound)
	require.Equal(t, StageCandidates, run.Progress().Stage)

	f = setup(t, "V")
	p = NewPipeline(f.log, f.index, f.store, nil, testConfig(), nil)
	run, err = p.StartTraining(TrainRequest{NewData: map[string][]int{"X": {1}}})
	require.NoError(t, err)
	require.ErrorIs(t, run.Wait(), errs.ErrValidation)

	run, err = p.StartTraining(TrainRequest{NewData: map[string][]int{"V": {40}}})
	require.NoError(t, err)
	require.ErrorIs(t, run.Wait(), errs.ErrValidation)
}

func TestTestRanges(t *testing.T) {
	f := setup(t, "V")
	p := NewPipeline(f.log, f.index, f.store, nil, testConfig(), nil)

	ranges, err := p.TestRanges(TestRequest{Label: "V", Start: 5, End: 40})
	require.NoError(t, err)
	require.Equal(t, []coordinator.LabelRange{{Label: "V", Start: 0, End: 64}}, ranges)

	ranges, err = p.TestRanges(TestRequest{Start: 100, End: 200})
	require.NoError(t, err)
	require.Equal(t, []coordinator.LabelRange{{Label: "V", Start: 32, End: 64}}, ranges)

	ranges, err = p.TestRanges(TestRequest{AllImages: true, Start: 100})
	require.NoError(t, err)
	require.Equal(t, []coordinator.LabelRange{{Label: "V", Start: 0, End: 64}}, ranges)

	_, err = p.TestRanges(TestRequest{Label: "X"})
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = p.TestRanges(TestRequest{Start: 40, End: 5})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestTestExecutorReportsFailures(t *testing.T) {
	f := setup(t, "V")

	// A model that only knows "H"
	h := template.FromGrid(bitimage.Standardize(stroke("H", 0)))
	h.ActivateHalo()
	c := template.NewCollection(bitimage.StandardSize, bitimage.StandardSize)
	require.NoError(t, c.Add([]*template.Template{h}, "H"))
	ix, err := tindex.Build(c.Height(), c.Width(), c.All(), 0)
	require.NoError(t, err)
	model := recog.NewModel(ix, c)

	exec := TestExecutor(f.index, func() (*recog.Model, error) { return model, nil })
	out, err := exec(context.Background(), coordinator.Unit{Label: "V", Start: 30, End: 36})
	require.NoError(t, err)
	require.Equal(t, 6, out.Counters[CounterUnknown])
	require.Equal(t, 0, out.Counters[CounterCorrect])
	require.Equal(t, []int{30, 31, 32, 33, 34, 35}, out.Failing)

	broken := TestExecutor(f.index, func() (*recog.Model, error) { return nil, errs.NotFoundf("model") })
	_, err = broken(context.Background(), coordinator.Unit{Label: "V", Start: 0, End: 32})
	require.True(t, errors.Is(err, errs.ErrNotFound))
}
