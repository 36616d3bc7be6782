package recog

import (
	"errors"
	"testing"

	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/pkg/tindex"
	"github.com/stretchr/testify/require"
)

func TestTrainToReject(t *testing.T) {
	target := template.FromGrid(vline(3))
	reject := template.FromGrid(vline(4))
	report := TrainToReject(target, []*template.Template{reject})
	require.Equal(t, TrainReport{Collisions: 1, Resolved: 1, Deactivated: 1}, report)
	// The first responsible cell in row-major order is switched off
	require.EqualValues(t, template.Background, target.At(2, 4))
	require.EqualValues(t, template.Halo, target.At(3, 4))
	require.Equal(t, template.RejectScore, reject.Diff(target))

	// Exact duplicates and clear misses are not collisions
	target = template.FromGrid(vline(3))
	report = TrainToReject(target, []*template.Template{template.FromGrid(vline(3)), template.FromGrid(vline(6))})
	require.Equal(t, TrainReport{}, report)
}

func TestTrainToRejectIrreducible(t *testing.T) {
	// The reject's only non-foreground hit is a corner halo cell, which training never touches
	target := template.FromGrid(vline(3))
	target.ActivateHaloCorners()
	g := vline(3)
	g.Set(2, 3, 0)
	g.Set(1, 4, 255)
	reject := template.FromGrid(g)
	require.Equal(t, 2, reject.Diff(target))

	report := TrainToReject(target, []*template.Template{reject})
	require.Equal(t, TrainReport{Collisions: 1, Irreducible: 1}, report)
}

func TestTrainToRejectGreedy(t *testing.T) {
	// Cell (3,4) is shared by both rejects, so it alone resolves them
	target := template.FromGrid(vline(3))
	r1 := template.FromGrid(bitimage.ParseGrid(`
		........
		........
		........
		...##...
		...#....
		...#....
		........
		........`))
	r2 := template.FromGrid(bitimage.ParseGrid(`
		........
		........
		...#....
		...##...
		...#....
		........
		........
		........`))
	report := TrainToReject(target, []*template.Template{r1, r2})
	require.Equal(t, TrainReport{Collisions: 2, Resolved: 2, Deactivated: 1}, report)
	require.EqualValues(t, template.Background, target.At(3, 4))
}

func TestDedup(t *testing.T) {
	a := template.FromGrid(vline(3))
	b := template.FromGrid(vline(3))
	c := template.FromGrid(vline(5))
	out := Dedup([]*template.Template{a, b, c})
	require.Len(t, out, 2)
	require.Same(t, a, out[0])
	require.Same(t, c, out[1])
	require.Empty(t, Dedup(nil))
}

func TestTrainOneLabel(t *testing.T) {
	c := template.NewCollection(8, 8)
	require.NoError(t, c.Add([]*template.Template{template.FromGrid(vline(3)), template.FromGrid(vline(3))}, "a"))
	require.NoError(t, c.Add([]*template.Template{template.FromGrid(vline(4))}, "b"))

	trainedA, report, err := TrainOneLabel(c, "a")
	require.NoError(t, err)
	require.Len(t, trainedA, 1)
	require.Equal(t, TrainReport{Collisions: 2, Resolved: 2, Deactivated: 2}, report)
	// The source collection is untouched
	require.EqualValues(t, template.Background, c.All()[0].At(3, 2))

	trainedB, _, err := TrainOneLabel(c, "b")
	require.NoError(t, err)
	require.Len(t, trainedB, 1)

	_, _, err = TrainOneLabel(c, "z")
	require.True(t, errors.Is(err, ErrNoTrainingData))

	// The trained templates keep the two labels apart
	final := template.NewCollection(8, 8)
	require.NoError(t, final.Add(trainedA, "a"))
	require.NoError(t, final.Add(trainedB, "b"))
	ix, err := tindex.Build(8, 8, final.All(), 0)
	require.NoError(t, err)
	m := NewModel(ix, final)
	for col, want := range map[int]string{3: "a", 4: "b"} {
		r, err := m.RecognizeDetailed(vline(col))
		require.NoError(t, err)
		require.True(t, r.OK)
		require.Equal(t, want, r.Label)
		require.Len(t, r.Matches, 1)
	}
}
