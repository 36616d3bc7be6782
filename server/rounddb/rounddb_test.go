package rounddb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestRoundDB(t *testing.T) {
	db, err := Open(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "rounds.sqlite"), true)
	require.NoError(t, err)

	start := time.Now().Add(-time.Minute)
	id1, err := db.Begin("test", start)
	require.NoError(t, err)
	id2, err := db.Begin("train", start.Add(time.Second))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	res := coordinator.Results{
		Kind: "test",
		Labels: map[string]*coordinator.LabelResults{
			"A": {Counters: map[string]int{"correct": 30, "incorrect": 2}},
		},
		UnitsDone:   3,
		UnitsFailed: 1,
		Retries:     4,
		Failed:      true,
		Errors:      []string{"A [0, 32): not found"},
		Finished:    time.Now(),
	}
	require.NoError(t, db.Finish(id1, res, nil))
	require.NoError(t, db.Finish(id2, coordinator.Results{Kind: "train"}, errors.New("merge failed")))

	rounds, err := db.Recent("test", 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	r := rounds[0]
	require.Equal(t, id1, r.ID)
	require.Equal(t, 4, r.Units)
	require.Equal(t, 1, r.FailedUnits)
	require.Equal(t, 4, r.Retries)
	require.True(t, r.Failed)
	require.NotNil(t, r.Summary)
	require.Equal(t, 30, r.Summary.Data.Labels["A"]["correct"])
	require.Equal(t, res.Errors, r.Summary.Data.Errors)
	require.Equal(t, start.Unix(), r.StartedAt.Get().Unix())

	all, err := db.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "train", all[0].Kind)
	require.Equal(t, "merge failed", all[0].Error)
}
