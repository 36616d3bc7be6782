package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testConfig(workers int) Config {
	return Config{
		Workers:     workers,
		MaxAttempts: 30,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}
}

func makeUnits(n int) []Unit {
	units := []Unit{}
	for i := 0; i < n; i++ {
		units = append(units, Unit{Label: fmt.Sprintf("L%v", i%3), Start: i * 32, End: (i + 1) * 32})
	}
	return units
}

func TestEveryUnitRunsOnce(t *testing.T) {
	for _, workers := range []int{1, 20} {
		c := New(logs.NewTestingLog(t), "test", testConfig(workers))
		executed := atomic.Int64{}
		seen := sync.Map{}
		r, err := c.Start(context.Background(), Units(makeUnits(100)), func(ctx context.Context, u Unit) (Outcome, error) {
			executed.Add(1)
			_, dup := seen.LoadOrStore(u.Start, true)
			require.False(t, dup)
			return Outcome{Counters: map[string]int{"n": 1, "images": u.End - u.Start}}, nil
		})
		require.NoError(t, err)
		res := r.Wait()
		require.True(t, r.IsDone())
		require.True(t, res.Done)
		require.EqualValues(t, 100, executed.Load())
		require.Equal(t, 100, res.UnitsDone)
		require.Equal(t, 0, res.UnitsFailed)
		require.Equal(t, 100, res.Attempts)
		require.Equal(t, 0, res.Retries)
		require.Equal(t, 100, res.Total("n"))
		require.Equal(t, 3200, res.Total("images"))
		require.Len(t, res.Labels, 3)
		require.Equal(t, 34, res.Labels["L0"].UnitsDone)
		require.False(t, r.Failed())
	}
}

func TestRetry(t *testing.T) {
	const k = 3
	c := New(logs.NewTestingLog(t), "test", testConfig(4))
	lock := sync.Mutex{}
	calls := map[int]int{}
	r, err := c.Start(context.Background(), Units(makeUnits(10)), func(ctx context.Context, u Unit) (Outcome, error) {
		lock.Lock()
		defer lock.Unlock()
		calls[u.Start]++
		if calls[u.Start] <= k {
			return Outcome{}, errs.Transientf("flaky executor")
		}
		return Outcome{Counters: map[string]int{"ok": 1}}, nil
	})
	require.NoError(t, err)
	res := r.Wait()
	require.Equal(t, 10, res.UnitsDone)
	require.Equal(t, 0, res.UnitsFailed)
	require.Equal(t, 10*(k+1), res.Attempts)
	require.Equal(t, 10*k, res.Retries)
	require.Equal(t, 10, res.Total("ok"))
	for _, n := range calls {
		require.Equal(t, k+1, n)
	}
	require.NotEmpty(t, r.Messages())
	// Messages are drained on read
	require.Empty(t, r.Messages())
}

func TestRetryCap(t *testing.T) {
	cfg := testConfig(2)
	cfg.MaxAttempts = Train.MaxAttempts
	c := New(logs.NewTestingLog(t), "train", cfg)
	calls := atomic.Int64{}
	r, err := c.Start(context.Background(), Units(makeUnits(3)), func(ctx context.Context, u Unit) (Outcome, error) {
		calls.Add(1)
		return Outcome{}, errors.New("always fails")
	})
	require.NoError(t, err)
	res := r.Wait()
	require.EqualValues(t, 3*10, calls.Load())
	require.Equal(t, 3, res.UnitsFailed)
	require.Len(t, res.Errors, 3)
	// Failed units are not the same thing as a missing input
	require.False(t, res.Failed)
}

func TestMissingInputFailsRound(t *testing.T) {
	c := New(logs.NewTestingLog(t), "test", testConfig(2))
	calls := atomic.Int64{}
	r, err := c.Start(context.Background(), Units(makeUnits(4)), func(ctx context.Context, u Unit) (Outcome, error) {
		calls.Add(1)
		if u.Start == 64 {
			return Outcome{}, errs.NotFoundf("image-data/standard/L2_64.bin")
		}
		return Outcome{Counters: map[string]int{"ok": 1}}, nil
	})
	require.NoError(t, err)
	res := r.Wait()
	// Not retried
	require.EqualValues(t, 4, calls.Load())
	require.True(t, res.Failed)
	require.True(t, r.Failed())
	require.Equal(t, 3, res.UnitsDone)
	require.Equal(t, 1, res.Labels["L2"].UnitsFailed)
}

func TestBusy(t *testing.T) {
	c := New(logs.NewTestingLog(t), "test", testConfig(2))
	release := make(chan struct{})
	finished := make(chan *Round, 1)
	c.OnFinish(func(r *Round) { finished <- r })
	r, err := c.Start(context.Background(), Units(makeUnits(2)), func(ctx context.Context, u Unit) (Outcome, error) {
		<-release
		return Outcome{}, nil
	})
	require.NoError(t, err)
	require.True(t, c.IsBusy())
	require.Same(t, r, c.Current())

	_, err = c.Start(context.Background(), Units(makeUnits(2)), func(ctx context.Context, u Unit) (Outcome, error) {
		return Outcome{}, nil
	})
	require.True(t, errors.Is(err, errs.ErrBusy))

	close(release)
	<-r.Done()
	require.Same(t, r, <-finished)
	require.False(t, c.IsBusy())

	r2, err := c.Start(context.Background(), Units(nil), func(ctx context.Context, u Unit) (Outcome, error) {
		return Outcome{}, nil
	})
	require.NoError(t, err)
	res := r2.Wait()
	require.Equal(t, 0, res.UnitsDone)
	<-finished
}

func TestFailingSampleIsCapped(t *testing.T) {
	c := New(logs.NewTestingLog(t), "test", testConfig(8))
	r, err := c.Start(context.Background(), Units(makeUnits(30)), func(ctx context.Context, u Unit) (Outcome, error) {
		out := Outcome{Counters: map[string]int{"incorrect": 0}}
		for i := u.Start; i < u.End; i++ {
			out.Failing = append(out.Failing, i)
			out.Counters["incorrect"]++
		}
		return out, nil
	})
	require.NoError(t, err)
	res := r.Wait()
	for _, lr := range res.Labels {
		require.Len(t, lr.Failing, MaxFailingSample)
		require.Equal(t, 10*32, lr.Counters["incorrect"])
	}
}

func TestFileRanges(t *testing.T) {
	src := FileRanges([]LabelRange{
		{Label: "a", Start: 0, End: 32 * 25},
		{Label: "b", Start: 64, End: 64},
		{Label: "c", Start: 32, End: 32*3 + 5},
	}, 10, 32)
	units := []Unit{}
	for {
		u, ok := src.Next()
		if !ok {
			break
		}
		units = append(units, u)
	}
	require.Equal(t, []Unit{
		{"a", 0, 320},
		{"a", 320, 640},
		{"a", 640, 800},
		{"c", 32, 101},
	}, units)

	_, ok := FileRanges(nil, 10, 32).Next()
	require.False(t, ok)
}

func TestPresets(t *testing.T) {
	base := DefaultConfig()
	require.Equal(t, 20, base.Workers)
	require.Equal(t, 30, Standardize.Config(base).MaxAttempts)
	require.Equal(t, 30, Test.Config(base).MaxAttempts)
	require.Equal(t, 10, Train.Config(base).MaxAttempts)
	require.Equal(t, 20, Train.Config(base).Workers)
}
