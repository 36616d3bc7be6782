// Package perfstats records how long recognition and training operations take,
// so that we can compare changes to the index and templates.
package perfstats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"gonum.org/v1/gonum/stat"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Number of recent samples kept per operation. Must be a power of 2.
const recentWindow = 64

type timing struct {
	all    TimeAccumulator
	recent ringbuffer.RingP[time.Duration]
}

// Summary of one named operation
type Summary struct {
	Name          string  `json:"name"`
	Samples       int64   `json:"samples"`
	AverageMS     float64 `json:"averageMS"`
	RecentMS      float64 `json:"recentMS"` // average of the most recent samples
	RecentP90MS   float64 `json:"recentP90MS"`
	RecentSamples int     `json:"recentSamples"`
}

// Stats is a set of named timers, safe for concurrent use
type Stats struct {
	lock    sync.Mutex
	timings map[string]*timing
}

func NewStats() *Stats {
	return &Stats{
		timings: map[string]*timing{},
	}
}

// Add records one sample for the named operation
func (s *Stats) Add(name string, d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	t := s.timings[name]
	if t == nil {
		t = &timing{
			recent: ringbuffer.NewRingP[time.Duration](recentWindow),
		}
		s.timings[name] = t
	}
	t.all.AddSample(d)
	t.recent.Add(d)
}

// Time runs f and records how long it took
func (s *Stats) Time(name string, f func()) {
	start := time.Now()
	f()
	s.Add(name, time.Since(start))
}

func (s *Stats) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.timings = map[string]*timing{}
}

// Summaries returns one summary per operation, sorted by name
func (s *Stats) Summaries() []Summary {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]Summary, 0, len(s.timings))
	for name, t := range s.timings {
		recent := make([]float64, t.recent.Len())
		for i := range recent {
			recent[i] = float64(t.recent.Peek(i).Nanoseconds()) / 1e6
		}
		sum := Summary{
			Name:          name,
			Samples:       t.all.Samples,
			AverageMS:     float64(t.all.Average().Nanoseconds()) / 1e6,
			RecentSamples: t.recent.Len(),
		}
		if len(recent) != 0 {
			sort.Float64s(recent)
			sum.RecentMS = stat.Mean(recent, nil)
			sum.RecentP90MS = stat.Quantile(0.9, stat.Empirical, recent, nil)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Stats) String() string {
	b := &strings.Builder{}
	for _, sum := range s.Summaries() {
		fmt.Fprintf(b, "%v: %v samples, %0.4f ms average, %0.4f ms recent, %0.4f ms recent p90\n", sum.Name, sum.Samples, sum.AverageMS, sum.RecentMS, sum.RecentP90MS)
	}
	return b.String()
}
