// Package coordinator runs a batch of work units on a pool of workers,
// retrying units that fail, and aggregating their outcomes.
//
// A Coordinator runs at most one Round at a time. The caller that starts a
// round gets a *Round handle back immediately, and can poll it, wait on it,
// or drain its progress messages.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/logs"
)

// MaxFailingSample is the maximum number of failing image numbers kept per label
const MaxFailingSample = 100

// Number of progress messages kept in a round. Must be a power of 2.
const messageBufferSize = 1024

// Outcome is what an executor reports for one unit
type Outcome struct {
	Counters map[string]int `json:"counters"`
	Failing  []int          `json:"failing"` // image numbers that failed, eg misclassified images
}

// Executor runs one unit. It must tolerate being called again for the same unit.
// Errors wrapping errs.ErrNotFound, errs.ErrCorrupt or errs.ErrValidation are
// not retried. An ErrNotFound error marks the whole round as failed.
type Executor func(ctx context.Context, u Unit) (Outcome, error)

type Config struct {
	Workers     int           // Size of the worker pool
	Stagger     time.Duration // Delay between starting each worker
	MaxAttempts int           // Maximum executions per unit, including the first. Zero means no limit.
	BackoffMin  time.Duration // Minimum sleep before a retry
	BackoffMax  time.Duration // Maximum sleep before a retry
}

func DefaultConfig() Config {
	return Config{
		Workers:     20,
		Stagger:     50 * time.Millisecond,
		MaxAttempts: 30,
		BackoffMin:  100 * time.Millisecond,
		BackoffMax:  300 * time.Millisecond,
	}
}

// Preset is the shape of one kind of workload
type Preset struct {
	Name        string
	BatchFiles  int // Files per unit. Zero means one unit per label.
	MaxAttempts int
}

var (
	Standardize = Preset{Name: "standardize", BatchFiles: 10, MaxAttempts: 30}
	Test        = Preset{Name: "test", BatchFiles: 32, MaxAttempts: 30}
	Train       = Preset{Name: "train", BatchFiles: 0, MaxAttempts: 10}
)

// Config returns base with the preset's retry cap
func (p Preset) Config(base Config) Config {
	base.MaxAttempts = p.MaxAttempts
	return base
}

// Coordinator runs rounds of one kind of work, one round at a time
type Coordinator struct {
	Log  logs.Log
	Name string

	config   Config
	lock     sync.Mutex
	current  *Round
	onFinish []func(r *Round)
}

func New(log logs.Log, name string, config Config) *Coordinator {
	def := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.BackoffMax < config.BackoffMin {
		config.BackoffMax = config.BackoffMin
	}
	return &Coordinator{
		Log:    log,
		Name:   name,
		config: config,
	}
}

func (c *Coordinator) Config() Config {
	return c.config
}

// OnFinish registers f to be called (on the round's manager goroutine) after every round finishes
func (c *Coordinator) OnFinish(f func(r *Round)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.onFinish = append(c.onFinish, f)
}

// Current returns the most recent round, which may be finished, or nil if no round has been started
func (c *Coordinator) Current() *Round {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.current
}

// IsBusy returns true while a round is running
func (c *Coordinator) IsBusy() bool {
	r := c.Current()
	return r != nil && !r.IsDone()
}

// Start begins a new round, and returns without waiting for it.
// Returns errs.ErrBusy if a round is already running.
// ctx only bounds the executor calls and backoff sleeps. Cancelling it makes
// the remaining units fail quickly, and the round still finishes normally.
func (c *Coordinator) Start(ctx context.Context, source Source, exec Executor) (*Round, error) {
	c.lock.Lock()
	if c.current != nil && !c.current.IsDone() {
		c.lock.Unlock()
		return nil, fmt.Errorf("%w: a %v round is already running", errs.ErrBusy, c.Name)
	}
	r := newRound(c.Name, source)
	c.current = r
	onFinish := append([]func(*Round){}, c.onFinish...)
	c.lock.Unlock()

	c.Log.Infof("Starting %v round with %v workers", c.Name, c.config.Workers)
	r.addMessage("Starting %v round", c.Name)

	wg := sync.WaitGroup{}
	for i := 0; i < c.config.Workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i != 0 && c.config.Stagger > 0 {
				select {
				case <-time.After(time.Duration(i) * c.config.Stagger):
				case <-ctx.Done():
				}
			}
			c.worker(ctx, r, exec)
		}(i)
	}

	go func() {
		wg.Wait()
		res := r.finish()
		c.Log.Infof("%v round finished: %v units done, %v failed, %v retries, in %.1f seconds", c.Name, res.UnitsDone, res.UnitsFailed, res.Retries, res.Finished.Sub(res.Started).Seconds())
		for _, f := range onFinish {
			f(r)
		}
		close(r.done)
	}()

	return r, nil
}

func (c *Coordinator) worker(ctx context.Context, r *Round, exec Executor) {
	for {
		u, ok := r.next()
		if !ok {
			return
		}
		out, attempts, err := c.runUnit(ctx, r, u, exec)
		r.merge(u, out, attempts, err)
		if err != nil {
			c.Log.Warnf("%v unit %v [%v, %v) failed after %v attempts: %v", c.Name, u.Label, u.Start, u.End, attempts, err)
		}
	}
}

func permanent(err error) bool {
	return errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrCorrupt) || errors.Is(err, errs.ErrValidation) || errors.Is(err, context.Canceled)
}

func (c *Coordinator) runUnit(ctx context.Context, r *Round, u Unit, exec Executor) (Outcome, int, error) {
	for attempt := 1; ; attempt++ {
		out, err := exec(ctx, u)
		if err == nil {
			return out, attempt, nil
		}
		if permanent(err) || (c.config.MaxAttempts > 0 && attempt >= c.config.MaxAttempts) {
			return Outcome{}, attempt, err
		}
		r.addMessage("Retrying %v [%v, %v) after attempt %v: %v", u.Label, u.Start, u.End, attempt, err)
		select {
		case <-time.After(c.backoff()):
		case <-ctx.Done():
			return Outcome{}, attempt, ctx.Err()
		}
	}
}

func (c *Coordinator) backoff() time.Duration {
	spread := c.config.BackoffMax - c.config.BackoffMin
	if spread <= 0 {
		return c.config.BackoffMin
	}
	return c.config.BackoffMin + rand.N(spread+1)
}

// LabelResults is the aggregate of all units of one label
type LabelResults struct {
	Counters    map[string]int `json:"counters"`
	Failing     []int          `json:"failing"` // at most MaxFailingSample, in arrival order
	UnitsDone   int            `json:"unitsDone"`
	UnitsFailed int            `json:"unitsFailed"`
}

// Results is a snapshot of a round's aggregate
type Results struct {
	Kind        string                   `json:"kind"`
	Labels      map[string]*LabelResults `json:"labels"`
	UnitsDone   int                      `json:"unitsDone"`
	UnitsFailed int                      `json:"unitsFailed"`
	Attempts    int                      `json:"attempts"`
	Retries     int                      `json:"retries"`
	Failed      bool                     `json:"failed"` // a required input was missing
	Errors      []string                 `json:"errors"` // one per failed unit, at most MaxFailingSample
	Started     time.Time                `json:"started"`
	Finished    time.Time                `json:"finished"` // zero while running
	Done        bool                     `json:"done"`
}

// Total sums a counter over all labels
func (r *Results) Total(counter string) int {
	n := 0
	for _, l := range r.Labels {
		n += l.Counters[counter]
	}
	return n
}

func (r *Results) clone() Results {
	c := *r
	c.Labels = make(map[string]*LabelResults, len(r.Labels))
	for k, v := range r.Labels {
		lc := *v
		lc.Counters = make(map[string]int, len(v.Counters))
		for ck, cv := range v.Counters {
			lc.Counters[ck] = cv
		}
		lc.Failing = append([]int{}, v.Failing...)
		c.Labels[k] = &lc
	}
	c.Errors = append([]string{}, r.Errors...)
	return c
}

// Round is the handle of one run of a Coordinator
type Round struct {
	done chan struct{}

	// Guards everything below. It's only held for bookkeeping, never during an executor call.
	lock     sync.Mutex
	source   Source
	results  Results
	messages ringbuffer.RingP[string]
}

func newRound(kind string, source Source) *Round {
	return &Round{
		done:   make(chan struct{}),
		source: source,
		results: Results{
			Kind:    kind,
			Labels:  map[string]*LabelResults{},
			Started: time.Now(),
		},
		messages: ringbuffer.NewRingP[string](messageBufferSize),
	}
}

// Done is closed when the round has finished
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the round has finished, and returns the final results
func (r *Round) Wait() Results {
	<-r.done
	return r.Results()
}

func (r *Round) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Failed is true if any unit reported a missing input
func (r *Round) Failed() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.results.Failed
}

// Results returns a snapshot of the aggregate so far
func (r *Round) Results() Results {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.results.clone()
}

// Messages returns the progress messages since the previous call.
// Only the most recent messages are kept if nobody reads them.
func (r *Round) Messages() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]string, 0, r.messages.Len())
	for i := 0; i < r.messages.Len(); i++ {
		out = append(out, r.messages.Peek(i))
	}
	r.messages = ringbuffer.NewRingP[string](messageBufferSize)
	return out
}

func (r *Round) addMessage(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.lock.Lock()
	r.messages.Add(msg)
	r.lock.Unlock()
}

func (r *Round) next() (Unit, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.source.Next()
}

func (r *Round) merge(u Unit, out Outcome, attempts int, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := &r.results
	lr := res.Labels[u.Label]
	if lr == nil {
		lr = &LabelResults{Counters: map[string]int{}}
		res.Labels[u.Label] = lr
	}
	res.Attempts += attempts
	res.Retries += attempts - 1
	if err != nil {
		res.UnitsFailed++
		lr.UnitsFailed++
		if errors.Is(err, errs.ErrNotFound) {
			res.Failed = true
		}
		msg := fmt.Sprintf("%v [%v, %v): %v", u.Label, u.Start, u.End, err)
		if len(res.Errors) < MaxFailingSample {
			res.Errors = append(res.Errors, msg)
		}
		r.messages.Add("Failed " + msg)
		return
	}
	res.UnitsDone++
	lr.UnitsDone++
	for k, v := range out.Counters {
		lr.Counters[k] += v
	}
	for _, f := range out.Failing {
		if len(lr.Failing) >= MaxFailingSample {
			break
		}
		lr.Failing = append(lr.Failing, f)
	}
	r.messages.Add(fmt.Sprintf("Done %v [%v, %v)", u.Label, u.Start, u.End))
}

func (r *Round) finish() Results {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.results.Finished = time.Now()
	r.results.Done = true
	r.messages.Add("Finished")
	return r.results.clone()
}
