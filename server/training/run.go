package training

import (
	"fmt"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/glyphs/pkg/coordinator"
)

// Stages of a training run
const (
	StageCandidates = "candidates"
	StageCollection = "collection"
	StageTrain      = "train"
	StageMerge      = "merge"
	StagePublish    = "publish"
	StageDone       = "done"
)

// TrainingRun is the handle of one StartTraining call
type TrainingRun struct {
	done    chan struct{}
	started time.Time

	lock     sync.Mutex
	stage    string
	round    *coordinator.Round
	err      error
	messages ringbuffer.RingP[string]
}

// TrainingProgress is a snapshot of a training run
type TrainingProgress struct {
	Stage    string               `json:"stage"`
	Done     bool                 `json:"done"`
	Error    string               `json:"error"`
	Messages []string             `json:"messages"` // new since the previous call
	Round    *coordinator.Results `json:"round"`    // the train round, once it has started
}

func newTrainingRun() *TrainingRun {
	return &TrainingRun{
		done:     make(chan struct{}),
		started:  time.Now(),
		messages: ringbuffer.NewRingP[string](256),
	}
}

func (t *TrainingRun) Done() <-chan struct{} {
	return t.done
}

func (t *TrainingRun) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the run has finished, and returns its error
func (t *TrainingRun) Wait() error {
	<-t.done
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.err
}

// Progress returns the current state, and drains the message log
func (t *TrainingRun) Progress() TrainingProgress {
	t.lock.Lock()
	defer t.lock.Unlock()
	p := TrainingProgress{
		Stage:    t.stage,
		Done:     t.IsDone(),
		Messages: make([]string, 0, t.messages.Len()),
	}
	if t.err != nil {
		p.Error = t.err.Error()
	}
	for i := 0; i < t.messages.Len(); i++ {
		p.Messages = append(p.Messages, t.messages.Peek(i))
	}
	t.messages = ringbuffer.NewRingP[string](256)
	if t.round != nil {
		p.Messages = append(p.Messages, t.round.Messages()...)
		res := t.round.Results()
		p.Round = &res
	}
	return p
}

func (t *TrainingRun) addMessage(format string, args ...any) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.messages.Add(fmt.Sprintf(format, args...))
}

func (t *TrainingRun) setStage(stage string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.stage = stage
	t.messages.Add("Stage: " + stage)
}

func (t *TrainingRun) setRound(r *coordinator.Round) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.round = r
}

func (t *TrainingRun) finish(err error) {
	t.lock.Lock()
	t.err = err
	if err == nil {
		t.stage = StageDone
	}
	t.lock.Unlock()
	close(t.done)
}
