// Package training drives the bulk jobs over the stored image data:
// standardizing every file, testing the published model, and training a
// new model from the candidate images of every label.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/glyphs/pkg/errs"
	"github.com/cyclopcam/glyphs/pkg/recog"
	"github.com/cyclopcam/glyphs/server/imagedata"
	"github.com/cyclopcam/glyphs/server/rounddb"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/logs"
)

// TestRequest selects the images to test. Start and End are image numbers,
// which are rounded down to their files, and clamped to the images of each label.
type TestRequest struct {
	Label     string `json:"label"` // Empty means every label
	AllImages bool   `json:"allImages"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

// TrainRequest describes the images to add to the candidate sets before training
type TrainRequest struct {
	NewData         map[string][]int `json:"newData"`         // label -> image numbers
	UseTestFailures bool             `json:"useTestFailures"` // add the failing sample of the last finished test round
	Seed            int              `json:"seed"`            // add the first Seed images of every label
}

// Pipeline owns one coordinator per kind of round. Rounds of different kinds
// may run at the same time, but a kind never overlaps itself.
type Pipeline struct {
	Log         logs.Log
	index       *imagedata.LabelIndex
	store       storage.Storage
	rounds      *rounddb.RoundDB // may be nil
	loader      ModelLoader
	standardize *coordinator.Coordinator
	test        *coordinator.Coordinator
	train       *coordinator.Coordinator
	ctx         context.Context
	cancel      context.CancelFunc

	lock      sync.Mutex
	training  *TrainingRun
	onPublish []func()
}

// NewPipeline creates a pipeline. If loader is nil, tests load the published model from store.
func NewPipeline(log logs.Log, index *imagedata.LabelIndex, store storage.Storage, rounds *rounddb.RoundDB, config coordinator.Config, loader ModelLoader) *Pipeline {
	if loader == nil {
		loader = func() (*recog.Model, error) {
			return LoadPublished(store)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		Log:         log,
		index:       index,
		store:       store,
		rounds:      rounds,
		loader:      loader,
		standardize: coordinator.New(log, coordinator.Standardize.Name, coordinator.Standardize.Config(config)),
		test:        coordinator.New(log, coordinator.Test.Name, coordinator.Test.Config(config)),
		train:       coordinator.New(log, coordinator.Train.Name, coordinator.Train.Config(config)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Close makes running rounds fail their remaining units quickly
func (p *Pipeline) Close() {
	p.cancel()
}

// OnPublish registers f to be called after a training run publishes a new model
func (p *Pipeline) OnPublish(f func()) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.onPublish = append(p.onPublish, f)
}

// Coordinator returns the coordinator of kind ("standardize", "test" or "train"), or nil
func (p *Pipeline) Coordinator(kind string) *coordinator.Coordinator {
	switch kind {
	case coordinator.Standardize.Name:
		return p.standardize
	case coordinator.Test.Name:
		return p.test
	case coordinator.Train.Name:
		return p.train
	}
	return nil
}

// startRound starts a round, and records it in the audit log
func (p *Pipeline) startRound(c *coordinator.Coordinator, source coordinator.Source, exec coordinator.Executor) (*coordinator.Round, error) {
	r, err := c.Start(p.ctx, source, exec)
	if err != nil {
		return nil, err
	}
	if p.rounds != nil {
		id, err := p.rounds.Begin(c.Name, r.Results().Started)
		if err != nil {
			p.Log.Errorf("Failed to record start of %v round: %v", c.Name, err)
			return r, nil
		}
		go func() {
			res := r.Wait()
			var roundErr error
			if res.Failed {
				roundErr = errors.New("a required input was missing")
			}
			if err := p.rounds.Finish(id, res, roundErr); err != nil {
				p.Log.Errorf("Failed to record end of %v round %v: %v", c.Name, id, err)
			}
		}()
	}
	return r, nil
}

// StartStandardizeAll rebuilds every standard file from its original
func (p *Pipeline) StartStandardizeAll() (*coordinator.Round, error) {
	ranges := []coordinator.LabelRange{}
	for _, st := range p.index.AllStats() {
		ranges = append(ranges, coordinator.LabelRange{Label: st.Label, Start: 0, End: st.LastFile + imagedata.MaxImagesPerFile})
	}
	source := coordinator.FileRanges(ranges, coordinator.Standardize.BatchFiles, imagedata.MaxImagesPerFile)
	return p.startRound(p.standardize, source, StandardizeExecutor(p.index))
}

// TestRanges resolves req into the image ranges of every label it covers
func (p *Pipeline) TestRanges(req TestRequest) ([]coordinator.LabelRange, error) {
	stats := []imagedata.LabelStats{}
	if req.Label == "" {
		stats = p.index.AllStats()
	} else {
		st, ok := p.index.Stats(req.Label)
		if !ok {
			return nil, errs.NotFoundf("label '%v'", req.Label)
		}
		stats = append(stats, st)
	}
	ranges := []coordinator.LabelRange{}
	for _, st := range stats {
		start, end := 0, st.LastFile
		if !req.AllImages {
			start = clamp(imagedata.FileNumber(req.Start), 0, st.LastFile)
			end = clamp(imagedata.FileNumber(req.End), 0, st.LastFile)
		}
		if end < start {
			return nil, errs.Validationf("test range [%v, %v] is empty", req.Start, req.End)
		}
		ranges = append(ranges, coordinator.LabelRange{Label: st.Label, Start: start, End: end + imagedata.MaxImagesPerFile})
	}
	return ranges, nil
}

// StartTest recognizes the selected standard images with the published model
func (p *Pipeline) StartTest(req TestRequest) (*coordinator.Round, error) {
	ranges, err := p.TestRanges(req)
	if err != nil {
		return nil, err
	}
	source := coordinator.FileRanges(ranges, coordinator.Test.BatchFiles, imagedata.MaxImagesPerFile)
	return p.startRound(p.test, source, TestExecutor(p.index, p.loader))
}

// Training returns the most recent training run, or nil
func (p *Pipeline) Training() *TrainingRun {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.training
}

// StartTraining adds new candidates, retrains every label, and publishes the
// merged model. It returns without waiting.
func (p *Pipeline) StartTraining(req TrainRequest) (*TrainingRun, error) {
	p.lock.Lock()
	if p.training != nil && !p.training.IsDone() {
		p.lock.Unlock()
		return nil, fmt.Errorf("%w: training is already running", errs.ErrBusy)
	}
	run := newTrainingRun()
	p.training = run
	onPublish := append([]func(){}, p.onPublish...)
	p.lock.Unlock()

	go func() {
		err := p.runTraining(run, req)
		if err != nil {
			p.Log.Errorf("Training failed: %v", err)
			run.addMessage("Training failed: %v", err)
		} else {
			p.Log.Infof("Training finished in %.1f seconds", time.Since(run.started).Seconds())
			run.addMessage("Published new model")
			for _, f := range onPublish {
				f()
			}
		}
		run.finish(err)
	}()
	return run, nil
}

func (p *Pipeline) runTraining(run *TrainingRun, req TrainRequest) error {
	run.setStage(StageCandidates)
	labels, err := p.updateCandidates(req)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return errs.NotFoundf("no label has any candidate images")
	}
	run.addMessage("Training %v labels", len(labels))

	run.setStage(StageCollection)
	candidates, err := BuildCandidateCollection(p.index, p.store, labels)
	if err != nil {
		return err
	}
	run.addMessage("Candidate collection has %v templates", candidates.Len())

	run.setStage(StageTrain)
	units := make([]coordinator.Unit, len(labels))
	for i, label := range labels {
		units[i] = coordinator.Unit{Label: label}
	}
	round, err := p.startRound(p.train, coordinator.Units(units), TrainExecutor(p.store, candidates))
	if err != nil {
		return err
	}
	run.setRound(round)
	res := round.Wait()
	if res.UnitsFailed != 0 {
		return fmt.Errorf("%v of %v labels failed to train: %v", res.UnitsFailed, len(labels), res.Errors)
	}

	run.setStage(StageMerge)
	merged, ix, err := MergeLabels(p.store, labels)
	if err != nil {
		return err
	}
	run.addMessage("Merged model has %v templates and %v index entries", merged.Len(), ix.Len())

	run.setStage(StagePublish)
	return Publish(p.store, merged, ix)
}

// updateCandidates adds the images named by req to the candidate sets, and
// returns every label that has candidates, in index order
func (p *Pipeline) updateCandidates(req TrainRequest) ([]string, error) {
	failures := map[string][]int{}
	if req.UseTestFailures {
		if r := p.test.Current(); r != nil && r.IsDone() {
			for label, lr := range r.Results().Labels {
				failures[label] = lr.Failing
			}
		}
	}
	for label := range req.NewData {
		if _, ok := p.index.Stats(label); !ok {
			return nil, errs.Validationf("new training data for unknown label '%v'", label)
		}
	}

	labels := []string{}
	for _, label := range p.index.Labels() {
		cand, err := LoadCandidates(p.store, label)
		if err != nil {
			return nil, err
		}
		count, err := p.index.ImageCount(label)
		if err != nil {
			return nil, err
		}
		add := append([]int{}, req.NewData[label]...)
		add = append(add, failures[label]...)
		for i := 0; i < min(req.Seed, count); i++ {
			add = append(add, i)
		}
		for _, id := range add {
			if id < 0 || id >= count {
				return nil, errs.Validationf("label '%v' has no image %v", label, id)
			}
		}
		if cand.Add(add) {
			if err := cand.Save(p.store); err != nil {
				return nil, err
			}
		}
		if cand.Count() != 0 {
			labels = append(labels, label)
		}
	}
	return labels, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
