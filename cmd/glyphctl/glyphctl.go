package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/glyphs/pkg/apikey"
	"github.com/cyclopcam/glyphs/pkg/bitimage"
	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/glyphs/pkg/recog"
	"github.com/cyclopcam/glyphs/pkg/template"
	"github.com/cyclopcam/glyphs/server/imagedata"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/glyphs/server/training"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("glyphctl", "Manage the image data and models of the glyph recognizer")
	root := parser.String("r", "root", &argparse.Options{Help: "Root directory of a filesystem blob store", Default: ""})
	bucket := parser.String("b", "bucket", &argparse.Options{Help: "Google Cloud Storage bucket (instead of --root)", Default: ""})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Worker pool size", Default: 20})

	addCmd := parser.NewCommand("add", "Add a file of concatenated images to a label")
	addLabel := addCmd.String("l", "label", &argparse.Options{Required: true, Help: "Label of the images"})
	addType := addCmd.Selector("t", "type", []string{bitimage.TypeGrayscale, bitimage.TypeBilevel}, &argparse.Options{Help: "G (one byte per pixel) or B (one bit per pixel)", Default: bitimage.TypeBilevel})
	addHeight := addCmd.Int("", "height", &argparse.Options{Required: true, Help: "Image height"})
	addWidth := addCmd.Int("", "width", &argparse.Options{Required: true, Help: "Image width"})
	addFile := addCmd.String("f", "file", &argparse.Options{Required: true, Help: "Raw image file"})

	idxCmd := parser.NewCommand("ingest-idx", "Add images from an IDX image file and its label file (MNIST format)")
	idxImages := idxCmd.String("i", "images", &argparse.Options{Required: true, Help: "IDX image file (may be gzipped)"})
	idxLabels := idxCmd.String("l", "labels", &argparse.Options{Required: true, Help: "IDX label file (may be gzipped)"})
	idxLimit := idxCmd.Int("n", "limit", &argparse.Options{Help: "Maximum number of images to add (0 = all)", Default: 0})

	stdCmd := parser.NewCommand("standardize", "Rebuild every standardized image file")

	trainCmd := parser.NewCommand("train", "Add candidates, train, and publish a new model")
	trainSeed := trainCmd.Int("s", "seed", &argparse.Options{Help: "Add the first N images of every label to the candidates", Default: 0})
	trainFailures := trainCmd.Flag("", "failures", &argparse.Options{Help: "Run a test first, and add its failures to the candidates", Default: false})

	testCmd := parser.NewCommand("test", "Test the published model against the standardized images")
	testLabel := testCmd.String("l", "label", &argparse.Options{Help: "Only test this label", Default: ""})
	testStart := testCmd.Int("", "start", &argparse.Options{Help: "First image number", Default: 0})
	testEnd := testCmd.Int("", "end", &argparse.Options{Help: "Last image number (default: all)", Default: -1})
	testShow := testCmd.Int("", "show", &argparse.Options{Help: "Number of misclassified glyphs to draw per label", Default: 3})

	hashCmd := parser.NewCommand("hashkey", "Generate an admin API key, and print it with its hash for the server config")
	hashKey := hashCmd.String("k", "key", &argparse.Options{Help: "Hash this key instead of generating one", Default: ""})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if hashCmd.Happened() {
		key := *hashKey
		if key == "" {
			key = apikey.Generate()
		}
		fmt.Printf("key:          %v\n", key)
		fmt.Printf("adminKeyHash: %v\n", apikey.Hash(key))
		return
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	var store storage.Storage
	if *bucket != "" {
		store, err = storage.NewStorageGCS(logger, *bucket)
	} else if *root != "" {
		store, err = storage.NewStorageFS(logger, *root)
	} else {
		err = fmt.Errorf("Either --root or --bucket must be specified")
	}
	check(err)

	index := imagedata.NewLabelIndex(logger, store)
	check(index.Load())
	cfg := coordinator.DefaultConfig()
	cfg.Workers = *workers
	pipeline := training.NewPipeline(logger, index, store, nil, cfg, nil)
	defer pipeline.Close()

	switch {
	case addCmd.Happened():
		raw, err := os.ReadFile(*addFile)
		check(err)
		files, err := index.AddImages(*addLabel, *addType, *addHeight, *addWidth, raw)
		check(err)
		fmt.Printf("Wrote files %v of '%v'\n", files, *addLabel)
	case idxCmd.Happened():
		check(ingestIDX(index, *idxImages, *idxLabels, *idxLimit))
	case stdCmd.Happened():
		r, err := pipeline.StartStandardizeAll()
		check(err)
		res := r.Wait()
		fmt.Printf("Standardized %v images in %v files (%v units failed)\n", res.Total(training.CounterImages), res.Total(training.CounterFiles), res.UnitsFailed)
		printErrors(res)
	case trainCmd.Happened():
		req := training.TrainRequest{Seed: *trainSeed, UseTestFailures: *trainFailures}
		if *trainFailures {
			r, err := pipeline.StartTest(training.TestRequest{AllImages: true})
			check(err)
			res := r.Wait()
			fmt.Printf("Pre-training test: %v correct, %v incorrect, %v unknown\n", res.Total(training.CounterCorrect), res.Total(training.CounterIncorrect), res.Total(training.CounterUnknown))
		}
		run, err := pipeline.StartTraining(req)
		check(err)
		check(waitTraining(run))
	case testCmd.Happened():
		req := training.TestRequest{Label: *testLabel, Start: *testStart, End: *testEnd}
		if *testEnd < 0 {
			req.AllImages = *testStart == 0
			req.End = 1 << 30
		}
		r, err := pipeline.StartTest(req)
		check(err)
		res := r.Wait()
		printErrors(res)
		model, err := training.LoadPublished(store)
		check(err)
		printTestResults(index, model, res, *testShow)
	}
}

func waitTraining(run *training.TrainingRun) error {
	for {
		select {
		case <-run.Done():
			for _, m := range run.Progress().Messages {
				fmt.Println(m)
			}
			return run.Wait()
		case <-time.After(time.Second):
			for _, m := range run.Progress().Messages {
				fmt.Println(m)
			}
		}
	}
}

func printErrors(res coordinator.Results) {
	for _, e := range res.Errors {
		fmt.Printf("Error: %v\n", e)
	}
}

// Prints a table of the results per label, and draws some of the misclassified glyphs
// next to the template that they matched
func printTestResults(index *imagedata.LabelIndex, model *recog.Model, res coordinator.Results, show int) {
	labels := []string{}
	for label := range res.Labels {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	fmt.Printf("%-10v %8v %10v %8v %8v\n", "Label", "Correct", "Incorrect", "Unknown", "Accuracy")
	for _, label := range labels {
		c := res.Labels[label].Counters
		total := c[training.CounterCorrect] + c[training.CounterIncorrect] + c[training.CounterUnknown]
		accuracy := 0.0
		if total != 0 {
			accuracy = 100 * float64(c[training.CounterCorrect]) / float64(total)
		}
		fmt.Printf("%-10v %8v %10v %8v %7.2f%%\n", label, c[training.CounterCorrect], c[training.CounterIncorrect], c[training.CounterUnknown], accuracy)
	}

	for _, label := range labels {
		failing := slices.Clone(res.Labels[label].Failing)
		if len(failing) > show {
			failing = failing[:show]
		}
		slices.Sort(failing)
		if len(failing) == 0 {
			continue
		}
		raw, err := index.LabelBytesByNumbers(imagedata.PrefixStandard, label, failing)
		if err != nil {
			fmt.Printf("Failed to read misclassified images of '%v': %v\n", label, err)
			continue
		}
		for i, n := range failing {
			glyph, err := template.FromPacked(raw, i*bitimage.StandardBytes, bitimage.StandardSize, bitimage.StandardSize)
			if err != nil {
				continue
			}
			result, _ := model.RecognizeDetailed(glyph.Grid())
			matched := "unknown"
			right := ""
			if result.OK {
				matched = result.Label
				if best, err := model.Collection().Template(result.Matches[0].ID); err == nil {
					right = best.String()
				}
			}
			fmt.Printf("\n'%v' image %v recognized as '%v'\n", label, n, matched)
			fmt.Print(sideBySide(glyph.String(), right))
		}
	}
}

func sideBySide(left, right string) string {
	l := strings.Split(strings.TrimRight(left, "\n"), "\n")
	r := strings.Split(strings.TrimRight(right, "\n"), "\n")
	sb := strings.Builder{}
	for i := range l {
		sb.WriteString(l[i])
		if i < len(r) && r[i] != "" {
			sb.WriteString("   ")
			sb.WriteString(r[i])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
