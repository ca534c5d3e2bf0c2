// Package eval runs both extraction methods over a labeled dataset and
// scores each prediction against its gold document.
//
// A dataset is a directory tree of page images and PDFs. A document X.png
// may have a sibling X.json holding the gold extraction. Results are written
// to an output directory:
//
//	summary.json  per-sample outputs and metrics
//	report.json   per-method aggregate metrics and token usage
//	calls.jsonl   one line per model call
package eval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/docex/internal/home"
	"github.com/jackzampolin/docex/internal/jsontext"
	"github.com/jackzampolin/docex/internal/llmcall"
	"github.com/jackzampolin/docex/internal/metrics"
	"github.com/jackzampolin/docex/internal/pipeline"
)

// Output file names.
const (
	SummaryFile = "summary.json"
	ReportFile  = "report.json"
	CallsFile   = "calls.jsonl"
)

// DefaultOutputRoot is where timestamped run directories are created.
const DefaultOutputRoot = "eval/outputs"

// runDirLayout names a run directory, e.g. 20240131_154500.
const runDirLayout = "20060102_150405"

// inputExts are the document extensions collected from a dataset.
var inputExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".pdf":  true,
}

// NotFoundError is returned when the dataset directory does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Dataset not found: %s", e.Path)
}

// Result is one method's output for a sample.
type Result struct {
	Output  string          `json:"output"`
	Metrics metrics.Metrics `json:"metrics"`
}

// Sample pairs an input document with both methods' results.
type Sample struct {
	Input   string `json:"input"`
	OneStep Result `json:"one_step"`
	TwoStep Result `json:"two_step"`

	gold []byte
}

// HasGold reports whether a gold document was found for the sample.
func (s Sample) HasGold() bool {
	return s.gold != nil
}

// Summary is the content of summary.json.
type Summary struct {
	Dataset string   `json:"dataset"`
	Task    string   `json:"task"`
	Samples []Sample `json:"samples"`
}

// MethodReport aggregates one method over the dataset.
type MethodReport struct {
	metrics.Report
	Usage llmcall.Usage `json:"usage"`
}

// Report is the content of report.json.
type Report struct {
	Dataset string                  `json:"dataset"`
	Task    string                  `json:"task"`
	Methods map[string]MethodReport `json:"methods"`
}

// Options configures an Evaluator.
type Options struct {
	OutputRoot  string // Parent of timestamped run directories; defaults to DefaultOutputRoot
	Concurrency int    // Samples evaluated in parallel; values below 1 mean 1
	ShareModels bool   // Load models once per run instead of once per call

	// Now is used to name run directories. Defaults to time.Now.
	Now func() time.Time
}

// Evaluator runs datasets through the extraction methods.
type Evaluator struct {
	deps pipeline.Deps
	opts Options
}

// NewEvaluator creates an evaluator. deps.Loader is copied per run with a
// recorder attached, so the caller's loader is left untouched.
func NewEvaluator(deps pipeline.Deps, opts Options) *Evaluator {
	if opts.OutputRoot == "" {
		opts.OutputRoot = DefaultOutputRoot
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Evaluator{deps: deps, opts: opts}
}

// RunEval evaluates every document under datasetDir for task and writes the
// run's files to outputDir, or to a new timestamped directory under the
// output root when outputDir is empty. Any pipeline failure aborts the run
// before summary.json is written.
func (e *Evaluator) RunEval(ctx context.Context, datasetDir, task, outputDir string) (*Summary, error) {
	log := e.deps.Logger

	datasetDir, err := home.Resolve(datasetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset path: %w", err)
	}
	info, err := os.Stat(datasetDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Path: datasetDir}
		}
		return nil, fmt.Errorf("failed to stat dataset: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset is not a directory: %s", datasetDir)
	}
	if _, err := e.deps.Prompts.Schemas().Load(task); err != nil {
		return nil, err
	}

	inputs, err := FindInputs(datasetDir)
	if err != nil {
		return nil, err
	}

	if outputDir == "" {
		outputDir = filepath.Join(e.opts.OutputRoot, e.opts.Now().Format(runDirLayout))
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	callsFile, err := os.Create(filepath.Join(outputDir, CallsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create call log: %w", err)
	}
	defer callsFile.Close()
	recorder := llmcall.NewRecorder(callsFile, log)

	methods, release, err := e.methods(ctx, recorder)
	if err != nil {
		return nil, err
	}
	defer release()

	log.Info("starting eval", "dataset", datasetDir, "task", task, "inputs", len(inputs), "output_dir", outputDir)
	start := time.Now()

	samples, err := e.runSamples(ctx, methods, inputs, task)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Dataset: datasetDir, Task: task, Samples: samples}
	if err := writeJSON(filepath.Join(outputDir, SummaryFile), summary); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(outputDir, ReportFile), BuildReport(summary, recorder)); err != nil {
		return nil, err
	}

	log.Info("eval complete", "samples", len(samples), "output_dir", outputDir, "duration", time.Since(start))
	return summary, nil
}

// methods returns the two runners, sharing loaded models when configured.
func (e *Evaluator) methods(ctx context.Context, recorder *llmcall.Recorder) ([2]pipeline.Runner, func(), error) {
	deps := e.deps
	deps.Loader = deps.Loader.WithRecorder(recorder)

	var handles *pipeline.Handles
	release := func() {}
	if e.opts.ShareModels {
		h, err := deps.Loader.LoadHandles(ctx)
		if err != nil {
			return [2]pipeline.Runner{}, nil, err
		}
		handles, release = h, h.Release
	}

	reg := pipeline.NewDefaultRegistry(deps, handles)
	one, err := reg.Get(pipeline.MethodOneStep)
	if err != nil {
		release()
		return [2]pipeline.Runner{}, nil, err
	}
	two, err := reg.Get(pipeline.MethodTwoStep)
	if err != nil {
		release()
		return [2]pipeline.Runner{}, nil, err
	}
	return [2]pipeline.Runner{one, two}, release, nil
}

// runSamples evaluates inputs with bounded parallelism. Samples keep the
// order of inputs regardless of completion order.
func (e *Evaluator) runSamples(ctx context.Context, methods [2]pipeline.Runner, inputs []string, task string) ([]Sample, error) {
	samples := make([]Sample, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, input := range inputs {
		g.Go(func() error {
			s, err := e.evalSample(gctx, methods, input, task)
			if err != nil {
				return err
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

func (e *Evaluator) evalSample(ctx context.Context, methods [2]pipeline.Runner, input, task string) (Sample, error) {
	gold, err := LoadGold(input)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{Input: input, gold: gold}
	for i, runner := range methods {
		out, err := runner.Run(ctx, input, task)
		if err != nil {
			return Sample{}, fmt.Errorf("%s failed on %s: %w", runner.Name(), input, err)
		}
		r := Result{Output: out, Metrics: metrics.ComputeMetrics(out, gold)}
		if i == 0 {
			s.OneStep = r
		} else {
			s.TwoStep = r
		}
	}

	e.deps.Logger.Info("sample scored",
		"input", input,
		"gold", gold != nil,
		"one_step_valid", s.OneStep.Metrics.JSONValid,
		"two_step_valid", s.TwoStep.Metrics.JSONValid)
	return s, nil
}

// FindInputs returns the documents under dir, ordered by comparing path
// components in turn, so "a/x.png" sorts before "a-1.png".
func FindInputs(dir string) ([]string, error) {
	var inputs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if inputExts[strings.ToLower(filepath.Ext(path))] {
			inputs = append(inputs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk dataset: %w", err)
	}
	slices.SortFunc(inputs, comparePaths)
	return inputs, nil
}

func comparePaths(a, b string) int {
	return slices.Compare(
		strings.Split(filepath.ToSlash(a), "/"),
		strings.Split(filepath.ToSlash(b), "/"),
	)
}

// GoldPath returns the sibling .json path for an input document.
func GoldPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".json"
}

// LoadGold reads the gold document for input. A missing file, or one whose
// content is the literal null, yields nil without error.
func LoadGold(input string) ([]byte, error) {
	path := GoldPath(input)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gold: %w", err)
	}

	if _, ok := metrics.ParseJSON(string(data)); !ok {
		if strings.TrimSpace(string(data)) == "null" {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid gold JSON: %s", path)
	}
	return data, nil
}

// BuildReport aggregates a summary per method. Token usage is taken from
// recorder, which may be nil.
func BuildReport(s *Summary, recorder *llmcall.Recorder) Report {
	one := make([]metrics.Metrics, len(s.Samples))
	two := make([]metrics.Metrics, len(s.Samples))
	for i, sample := range s.Samples {
		one[i] = sample.OneStep.Metrics
		two[i] = sample.TwoStep.Metrics
	}

	return Report{
		Dataset: s.Dataset,
		Task:    s.Task,
		Methods: map[string]MethodReport{
			pipeline.MethodOneStep: {
				Report: metrics.Aggregate(one),
				Usage:  recorder.Usage(llmcall.Filter{Method: pipeline.MethodOneStep}),
			},
			pipeline.MethodTwoStep: {
				Report: metrics.Aggregate(two),
				Usage:  recorder.Usage(llmcall.Filter{Method: pipeline.MethodTwoStep}),
			},
		},
	}
}

func writeJSON(path string, v any) error {
	data, err := jsontext.MarshalIndent(v, "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
