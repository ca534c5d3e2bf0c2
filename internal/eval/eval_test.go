package eval

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jackzampolin/docex/internal/document"
	"github.com/jackzampolin/docex/internal/pipeline"
	"github.com/jackzampolin/docex/internal/prompts"
	"github.com/jackzampolin/docex/internal/providers"
	"github.com/jackzampolin/docex/internal/schema"
	"github.com/jackzampolin/docex/internal/testutil"
)

const goldReceipt = `{
  "merchant_name": "Café Luna",
  "transaction_date": "2024-01-02",
  "totals": {"tax": "0.20", "total": "4.20"}
}`

var (
	testLogger = testutil.Logger
	writeText  = testutil.WriteFile
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	testutil.WritePNG(t, path)
}

type harness struct {
	vision *providers.MockClient
	text   *providers.MockClient
	deps   pipeline.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	schemaPath := testutil.SchemaFile(t)

	vision := providers.NewMockClient()
	vision.Respond = func(req *providers.ChatRequest) string {
		if req.Messages[0].Content == prompts.OCRPrompt {
			return "CAFE LUNA\nTOTAL 4.20"
		}
		return `{"merchant_name": "Café Luna", "totals": {"total": "4.20"}}`
	}
	text := providers.NewMockClient()
	text.ResponseText = "not json"

	reg := providers.NewRegistry()
	reg.RegisterLLM("vision", vision)
	reg.RegisterLLM("text", text)

	s := pipeline.DefaultSettings()
	s.VisionProvider, s.VisionModel = "vision", "v1"
	s.TextProvider, s.TextModel = "text", "t1"

	return &harness{
		vision: vision,
		text:   text,
		deps: pipeline.Deps{
			Loader:    pipeline.NewLoader(reg, s, testLogger()),
			Documents: document.NewLoader(document.DefaultOptions(), testLogger()),
			Prompts:   prompts.NewBuilder(schema.NewStore(schemaPath)),
			Logger:    testLogger(),
		},
	}
}

func TestRunEval(t *testing.T) {
	h := newHarness(t)
	dataset := t.TempDir()
	input := filepath.Join(dataset, "r1.png")
	writePNG(t, input)
	writeText(t, filepath.Join(dataset, "r1.json"), goldReceipt)
	out := t.TempDir()

	summary, err := NewEvaluator(h.deps, Options{}).RunEval(context.Background(), dataset, "receipt", out)
	if err != nil {
		t.Fatalf("RunEval() error = %v", err)
	}

	if len(summary.Samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(summary.Samples))
	}
	s := summary.Samples[0]
	if s.Input != input || !s.HasGold() {
		t.Errorf("sample input = %q gold = %v", s.Input, s.HasGold())
	}

	one := s.OneStep.Metrics
	if !one.JSONValid || !one.HasAccuracy() {
		t.Fatalf("one_step metrics = %+v", one)
	}
	if one.FieldsTotal != 4 || one.FieldsMatched != 2 || one.FieldAccuracy != 0.5 {
		t.Errorf("one_step accuracy = %+v, want 2/4", *one.Accuracy)
	}

	two := s.TwoStep.Metrics
	if two.JSONValid || two.FieldsTotal != 4 || two.FieldsMatched != 0 {
		t.Errorf("two_step metrics = %+v, want invalid total miss", two)
	}
	if s.TwoStep.Output != "not json" {
		t.Errorf("two_step output = %q", s.TwoStep.Output)
	}

	t.Run("summary.json", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, SummaryFile))
		if err != nil {
			t.Fatalf("failed to read summary: %v", err)
		}
		if !strings.HasPrefix(string(data), "{\n  \"dataset\": ") {
			t.Errorf("summary not 2-space indented:\n%s", data)
		}
		for _, b := range data {
			if b > 0x7f {
				t.Fatal("summary contains non-ASCII bytes")
			}
		}
		if !strings.Contains(string(data), `Caf\u00e9 Luna`) {
			t.Error("expected escaped non-ASCII output")
		}

		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("summary is not JSON: %v", err)
		}
		sample := got["samples"].([]any)[0].(map[string]any)
		metrics := sample["one_step"].(map[string]any)["metrics"].(map[string]any)
		if metrics["fields_total"] != float64(4) {
			t.Errorf("fields_total = %v", metrics["fields_total"])
		}
		if got["task"] != "receipt" || got["dataset"] != dataset {
			t.Errorf("dataset/task = %v/%v", got["dataset"], got["task"])
		}
	})

	t.Run("report.json", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, ReportFile))
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatalf("report is not JSON: %v", err)
		}
		one := r.Methods[pipeline.MethodOneStep]
		if one.Samples != 1 || one.Scored != 1 || one.FieldsMatched != 2 || one.Usage.Calls != 1 {
			t.Errorf("one_step report = %+v", one)
		}
		// transcription plus extraction
		if r.Methods[pipeline.MethodTwoStep].Usage.Calls != 2 {
			t.Errorf("two_step usage = %+v", r.Methods[pipeline.MethodTwoStep].Usage)
		}
	})

	t.Run("calls.jsonl", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, CallsFile))
		if err != nil {
			t.Fatalf("failed to read call log: %v", err)
		}
		if n := strings.Count(string(data), "\n"); n != 3 {
			t.Errorf("call log lines = %d, want 3", n)
		}
	})
}

func TestRunEval_NoGold(t *testing.T) {
	h := newHarness(t)
	dataset := t.TempDir()
	writePNG(t, filepath.Join(dataset, "a.png"))
	writePNG(t, filepath.Join(dataset, "b.png"))
	writeText(t, filepath.Join(dataset, "b.json"), "null")

	summary, err := NewEvaluator(h.deps, Options{}).RunEval(context.Background(), dataset, "receipt", t.TempDir())
	if err != nil {
		t.Fatalf("RunEval() error = %v", err)
	}
	for _, s := range summary.Samples {
		if s.HasGold() || s.OneStep.Metrics.HasAccuracy() {
			t.Errorf("%s: expected metrics without accuracy", s.Input)
		}
		if !s.OneStep.Metrics.JSONValid {
			t.Errorf("%s: expected json_valid", s.Input)
		}
	}
}

func TestRunEval_DefaultOutputDir(t *testing.T) {
	h := newHarness(t)
	dataset := t.TempDir()
	writePNG(t, filepath.Join(dataset, "a.png"))
	root := t.TempDir()

	e := NewEvaluator(h.deps, Options{
		OutputRoot: root,
		Now:        func() time.Time { return time.Date(2024, 1, 31, 15, 45, 0, 0, time.UTC) },
	})
	if _, err := e.RunEval(context.Background(), dataset, "receipt", ""); err != nil {
		t.Fatalf("RunEval() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "20240131_154500", SummaryFile)); err != nil {
		t.Errorf("expected summary in timestamped dir: %v", err)
	}
}

func TestRunEval_Errors(t *testing.T) {
	t.Run("missing dataset", func(t *testing.T) {
		h := newHarness(t)
		missing := filepath.Join(t.TempDir(), "nope")
		_, err := NewEvaluator(h.deps, Options{}).RunEval(context.Background(), missing, "receipt", t.TempDir())
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("error = %v, want NotFoundError", err)
		}
		if err.Error() != "Dataset not found: "+missing {
			t.Errorf("message = %q", err.Error())
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		h := newHarness(t)
		_, err := NewEvaluator(h.deps, Options{}).RunEval(context.Background(), t.TempDir(), "invoice", t.TempDir())
		var nf *schema.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("error = %v, want schema.NotFoundError", err)
		}
	})

	t.Run("pipeline failure writes no summary", func(t *testing.T) {
		h := newHarness(t)
		h.text.ShouldFail = true
		dataset := t.TempDir()
		writePNG(t, filepath.Join(dataset, "a.png"))
		out := t.TempDir()

		_, err := NewEvaluator(h.deps, Options{}).RunEval(context.Background(), dataset, "receipt", out)
		if err == nil || !strings.Contains(err.Error(), pipeline.MethodTwoStep) {
			t.Fatalf("error = %v, want two_step failure", err)
		}
		if _, err := os.Stat(filepath.Join(out, SummaryFile)); !errors.Is(err, os.ErrNotExist) {
			t.Error("summary.json should not be written on failure")
		}
	})

	t.Run("invalid gold", func(t *testing.T) {
		h := newHarness(t)
		dataset := t.TempDir()
		writePNG(t, filepath.Join(dataset, "a.png"))
		writeText(t, filepath.Join(dataset, "a.json"), "{broken")

		if _, err := NewEvaluator(h.deps, Options{}).RunEval(context.Background(), dataset, "receipt", t.TempDir()); err == nil {
			t.Error("expected error for invalid gold")
		}
	})
}

func TestRunEval_ConcurrentKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.vision.Latency = 5 * time.Millisecond
	dataset := t.TempDir()
	var want []string
	for _, name := range []string{"e.png", "a.png", "c.png", "b.png", "d.png"} {
		writePNG(t, filepath.Join(dataset, name))
	}
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		want = append(want, filepath.Join(dataset, name))
	}

	e := NewEvaluator(h.deps, Options{Concurrency: 3, ShareModels: true})
	summary, err := e.RunEval(context.Background(), dataset, "receipt", t.TempDir())
	if err != nil {
		t.Fatalf("RunEval() error = %v", err)
	}

	var got []string
	for _, s := range summary.Samples {
		got = append(got, s.Input)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sample order (-want +got):\n%s", diff)
	}
	// one_step and the transcription both use the vision model
	if n := h.vision.RequestCount(); n != 10 {
		t.Errorf("vision requests = %d, want 10", n)
	}
}

func TestFindInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "sub/c.jpeg", "sub/deep/d.pdf", "notes.txt", "a.json", "e.tiff"} {
		writeText(t, filepath.Join(dir, name), "x")
	}

	got, err := FindInputs(dir)
	if err != nil {
		t.Fatalf("FindInputs() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "sub/c.jpeg"),
		filepath.Join(dir, "sub/deep/d.pdf"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindInputs() (-want +got):\n%s", diff)
	}
}

func TestFindInputs_ComponentOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a-1.png", "a/x.png", "a.b/y.png", "a/b/z.png"} {
		writeText(t, filepath.Join(dir, name), "x")
	}

	got, err := FindInputs(dir)
	if err != nil {
		t.Fatalf("FindInputs() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "a", "b", "z.png"),
		filepath.Join(dir, "a", "x.png"),
		filepath.Join(dir, "a-1.png"),
		filepath.Join(dir, "a.b", "y.png"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindInputs() (-want +got):\n%s", diff)
	}
}

func TestRunEval_RelativeDataset(t *testing.T) {
	h := newHarness(t)
	root := t.TempDir()
	t.Chdir(root)
	writePNG(t, filepath.Join(root, "data", "a.png"))

	summary, err := NewEvaluator(h.deps, Options{}).RunEval(context.Background(), "data", "receipt", t.TempDir())
	if err != nil {
		t.Fatalf("RunEval() error = %v", err)
	}
	wd, _ := os.Getwd()
	wantDataset := filepath.Join(wd, "data")
	if summary.Dataset != wantDataset {
		t.Errorf("Dataset = %q, want %q", summary.Dataset, wantDataset)
	}
	if len(summary.Samples) != 1 || summary.Samples[0].Input != filepath.Join(wantDataset, "a.png") {
		t.Errorf("samples = %+v", summary.Samples)
	}
}

func TestLoadGold(t *testing.T) {
	dir := t.TempDir()
	writeText(t, filepath.Join(dir, "ok.json"), `{"a": "1"}`)
	writeText(t, filepath.Join(dir, "null.json"), "null\n")
	writeText(t, filepath.Join(dir, "bad.json"), "{")

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "ok.png", want: `{"a": "1"}`},
		{input: "null.pdf"},
		{input: "missing.jpg"},
		{input: "bad.jpeg", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := LoadGold(filepath.Join(dir, tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadGold() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("LoadGold() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGoldPath(t *testing.T) {
	if got := GoldPath("/data/r1.JPG"); got != "/data/r1.json" {
		t.Errorf("GoldPath() = %q", got)
	}
}
