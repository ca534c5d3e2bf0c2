package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jackzampolin/docex/internal/document"
	"github.com/jackzampolin/docex/internal/llmcall"
	"github.com/jackzampolin/docex/internal/prompts"
	"github.com/jackzampolin/docex/internal/providers"
	"github.com/jackzampolin/docex/internal/schema"
	"github.com/jackzampolin/docex/internal/testutil"
)

var testLogger = testutil.Logger

type fixture struct {
	dir      string
	input    string
	pngBytes []byte
	vision   *providers.MockClient
	text     *providers.MockClient
	registry *providers.Registry
	builder  *prompts.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "receipt.png")
	page := testutil.WritePNG(t, input)

	vision := providers.NewMockClient()
	vision.ResponseText = "  {\"merchant_name\": \"ACME\"}\n"
	text := providers.NewMockClient()
	text.ResponseText = `{"merchant_name": "ACME"}`

	reg := providers.NewRegistry()
	reg.RegisterLLM("vision", vision)
	reg.RegisterLLM("text", text)

	return &fixture{
		dir:      dir,
		input:    input,
		pngBytes: page,
		vision:   vision,
		text:     text,
		registry: reg,
		builder:  prompts.NewBuilder(schema.NewStore(testutil.SchemaFile(t))),
	}
}

func (f *fixture) settings() Settings {
	s := DefaultSettings()
	s.VisionProvider, s.VisionModel = "vision", "v1"
	s.TextProvider, s.TextModel = "text", "t1"
	s.LoadDelay = time.Millisecond
	return s
}

func (f *fixture) deps(s Settings) Deps {
	return Deps{
		Loader:    NewLoader(f.registry, s, testLogger()),
		Documents: document.NewLoader(document.DefaultOptions(), testLogger()),
		Prompts:   f.builder,
		Logger:    testLogger(),
	}
}

func TestOneStep_Run(t *testing.T) {
	f := newFixture(t)
	p := NewOneStep(f.deps(f.settings()))

	out, err := p.Run(context.Background(), f.input, "receipt")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != `{"merchant_name": "ACME"}` {
		t.Errorf("Run() = %q, want trimmed model output", out)
	}

	reqs := f.vision.Requests()
	if len(reqs) != 1 {
		t.Fatalf("vision requests = %d, want 1", len(reqs))
	}
	want, _ := f.builder.BuildExtractionPrompt("receipt")
	msg := reqs[0].Messages[0]
	if msg.Content != want {
		t.Errorf("prompt mismatch (-want +got):\n%s", cmp.Diff(want, msg.Content))
	}
	if len(msg.Images) != 1 || !bytes.Equal(msg.Images[0], f.pngBytes) {
		t.Error("expected the page image attached to the user turn")
	}
	if reqs[0].Model != "v1" || reqs[0].MaxTokens != 1024 {
		t.Errorf("request model = %q max_tokens = %d", reqs[0].Model, reqs[0].MaxTokens)
	}
	if reqs[0].ResponseFormat != nil {
		t.Error("expected no response format without JSON mode")
	}
	if f.text.RequestCount() != 0 {
		t.Error("one_step should not call the text model")
	}
}

func TestOneStep_JSONMode(t *testing.T) {
	f := newFixture(t)
	s := f.settings()
	s.JSONMode = true

	if _, err := NewOneStep(f.deps(s)).Run(context.Background(), f.input, "receipt"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	rf := f.vision.Requests()[0].ResponseFormat
	if rf == nil || rf.Type != "json_schema" {
		t.Fatalf("ResponseFormat = %+v, want json_schema", rf)
	}
	if !strings.Contains(string(rf.JSONSchema), `"merchant_name"`) {
		t.Errorf("schema does not name task fields: %s", rf.JSONSchema)
	}
}

func TestTwoStep_Run(t *testing.T) {
	f := newFixture(t)
	f.vision.Respond = func(req *providers.ChatRequest) string {
		if req.Messages[0].Content == prompts.OCRPrompt {
			return "ACME STORE\nTOTAL 4.20"
		}
		return "unexpected"
	}

	out, err := NewTwoStep(f.deps(f.settings())).Run(context.Background(), f.input, "receipt")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != `{"merchant_name": "ACME"}` {
		t.Errorf("Run() = %q", out)
	}

	if f.vision.RequestCount() != 1 || f.text.RequestCount() != 1 {
		t.Fatalf("requests vision=%d text=%d, want 1 each", f.vision.RequestCount(), f.text.RequestCount())
	}
	want, _ := f.builder.BuildTextExtractionPrompt("receipt", "ACME STORE\nTOTAL 4.20")
	got := f.text.Requests()[0].Messages
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("text prompt mismatch (-want +got):\n%s", diff)
	}
	for _, m := range got {
		if len(m.Images) > 0 {
			t.Error("text model must not receive images")
		}
	}
}

func TestTwoStep_OCRProvider(t *testing.T) {
	f := newFixture(t)
	ocr := providers.NewMockOCRProvider()
	ocr.ResponseText = "  total 4.20  "
	f.registry.RegisterOCR("mock-ocr", ocr)

	s := f.settings()
	s.OCRProvider = "mock-ocr"

	if _, err := NewTwoStep(f.deps(s)).Run(context.Background(), f.input, "receipt"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ocr.RequestCount() != 1 || f.vision.RequestCount() != 0 {
		t.Errorf("ocr=%d vision=%d, want the OCR provider only", ocr.RequestCount(), f.vision.RequestCount())
	}
	user := f.text.Requests()[0].Messages[1].Content
	if !strings.Contains(user, "Page 1:   total 4.20") {
		t.Errorf("text prompt missing transcription:\n%s", user)
	}
}

func TestRun_Errors(t *testing.T) {
	f := newFixture(t)
	deps := f.deps(f.settings())
	missing := filepath.Join(f.dir, "missing.png")

	for _, p := range []Runner{NewOneStep(deps), NewTwoStep(deps)} {
		t.Run(p.Name()+"/missing input", func(t *testing.T) {
			_, err := p.Run(context.Background(), missing, "receipt")
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("error = %v, want NotFoundError", err)
			}
			if err.Error() != "Input not found: "+missing {
				t.Errorf("message = %q", err.Error())
			}
		})

		t.Run(p.Name()+"/unknown task", func(t *testing.T) {
			_, err := p.Run(context.Background(), f.input, "invoice")
			var nf *schema.NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("error = %v, want schema.NotFoundError", err)
			}
		})
	}

	if f.vision.RequestCount() != 0 || f.text.RequestCount() != 0 {
		t.Error("no model should be called for invalid input")
	}

	t.Run("model failure", func(t *testing.T) {
		f.vision.ShouldFail = true
		if _, err := NewOneStep(deps).Run(context.Background(), f.input, "receipt"); err == nil {
			t.Error("expected error from failing model")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		s := f.settings()
		s.VisionProvider = "nope"
		_, err := NewOneStep(f.deps(s)).Run(context.Background(), f.input, "receipt")
		if !errors.Is(err, providers.ErrProviderNotFound) {
			t.Errorf("error = %v, want ErrProviderNotFound", err)
		}
	})
}

func TestModel_Release(t *testing.T) {
	f := newFixture(t)
	l := NewLoader(f.registry, f.settings(), testLogger())

	m, err := l.LoadVision(context.Background())
	if err != nil {
		t.Fatalf("LoadVision() error = %v", err)
	}
	if m.Name() != "vision/v1" {
		t.Errorf("Name() = %q", m.Name())
	}

	m.Release()
	m.Release()

	_, err = m.Generate(context.Background(), []providers.Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, ErrReleased) {
		t.Errorf("Generate() after Release error = %v, want ErrReleased", err)
	}
}

// flakyClient fails its first health checks.
type flakyClient struct {
	*providers.MockClient
	failures int
	checks   atomic.Int32
}

func (c *flakyClient) HealthCheck(ctx context.Context) error {
	if int(c.checks.Add(1)) <= c.failures {
		return errors.New("loading model")
	}
	return nil
}

func TestLoader_WaitsForReadiness(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		attempts int
		wantErr  bool
	}{
		{name: "ready immediately", failures: 0, attempts: 3},
		{name: "ready after retries", failures: 2, attempts: 3},
		{name: "never ready", failures: 5, attempts: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &flakyClient{MockClient: providers.NewMockClient(), failures: tt.failures}
			reg := providers.NewRegistry()
			reg.RegisterLLM("local", client)

			s := DefaultSettings()
			s.VisionProvider = "local"
			s.LoadAttempts = tt.attempts
			s.LoadDelay = time.Millisecond

			_, err := NewLoader(reg, s, testLogger()).LoadVision(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadVision() error = %v, wantErr %v", err, tt.wantErr)
			}
			wantChecks := min(tt.failures+1, tt.attempts)
			if got := int(client.checks.Load()); got != wantChecks {
				t.Errorf("health checks = %d, want %d", got, wantChecks)
			}
		})
	}
}

func TestLoadHandles(t *testing.T) {
	t.Run("shares vision for ocr and text", func(t *testing.T) {
		f := newFixture(t)
		s := f.settings()
		s.TextProvider, s.TextModel = s.VisionProvider, s.VisionModel

		h, err := NewLoader(f.registry, s, testLogger()).LoadHandles(context.Background())
		if err != nil {
			t.Fatalf("LoadHandles() error = %v", err)
		}
		if h.Text != h.Vision {
			t.Error("expected text to share the vision handle")
		}
		if h.OCR.Name() != "vision/v1" {
			t.Errorf("OCR.Name() = %q", h.OCR.Name())
		}

		h.Release()
		if _, err := h.Vision.Generate(context.Background(), nil); !errors.Is(err, ErrReleased) {
			t.Errorf("expected handles released, got %v", err)
		}
	})

	t.Run("shared handles survive runs", func(t *testing.T) {
		f := newFixture(t)
		l := NewLoader(f.registry, f.settings(), testLogger())
		h, err := l.LoadHandles(context.Background())
		if err != nil {
			t.Fatalf("LoadHandles() error = %v", err)
		}
		defer h.Release()

		reg := NewDefaultRegistry(f.deps(f.settings()), h)
		for _, name := range []string{MethodOneStep, MethodTwoStep, MethodOneStep} {
			p, err := reg.Get(name)
			if err != nil {
				t.Fatalf("Get(%q) error = %v", name, err)
			}
			if _, err := p.Run(context.Background(), f.input, "receipt"); err != nil {
				t.Fatalf("%s Run() error = %v", name, err)
			}
		}
		// one_step twice plus the two_step transcription
		if got := f.vision.RequestCount(); got != 3 {
			t.Errorf("vision requests = %d, want 3", got)
		}
	})
}

func TestRun_Records(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	rec := llmcall.NewRecorder(&buf, testLogger())

	deps := f.deps(f.settings())
	deps.Loader = deps.Loader.WithRecorder(rec)

	if _, err := NewTwoStep(deps).Run(context.Background(), f.input, "receipt"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := rec.Calls(llmcall.Filter{Method: MethodTwoStep})
	var stages []string
	for _, c := range calls {
		stages = append(stages, c.Stage)
		if c.Input != f.input {
			t.Errorf("call input = %q", c.Input)
		}
	}
	if diff := cmp.Diff([]string{"ocr", "text"}, stages); diff != "" {
		t.Errorf("recorded stages (-want +got):\n%s", diff)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}
}

func TestRun_RecordsOCRProvider(t *testing.T) {
	f := newFixture(t)
	ocr := providers.NewMockOCRProvider()
	ocr.CostPerPage = 0.001
	f.registry.RegisterOCR("mock-ocr", ocr)

	s := f.settings()
	s.OCRProvider = "mock-ocr"
	var buf bytes.Buffer
	rec := llmcall.NewRecorder(&buf, testLogger())
	deps := f.deps(s)
	deps.Loader = deps.Loader.WithRecorder(rec)

	if _, err := NewTwoStep(deps).Run(context.Background(), f.input, "receipt"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := rec.Calls(llmcall.Filter{Stage: "ocr"})
	if len(calls) != 1 {
		t.Fatalf("ocr calls = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.ID == "" || c.Provider != "mock-ocr" || c.Method != MethodTwoStep || c.Input != f.input {
		t.Errorf("ocr call = %+v", c)
	}
	if !c.Success || c.Response != "Page 1: mock OCR text" || c.CostUSD != 0.001 {
		t.Errorf("ocr call result = %+v", c)
	}
	if u := rec.Usage(llmcall.Filter{Method: MethodTwoStep}); u.Calls != 2 || u.CostUSD != 0.001 {
		t.Errorf("two_step usage = %+v", u)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}

	t.Run("failed page is recorded", func(t *testing.T) {
		ocr.ShouldFail = true
		before := len(rec.Calls(llmcall.Filter{}))
		if _, err := NewTwoStep(deps).Run(context.Background(), f.input, "receipt"); err == nil {
			t.Fatal("expected OCR failure")
		}
		failed := false
		got := rec.Calls(llmcall.Filter{Stage: "ocr", Success: &failed})
		if len(got) != 1 || got[0].Error == "" {
			t.Errorf("failed ocr calls = %+v", got)
		}
		if after := len(rec.Calls(llmcall.Filter{})); after != before+1 {
			t.Errorf("calls recorded = %d, want 1 (no text call after OCR failure)", after-before)
		}
	})
}

// eventLog is shared by lifecycleClients to capture load and unload order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(e string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.events {
		if got == e {
			return true
		}
	}
	return false
}

// lifecycleClient logs each readiness check as a load and each Unload.
// requireUnloaded names handles that must be gone before this one loads.
type lifecycleClient struct {
	*providers.MockClient
	name            string
	log             *eventLog
	requireUnloaded []string
}

func (c *lifecycleClient) HealthCheck(ctx context.Context) error {
	for _, other := range c.requireUnloaded {
		if !c.log.has("unload " + other) {
			return errors.New(other + " is still loaded")
		}
	}
	c.log.add("load " + c.name)
	return nil
}

func (c *lifecycleClient) Unload(ctx context.Context) error {
	c.log.add("unload " + c.name)
	return nil
}

func TestTwoStep_ReleasesOCRBeforeLoadingText(t *testing.T) {
	f := newFixture(t)
	log := &eventLog{}
	reg := providers.NewRegistry()
	reg.RegisterLLM("vision", &lifecycleClient{MockClient: f.vision, name: "vision", log: log})
	reg.RegisterLLM("text", &lifecycleClient{MockClient: f.text, name: "text", log: log, requireUnloaded: []string{"vision"}})
	f.registry = reg

	s := f.settings()
	s.LoadAttempts = 1
	if _, err := NewTwoStep(f.deps(s)).Run(context.Background(), f.input, "receipt"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"load vision", "unload vision", "load text", "unload text"}
	if diff := cmp.Diff(want, log.events); diff != "" {
		t.Errorf("model lifecycle (-want +got):\n%s", diff)
	}

	t.Run("shared handles keep vision resident", func(t *testing.T) {
		log.events = nil
		h, err := NewLoader(reg, f.settings(), testLogger()).LoadHandles(context.Background())
		if err == nil {
			t.Fatal("expected text load to fail while the shared vision handle is resident")
		}
		if h != nil {
			t.Error("expected no handles on failure")
		}
		// The failed load releases what it already loaded.
		if diff := cmp.Diff([]string{"load vision", "unload vision"}, log.events); diff != "" {
			t.Errorf("model lifecycle (-want +got):\n%s", diff)
		}
	})
}

func TestLoader_DefaultModel(t *testing.T) {
	f := newFixture(t)
	f.text.DefaultModel = "qwen2.5:7b"

	s := f.settings()
	s.TextModel = ""
	m, err := NewLoader(f.registry, s, testLogger()).LoadText(context.Background())
	if err != nil {
		t.Fatalf("LoadText() error = %v", err)
	}
	defer m.Release()
	if m.Name() != "text/qwen2.5:7b" {
		t.Errorf("Name() = %q, want the provider's model", m.Name())
	}

	if _, err := m.Generate(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := f.text.Requests()[0].Model; got != "qwen2.5:7b" {
		t.Errorf("request model = %q, want qwen2.5:7b", got)
	}
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	r := NewDefaultRegistry(f.deps(f.settings()), nil)

	if diff := cmp.Diff([]string{MethodOneStep, MethodTwoStep}, r.Names()); diff != "" {
		t.Errorf("Names() (-want +got):\n%s", diff)
	}
	if len(r.List()) != 2 {
		t.Errorf("List() = %d runners", len(r.List()))
	}

	if err := r.Register(NewOneStep(f.deps(f.settings()))); !errors.Is(err, ErrMethodAlreadyRegistered) {
		t.Errorf("duplicate Register() error = %v", err)
	}
	if _, err := r.Get("three_step"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("Get() error = %v, want ErrUnknownMethod", err)
	}
}
