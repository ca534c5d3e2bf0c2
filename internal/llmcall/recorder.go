package llmcall

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/jackzampolin/docex/internal/providers"
)

// Recorder appends calls to a JSON-lines stream and keeps them in memory
// for summaries. A nil *Recorder discards everything.
type Recorder struct {
	mu     sync.Mutex
	enc    *json.Encoder
	calls  []Call
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to w. w may be nil to keep calls
// in memory only.
func NewRecorder(w io.Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{logger: logger}
	if w != nil {
		r.enc = json.NewEncoder(w)
	}
	return r
}

// Record captures a call built from result.
func (r *Recorder) Record(result *providers.ChatResult, opts RecordOptions) {
	if r == nil {
		return
	}
	r.RecordCall(FromChatResult(result, opts))
}

// RecordOCR captures a call built from an OCR result.
func (r *Recorder) RecordOCR(result *providers.OCRResult, opts RecordOptions) {
	if r == nil {
		return
	}
	r.RecordCall(FromOCRResult(result, opts))
}

// RecordCall captures an already-constructed Call.
// Write failures are logged, never returned.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || call == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, *call)
	if r.enc == nil {
		return
	}
	if err := r.enc.Encode(call); err != nil {
		r.logger.Warn("failed to write call record", "id", call.ID, "error", err)
	}
}

// Filter selects calls. Empty fields match everything.
type Filter struct {
	Method   string
	Stage    string
	Provider string
	Success  *bool
}

func (f Filter) match(c *Call) bool {
	switch {
	case f.Method != "" && c.Method != f.Method:
		return false
	case f.Stage != "" && c.Stage != f.Stage:
		return false
	case f.Provider != "" && c.Provider != f.Provider:
		return false
	case f.Success != nil && c.Success != *f.Success:
		return false
	}
	return true
}

// Calls returns the recorded calls matching filter, in record order.
func (r *Recorder) Calls(filter Filter) []Call {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for i := range r.calls {
		if filter.match(&r.calls[i]) {
			out = append(out, r.calls[i])
		}
	}
	return out
}

// Usage totals the calls matching filter.
type Usage struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	LatencyMs    int     `json:"latency_ms"`
}

// Usage sums token counts, cost and latency over the calls matching filter.
func (r *Recorder) Usage(filter Filter) Usage {
	var u Usage
	for _, c := range r.Calls(filter) {
		u.Calls++
		u.InputTokens += c.InputTokens
		u.OutputTokens += c.OutputTokens
		u.CostUSD += c.CostUSD
		u.LatencyMs += c.LatencyMs
	}
	return u
}
