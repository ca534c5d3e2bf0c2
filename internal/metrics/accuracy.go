package metrics

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Ratio is a float in [0, 1] that always serializes with a decimal point,
// so 0 and 1 appear as 0.0 and 1.0 in reports.
type Ratio float64

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	s := strconv.FormatFloat(float64(r), 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}

// Accuracy is the field-level match result against a gold document.
type Accuracy struct {
	FieldAccuracy Ratio `json:"field_accuracy"`
	FieldsTotal   int   `json:"fields_total"`
	FieldsMatched int   `json:"fields_matched"`
}

// Metrics is the score for one prediction. Accuracy is nil when there was
// no gold document to compare against.
type Metrics struct {
	JSONValid bool `json:"json_valid"`
	*Accuracy
}

// HasAccuracy reports whether the metrics were scored against gold.
func (m Metrics) HasAccuracy() bool {
	return m.Accuracy != nil
}

// ParseJSON parses prediction text. The second return is false when the
// text is not valid JSON or is the literal null.
func ParseJSON(text string) (gjson.Result, bool) {
	if !gjson.Valid(text) {
		return gjson.Result{}, false
	}
	value := gjson.Parse(text)
	if value.Type == gjson.Null {
		return gjson.Result{}, false
	}
	return value, true
}

// FieldAccuracy compares every gold path against the same path in pred.
// Missing prediction paths are misses and extra prediction paths are ignored.
// A gold document with no fields scores 0.0 rather than a vacuous 1.0.
func FieldAccuracy(pred, gold gjson.Result) Accuracy {
	predFlat := fieldMap(Flatten(pred, ""))
	goldFlat := fieldMap(Flatten(gold, ""))

	if len(goldFlat) == 0 {
		return Accuracy{}
	}

	matched := 0
	for path, goldVal := range goldFlat {
		if predVal, ok := predFlat[path]; ok && predVal == goldVal {
			matched++
		}
	}

	total := len(goldFlat)
	return Accuracy{
		FieldAccuracy: Ratio(float64(matched) / float64(total)),
		FieldsTotal:   total,
		FieldsMatched: matched,
	}
}

// ComputeMetrics scores prediction text against gold. A nil gold means no
// gold file exists; only json_valid is reported then. Parse failures are
// absorbed: with gold present they score as a total miss at the gold's
// flattened field count.
func ComputeMetrics(predText string, gold []byte) Metrics {
	pred, ok := ParseJSON(predText)
	m := Metrics{JSONValid: ok}

	if gold == nil {
		return m
	}

	goldValue := gjson.ParseBytes(gold)
	if !ok {
		m.Accuracy = &Accuracy{
			FieldsTotal: len(fieldMap(Flatten(goldValue, ""))),
		}
		return m
	}

	acc := FieldAccuracy(pred, goldValue)
	m.Accuracy = &acc
	return m
}
