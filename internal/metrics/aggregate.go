package metrics

// Report summarizes the metrics of one pipeline method across a dataset.
type Report struct {
	Samples       int   `json:"samples"`
	JSONValid     int   `json:"json_valid"`
	JSONValidRate Ratio `json:"json_valid_rate"`

	// Only samples with gold are scored.
	Scored            int   `json:"scored"`
	MeanFieldAccuracy Ratio `json:"mean_field_accuracy"`
	FieldsMatched     int   `json:"fields_matched"`
	FieldsTotal       int   `json:"fields_total"`
	MicroAccuracy     Ratio `json:"micro_accuracy"`
}

// Aggregate builds a Report from per-sample metrics.
// MeanFieldAccuracy averages the per-sample ratios; MicroAccuracy pools all fields.
func Aggregate(samples []Metrics) Report {
	r := Report{Samples: len(samples)}

	var accSum float64
	for _, m := range samples {
		if m.JSONValid {
			r.JSONValid++
		}
		if !m.HasAccuracy() {
			continue
		}
		r.Scored++
		accSum += float64(m.FieldAccuracy)
		r.FieldsMatched += m.FieldsMatched
		r.FieldsTotal += m.FieldsTotal
	}

	if r.Samples > 0 {
		r.JSONValidRate = Ratio(float64(r.JSONValid) / float64(r.Samples))
	}
	if r.Scored > 0 {
		r.MeanFieldAccuracy = Ratio(accSum / float64(r.Scored))
	}
	if r.FieldsTotal > 0 {
		r.MicroAccuracy = Ratio(float64(r.FieldsMatched) / float64(r.FieldsTotal))
	}
	return r
}
