package trace

import "fmt"

// AnomalyType classifies a non-fatal irregularity found while processing
// a trace.
type AnomalyType string

const (
	// AnomalyCycle marks a circular parent chain that was cut during
	// tree construction.
	AnomalyCycle AnomalyType = "cycle"
	// AnomalyMalformedField marks a serialized field that failed to parse
	// and was replaced with an empty value.
	AnomalyMalformedField AnomalyType = "malformed_field"
	// AnomalyDanglingParent marks a span whose parent id references a span
	// outside the recorded set; the span is promoted to a root.
	AnomalyDanglingParent AnomalyType = "dangling_parent"
	// AnomalyDuplicateSpan marks a span id that appeared more than once;
	// later occurrences are dropped.
	AnomalyDuplicateSpan AnomalyType = "duplicate_span"
)

// Anomaly describes one recovered irregularity. Anomalies are additive
// information for the caller to inspect or alert on; they never fail the
// trace they belong to.
type Anomaly struct {
	Type    AnomalyType `json:"type"`
	TraceID string      `json:"trace_id,omitempty"`
	SpanID  string      `json:"span_id,omitempty"`
	Field   string      `json:"field,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// String implements fmt.Stringer for log output.
func (a Anomaly) String() string {
	if a.Field != "" {
		return fmt.Sprintf("%s span=%s field=%s: %s", a.Type, a.SpanID, a.Field, a.Detail)
	}
	return fmt.Sprintf("%s span=%s: %s", a.Type, a.SpanID, a.Detail)
}
