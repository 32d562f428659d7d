package trace

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agentlens/agentlens/trace/pricing"
	"github.com/agentlens/agentlens/types"
)

// RawSpan is a span row as persisted upstream: timestamps in epoch
// milliseconds, tags and logs as serialized JSON text.
type RawSpan struct {
	ID            string `json:"id"`
	TraceID       string `json:"trace_id"`
	ParentSpanID  string `json:"parent_span_id"`
	OperationName string `json:"operation_name"`
	ServiceName   string `json:"service_name"`
	AgentID       string `json:"agent_id"`

	StartTimeMS int64 `json:"start_time_ms"`
	EndTimeMS   int64 `json:"end_time_ms"`
	DurationMS  int64 `json:"duration_ms"`

	CommunicationType string `json:"communication_type"`
	Status            string `json:"status"`

	TotalCost        float64 `json:"total_cost"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`

	ContainerID string `json:"container_id"`
	Hostname    string `json:"hostname"`

	TagsJSON string `json:"tags"`
	LogsJSON string `json:"logs"`
}

// RawCommunication is an A2A communication row as persisted upstream.
type RawCommunication struct {
	ID                string `json:"id"`
	TraceID           string `json:"trace_id"`
	SourceSpanID      string `json:"source_span_id"`
	TargetSpanID      string `json:"target_span_id"`
	SourceAgentID     string `json:"source_agent_id"`
	TargetAgentID     string `json:"target_agent_id"`
	CommunicationType string `json:"communication_type"`
	Protocol          string `json:"protocol"`
	DurationMS        int64  `json:"duration_ms"`
	Status            string `json:"status"`
	PayloadJSON       string `json:"payload"`
}

// NormalizeSpan parses one raw span row into a typed Span. Malformed
// serialized fields are replaced with empty values and reported as soft
// anomalies; they never fail the span. A missing duration is derived from
// end-start when both timestamps are present, else zero. A missing cost is
// backfilled from the pricing table when the span's tags name a model.
func NormalizeSpan(raw RawSpan, pricer *pricing.Calculator) (*types.Span, []Anomaly) {
	var anomalies []Anomaly

	s := &types.Span{
		ID:               raw.ID,
		TraceID:          raw.TraceID,
		ParentSpanID:     raw.ParentSpanID,
		OperationName:    raw.OperationName,
		ServiceName:      raw.ServiceName,
		AgentID:          raw.AgentID,
		Communication:    normalizeCommType(raw.CommunicationType),
		Status:           normalizeStatus(raw.Status),
		TotalCost:        raw.TotalCost,
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TotalTokens:      raw.TotalTokens,
		ContainerID:      raw.ContainerID,
		Hostname:         raw.Hostname,
	}
	if raw.StartTimeMS > 0 {
		s.StartTime = time.UnixMilli(raw.StartTimeMS).UTC()
	}
	if raw.EndTimeMS > 0 {
		s.EndTime = time.UnixMilli(raw.EndTimeMS).UTC()
	}

	switch {
	case raw.DurationMS > 0:
		s.Duration = time.Duration(raw.DurationMS) * time.Millisecond
	case raw.EndTimeMS > raw.StartTimeMS && raw.StartTimeMS > 0:
		s.Duration = time.Duration(raw.EndTimeMS-raw.StartTimeMS) * time.Millisecond
	}

	if s.TotalTokens == 0 {
		s.TotalTokens = s.PromptTokens + s.CompletionTokens
	}

	tags, ok := parseTags(raw.TagsJSON)
	if !ok {
		anomalies = append(anomalies, malformed(raw.TraceID, raw.ID, "tags"))
	}
	s.Tags = tags

	logs, ok := parseLogs(raw.LogsJSON)
	if !ok {
		anomalies = append(anomalies, malformed(raw.TraceID, raw.ID, "logs"))
	}
	s.Logs = logs

	if s.TotalCost == 0 && pricer != nil {
		if model := tags["model"]; model != "" && s.PromptTokens+s.CompletionTokens > 0 {
			s.TotalCost = pricer.Cost(tags["provider"], model, s.PromptTokens, s.CompletionTokens)
		}
	}
	return s, anomalies
}

// NormalizeSpans parses a batch of raw span rows, collecting soft anomalies.
func NormalizeSpans(raws []RawSpan, pricer *pricing.Calculator) ([]*types.Span, []Anomaly) {
	spans := make([]*types.Span, 0, len(raws))
	anomalies := make([]Anomaly, 0)
	for _, raw := range raws {
		s, a := NormalizeSpan(raw, pricer)
		spans = append(spans, s)
		anomalies = append(anomalies, a...)
	}
	return spans, anomalies
}

// NormalizeCommunication parses one raw A2A communication row.
func NormalizeCommunication(raw RawCommunication) (*types.A2ACommunication, []Anomaly) {
	var anomalies []Anomaly
	c := &types.A2ACommunication{
		ID:            raw.ID,
		TraceID:       raw.TraceID,
		SourceSpanID:  raw.SourceSpanID,
		TargetSpanID:  raw.TargetSpanID,
		SourceAgentID: raw.SourceAgentID,
		TargetAgentID: raw.TargetAgentID,
		Communication: normalizeCommType(raw.CommunicationType),
		Protocol:      raw.Protocol,
		Status:        normalizeStatus(raw.Status),
	}
	if raw.DurationMS > 0 {
		c.Duration = time.Duration(raw.DurationMS) * time.Millisecond
	}
	if strings.TrimSpace(raw.PayloadJSON) != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(raw.PayloadJSON), &payload); err != nil {
			anomalies = append(anomalies, malformed(raw.TraceID, raw.SourceSpanID, "payload"))
		} else {
			c.Payload = payload
		}
	}
	return c, anomalies
}

// NormalizeCommunications parses a batch of raw communication rows.
func NormalizeCommunications(raws []RawCommunication) ([]*types.A2ACommunication, []Anomaly) {
	comms := make([]*types.A2ACommunication, 0, len(raws))
	anomalies := make([]Anomaly, 0)
	for _, raw := range raws {
		c, a := NormalizeCommunication(raw)
		comms = append(comms, c)
		anomalies = append(anomalies, a...)
	}
	return comms, anomalies
}

func malformed(traceID, spanID, field string) Anomaly {
	return Anomaly{
		Type:    AnomalyMalformedField,
		TraceID: traceID,
		SpanID:  spanID,
		Field:   field,
		Detail:  "unparseable JSON replaced with empty value",
	}
}

// parseTags strictly parses a tag map, falling back to an empty map. The
// second return is false when the input was present but unparseable.
func parseTags(raw string) (map[string]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}, true
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw), &tags); err == nil {
		return tags, true
	}
	// Tolerate non-string tag values by stringifying them.
	var loose map[string]any
	if err := json.Unmarshal([]byte(raw), &loose); err == nil {
		tags = make(map[string]string, len(loose))
		for k, v := range loose {
			if s, ok := v.(string); ok {
				tags[k] = s
			} else if b, err := json.Marshal(v); err == nil {
				tags[k] = string(b)
			}
		}
		return tags, true
	}
	return map[string]string{}, false
}

// rawLog mirrors the upstream log row shape with millisecond timestamps.
type rawLog struct {
	TimestampMS int64  `json:"timestamp"`
	Level       string `json:"level"`
	Message     string `json:"message"`
}

// parseLogs strictly parses an ordered log list, falling back to an empty
// list. Both RFC3339 and epoch-millisecond timestamp encodings occur
// upstream; try the typed form first, then the millisecond form.
func parseLogs(raw string) ([]types.SpanLog, bool) {
	if strings.TrimSpace(raw) == "" {
		return []types.SpanLog{}, true
	}
	var logs []types.SpanLog
	if err := json.Unmarshal([]byte(raw), &logs); err == nil {
		return logs, true
	}
	var rawLogs []rawLog
	if err := json.Unmarshal([]byte(raw), &rawLogs); err == nil {
		logs = make([]types.SpanLog, 0, len(rawLogs))
		for _, rl := range rawLogs {
			entry := types.SpanLog{Level: rl.Level, Message: rl.Message}
			if rl.TimestampMS > 0 {
				entry.Timestamp = time.UnixMilli(rl.TimestampMS).UTC()
			}
			logs = append(logs, entry)
		}
		return logs, true
	}
	return []types.SpanLog{}, false
}

func normalizeCommType(raw string) types.CommunicationType {
	switch types.CommunicationType(strings.ToLower(strings.TrimSpace(raw))) {
	case types.CommHTTP:
		return types.CommHTTP
	case types.CommGRPC:
		return types.CommGRPC
	case types.CommMessageQueue:
		return types.CommMessageQueue
	case types.CommWebSocket:
		return types.CommWebSocket
	default:
		return types.CommDirect
	}
}

func normalizeStatus(raw string) types.SpanStatus {
	switch types.SpanStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case types.StatusSuccess:
		return types.StatusSuccess
	case types.StatusError:
		return types.StatusError
	case types.StatusTimeout:
		return types.StatusTimeout
	default:
		return types.StatusRunning
	}
}
