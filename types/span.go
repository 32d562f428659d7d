package types

import "time"

// SpanStatus represents the terminal (or current) state of a span.
type SpanStatus string

const (
	// StatusRunning indicates the span has started but not finished.
	StatusRunning SpanStatus = "running"
	// StatusSuccess indicates the span finished without error.
	StatusSuccess SpanStatus = "success"
	// StatusError indicates the span finished with an error.
	StatusError SpanStatus = "error"
	// StatusTimeout indicates the span was cut off by a deadline.
	StatusTimeout SpanStatus = "timeout"
)

// CommunicationType classifies how one agent reached another.
type CommunicationType string

const (
	CommDirect       CommunicationType = "direct"
	CommHTTP         CommunicationType = "http"
	CommGRPC         CommunicationType = "grpc"
	CommMessageQueue CommunicationType = "message_queue"
	CommWebSocket    CommunicationType = "websocket"
)

// SpanLog is one log line recorded during a span's execution.
type SpanLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Span is one recorded unit of agent/service work within a trace.
//
// ParentSpanID may be empty (root) or reference a span outside the trace's
// recorded set; both cases are treated as roots during tree reconstruction.
type Span struct {
	ID           string `json:"id"`
	TraceID      string `json:"trace_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`

	OperationName string            `json:"operation_name"`
	ServiceName   string            `json:"service_name"`
	AgentID       string            `json:"agent_id,omitempty"`
	Communication CommunicationType `json:"communication_type"`
	Status        SpanStatus        `json:"status"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`

	TotalCost        float64 `json:"total_cost"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`

	ContainerID string `json:"container_id,omitempty"`
	Hostname    string `json:"hostname,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`
	Logs []SpanLog         `json:"logs,omitempty"`
}

// IsError reports whether the span ended in an error state.
func (s *Span) IsError() bool {
	return s.Status == StatusError
}

// A2ACommunication is a directed edge recording one agent calling another.
// It is independent of the parent/child span hierarchy: the source and target
// spans may sit anywhere in the trace, or be absent from the recorded set
// entirely (in which case the communication is retained but unattached).
type A2ACommunication struct {
	ID            string            `json:"id"`
	TraceID       string            `json:"trace_id"`
	SourceSpanID  string            `json:"source_span_id,omitempty"`
	TargetSpanID  string            `json:"target_span_id,omitempty"`
	SourceAgentID string            `json:"source_agent_id"`
	TargetAgentID string            `json:"target_agent_id"`
	Communication CommunicationType `json:"communication_type"`
	Protocol      string            `json:"protocol,omitempty"`
	Duration      time.Duration     `json:"duration,omitempty"`
	Status        SpanStatus        `json:"status"`
	Payload       map[string]any    `json:"payload,omitempty"`
}

// Usage represents aggregated token consumption and cost.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add adds another Usage to this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}
