// Package otelconv converts OTLP trace data into engine span records, so
// OTLP JSON exports can be analyzed without going through the span store.
// This package is internal and should not be imported by external projects.
package otelconv

import (
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/agentlens/agentlens/types"
)

// Well-known attribute keys mapped onto engine span fields.
const (
	attrAgentID          = "agent.id"
	attrContainerID      = "container.id"
	attrHostname         = "host.name"
	attrPromptTokens     = "gen_ai.usage.input_tokens"
	attrCompletionTokens = "gen_ai.usage.output_tokens"
	attrCost             = "gen_ai.usage.cost"
)

// UnmarshalJSON parses an OTLP/JSON trace export.
func UnmarshalJSON(data []byte) (ptrace.Traces, error) {
	unmarshaler := ptrace.JSONUnmarshaler{}
	return unmarshaler.UnmarshalTraces(data)
}

// Spans flattens OTLP trace data into engine spans. Resource attributes
// supply the service identity; remaining attributes become span tags.
func Spans(td ptrace.Traces) []*types.Span {
	var out []*types.Span
	resourceSpans := td.ResourceSpans()
	for i := 0; i < resourceSpans.Len(); i++ {
		rs := resourceSpans.At(i)
		serviceName := ""
		if v, ok := rs.Resource().Attributes().Get("service.name"); ok {
			serviceName = v.Str()
		}
		scopeSpans := rs.ScopeSpans()
		for j := 0; j < scopeSpans.Len(); j++ {
			spans := scopeSpans.At(j).Spans()
			for k := 0; k < spans.Len(); k++ {
				out = append(out, convertSpan(spans.At(k), serviceName))
			}
		}
	}
	return out
}

func convertSpan(span ptrace.Span, serviceName string) *types.Span {
	s := &types.Span{
		ID:            span.SpanID().String(),
		TraceID:       span.TraceID().String(),
		OperationName: span.Name(),
		ServiceName:   serviceName,
		StartTime:     span.StartTimestamp().AsTime(),
		EndTime:       span.EndTimestamp().AsTime(),
		Status:        convertStatus(span.Status().Code()),
		Communication: convertKind(span),
		Tags:          map[string]string{},
	}
	if !span.ParentSpanID().IsEmpty() {
		s.ParentSpanID = span.ParentSpanID().String()
	}
	if s.EndTime.After(s.StartTime) {
		s.Duration = s.EndTime.Sub(s.StartTime)
	}

	span.Attributes().Range(func(key string, v pcommon.Value) bool {
		switch key {
		case attrAgentID:
			s.AgentID = v.Str()
		case attrContainerID:
			s.ContainerID = v.Str()
		case attrHostname:
			s.Hostname = v.Str()
		case attrPromptTokens:
			s.PromptTokens = int(v.Int())
		case attrCompletionTokens:
			s.CompletionTokens = int(v.Int())
		case attrCost:
			s.TotalCost = v.Double()
		default:
			s.Tags[key] = v.AsString()
		}
		return true
	})
	s.TotalTokens = s.PromptTokens + s.CompletionTokens
	return s
}

func convertStatus(code ptrace.StatusCode) types.SpanStatus {
	switch code {
	case ptrace.StatusCodeError:
		return types.StatusError
	case ptrace.StatusCodeOk:
		return types.StatusSuccess
	default:
		// Unset: ended spans default to success, matching upstream
		// recorder behavior.
		return types.StatusSuccess
	}
}

// convertKind infers the communication type from standard transport
// attributes, falling back to direct.
func convertKind(span ptrace.Span) types.CommunicationType {
	attrs := span.Attributes()
	if _, ok := attrs.Get("rpc.system"); ok {
		return types.CommGRPC
	}
	if _, ok := attrs.Get("messaging.system"); ok {
		return types.CommMessageQueue
	}
	if _, ok := attrs.Get("http.request.method"); ok {
		return types.CommHTTP
	}
	if _, ok := attrs.Get("http.method"); ok {
		return types.CommHTTP
	}
	return types.CommDirect
}
