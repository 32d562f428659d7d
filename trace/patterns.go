package trace

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentlens/agentlens/types"
)

// AgentPair identifies a directed interaction between two agents.
type AgentPair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// MarshalText implements encoding.TextMarshaler so AgentPair can key a
// JSON-serialized map.
func (p AgentPair) MarshalText() ([]byte, error) {
	return []byte(p.Source + " -> " + p.Target), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *AgentPair) UnmarshalText(text []byte) error {
	src, dst, ok := strings.Cut(string(text), " -> ")
	if !ok {
		return fmt.Errorf("malformed agent pair %q", text)
	}
	p.Source, p.Target = src, dst
	return nil
}

// InteractionStats accumulates statistics for one agent pair.
type InteractionStats struct {
	Count int `json:"count"`
	// AvgDuration is maintained as a running (Welford-style) average so
	// large batches never overflow a sum.
	AvgDuration time.Duration `json:"avg_duration"`
	Errors      int           `json:"errors"`
	ErrorRate   float64       `json:"error_rate"`
}

// PatternReport is the result of the cross-agent pattern analysis.
type PatternReport struct {
	AgentInteractions map[AgentPair]*InteractionStats `json:"agent_interactions"`
	// CrossContainerCommunications lists every communication whose source
	// and target spans ran in different containers.
	CrossContainerCommunications []*types.A2ACommunication `json:"cross_container_communications"`
}

// AnalyzeCrossAgentPatterns walks the given forests and aggregates every
// attached A2A communication into per-agent-pair interaction statistics.
//
// Agent identity falls back from the communication's recorded agent ids to
// the resolved span's agent id or service name, and finally to "unknown", so
// no interaction is silently dropped.
func AnalyzeCrossAgentPatterns(forests ...*Forest) *PatternReport {
	report := &PatternReport{
		AgentInteractions:            make(map[AgentPair]*InteractionStats),
		CrossContainerCommunications: make([]*types.A2ACommunication, 0),
	}
	for _, f := range forests {
		f.Walk(func(n *Node) bool {
			for _, c := range n.Communications {
				target := f.Node(c.TargetSpanID)
				pair := AgentPair{
					Source: interactionKey(c.SourceAgentID, n),
					Target: interactionKey(c.TargetAgentID, target),
				}
				st := report.AgentInteractions[pair]
				if st == nil {
					st = &InteractionStats{}
					report.AgentInteractions[pair] = st
				}
				st.Count++
				st.AvgDuration += (c.Duration - st.AvgDuration) / time.Duration(st.Count)
				if c.Status == types.StatusError {
					st.Errors++
				}
				st.ErrorRate = float64(st.Errors) / float64(st.Count)

				if target != nil &&
					n.Span.ContainerID != "" && target.Span.ContainerID != "" &&
					n.Span.ContainerID != target.Span.ContainerID {
					report.CrossContainerCommunications = append(report.CrossContainerCommunications, c)
				}
			}
			return true
		})
	}
	return report
}

func interactionKey(agentID string, n *Node) string {
	if agentID != "" {
		return agentID
	}
	if n != nil {
		if k := spanKey(n.Span); k != "" {
			return k
		}
	}
	return "unknown"
}

// spanKey resolves the aggregation key of a span: the agent id when present,
// else the service name.
func spanKey(s *types.Span) string {
	if s.AgentID != "" {
		return s.AgentID
	}
	return s.ServiceName
}
