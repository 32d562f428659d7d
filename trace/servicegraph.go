package trace

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/agentlens/agentlens/types"
)

// ServiceNode is one aggregated service/agent in the dependency graph.
// Nodes are keyed by agent id when present, else service name.
type ServiceNode struct {
	Key         string        `json:"key"`
	ServiceName string        `json:"service_name,omitempty"`
	AgentID     string        `json:"agent_id,omitempty"`
	SpanCount   int           `json:"span_count"`
	AvgDuration time.Duration `json:"avg_duration"`
	ErrorRate   float64       `json:"error_rate"`
}

// ServiceEdge is one weighted directed edge of the dependency graph, keyed
// by (source, target, communication type).
type ServiceEdge struct {
	Source        string                  `json:"source"`
	Target        string                  `json:"target"`
	Communication types.CommunicationType `json:"communication_type"`
	Weight        int                     `json:"weight"`
	AvgDuration   time.Duration           `json:"avg_duration"`
	ErrorRate     float64                 `json:"error_rate"`
}

// ServiceGraph is the rendered dependency graph: deterministic, sorted node
// and edge lists suitable for direct rendering.
type ServiceGraph struct {
	Nodes []*ServiceNode `json:"nodes"`
	Edges []*ServiceEdge `json:"edges"`
}

type edgeKey struct {
	Source        string
	Target        string
	Communication types.CommunicationType
}

type nodeAcc struct {
	ServiceName string        `json:"service_name,omitempty"`
	AgentID     string        `json:"agent_id,omitempty"`
	Spans       int           `json:"spans"`
	DurationSum time.Duration `json:"duration_sum"`
	Errors      int           `json:"errors"`
}

type edgeAcc struct {
	Calls       int           `json:"calls"`
	DurationSum time.Duration `json:"duration_sum"`
	Errors      int           `json:"errors"`
}

// GraphAccumulator aggregates service-graph observations. All accumulation
// is plain counter/sum arithmetic, so Merge is commutative and associative:
// partial accumulators from independently processed traces reduce to the
// same graph in any order.
type GraphAccumulator struct {
	nodes map[string]*nodeAcc
	edges map[edgeKey]*edgeAcc
}

// NewGraphAccumulator returns an empty accumulator.
func NewGraphAccumulator() *GraphAccumulator {
	return &GraphAccumulator{
		nodes: make(map[string]*nodeAcc),
		edges: make(map[edgeKey]*edgeAcc),
	}
}

// Observe folds one forest into the accumulator: every span feeds its
// service/agent node, every attached communication feeds an edge.
func (a *GraphAccumulator) Observe(f *Forest) {
	f.Walk(func(n *Node) bool {
		key := spanKey(n.Span)
		if key == "" {
			key = "unknown"
		}
		na := a.node(key)
		if na.ServiceName == "" {
			na.ServiceName = n.Span.ServiceName
		}
		if na.AgentID == "" {
			na.AgentID = n.Span.AgentID
		}
		na.Spans++
		na.DurationSum += n.Span.Duration
		if n.Span.IsError() {
			na.Errors++
		}

		for _, c := range n.Communications {
			source := key
			target := ""
			if tn := f.Node(c.TargetSpanID); tn != nil {
				target = spanKey(tn.Span)
			}
			if target == "" {
				target = c.TargetAgentID
			}
			if target == "" {
				continue
			}
			// Edge endpoints always exist as nodes, even when the
			// target span was never recorded.
			ta := a.node(target)
			if ta.AgentID == "" {
				ta.AgentID = c.TargetAgentID
			}

			ea := a.edges[edgeKey{Source: source, Target: target, Communication: c.Communication}]
			if ea == nil {
				ea = &edgeAcc{}
				a.edges[edgeKey{Source: source, Target: target, Communication: c.Communication}] = ea
			}
			ea.Calls++
			ea.DurationSum += c.Duration
			if c.Status == types.StatusError {
				ea.Errors++
			}
		}
		return true
	})
}

// Merge folds another accumulator into this one. Both inputs may have been
// built concurrently; the operation is pure counter addition.
func (a *GraphAccumulator) Merge(other *GraphAccumulator) {
	if other == nil {
		return
	}
	for key, nb := range other.nodes {
		na := a.node(key)
		if na.ServiceName == "" {
			na.ServiceName = nb.ServiceName
		}
		if na.AgentID == "" {
			na.AgentID = nb.AgentID
		}
		na.Spans += nb.Spans
		na.DurationSum += nb.DurationSum
		na.Errors += nb.Errors
	}
	for key, eb := range other.edges {
		ea := a.edges[key]
		if ea == nil {
			ea = &edgeAcc{}
			a.edges[key] = ea
		}
		ea.Calls += eb.Calls
		ea.DurationSum += eb.DurationSum
		ea.Errors += eb.Errors
	}
}

// Graph renders the accumulated state as a sorted node/edge list.
func (a *GraphAccumulator) Graph() *ServiceGraph {
	g := &ServiceGraph{
		Nodes: make([]*ServiceNode, 0, len(a.nodes)),
		Edges: make([]*ServiceEdge, 0, len(a.edges)),
	}
	for key, na := range a.nodes {
		node := &ServiceNode{
			Key:         key,
			ServiceName: na.ServiceName,
			AgentID:     na.AgentID,
			SpanCount:   na.Spans,
		}
		if na.Spans > 0 {
			node.AvgDuration = na.DurationSum / time.Duration(na.Spans)
			node.ErrorRate = float64(na.Errors) / float64(na.Spans)
		}
		g.Nodes = append(g.Nodes, node)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].Key < g.Nodes[j].Key })

	for key, ea := range a.edges {
		edge := &ServiceEdge{
			Source:        key.Source,
			Target:        key.Target,
			Communication: key.Communication,
			Weight:        ea.Calls,
		}
		if ea.Calls > 0 {
			edge.AvgDuration = ea.DurationSum / time.Duration(ea.Calls)
			edge.ErrorRate = float64(ea.Errors) / float64(ea.Calls)
		}
		g.Edges = append(g.Edges, edge)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		if g.Edges[i].Target != g.Edges[j].Target {
			return g.Edges[i].Target < g.Edges[j].Target
		}
		return g.Edges[i].Communication < g.Edges[j].Communication
	})
	return g
}

func (a *GraphAccumulator) node(key string) *nodeAcc {
	na := a.nodes[key]
	if na == nil {
		na = &nodeAcc{}
		a.nodes[key] = na
	}
	return na
}

// BuildServiceGraph aggregates one or more forests into a dependency graph.
// The result is invariant to the order in which forests are supplied.
func BuildServiceGraph(forests []*Forest) *ServiceGraph {
	acc := NewGraphAccumulator()
	for _, f := range forests {
		acc.Observe(f)
	}
	return acc.Graph()
}

// graphSnapshot is the serialized form of an accumulator, used to carry
// per-trace partial results through caches and batch reports.
type graphSnapshot struct {
	Nodes map[string]*nodeAcc `json:"nodes"`
	Edges []edgeSnapshot      `json:"edges"`
}

type edgeSnapshot struct {
	Source        string                  `json:"source"`
	Target        string                  `json:"target"`
	Communication types.CommunicationType `json:"communication_type"`
	edgeAcc
}

// MarshalJSON implements json.Marshaler.
func (a *GraphAccumulator) MarshalJSON() ([]byte, error) {
	snap := graphSnapshot{Nodes: a.nodes, Edges: make([]edgeSnapshot, 0, len(a.edges))}
	for key, ea := range a.edges {
		snap.Edges = append(snap.Edges, edgeSnapshot{
			Source:        key.Source,
			Target:        key.Target,
			Communication: key.Communication,
			edgeAcc:       *ea,
		})
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].Source != snap.Edges[j].Source {
			return snap.Edges[i].Source < snap.Edges[j].Source
		}
		if snap.Edges[i].Target != snap.Edges[j].Target {
			return snap.Edges[i].Target < snap.Edges[j].Target
		}
		return snap.Edges[i].Communication < snap.Edges[j].Communication
	})
	return json.Marshal(snap)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *GraphAccumulator) UnmarshalJSON(data []byte) error {
	var snap graphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	a.nodes = snap.Nodes
	if a.nodes == nil {
		a.nodes = make(map[string]*nodeAcc)
	}
	a.edges = make(map[edgeKey]*edgeAcc, len(snap.Edges))
	for _, e := range snap.Edges {
		acc := e.edgeAcc
		a.edges[edgeKey{Source: e.Source, Target: e.Target, Communication: e.Communication}] = &acc
	}
	return nil
}
