package trace

import (
	"sort"

	"github.com/agentlens/agentlens/types"
)

// Node is one node of a reconstructed trace forest.
type Node struct {
	Span     *types.Span `json:"span"`
	Children []*Node     `json:"children,omitempty"`
	Depth    int         `json:"depth"`

	// Communications holds every A2A communication whose source span is
	// this node's span.
	Communications []*types.A2ACommunication `json:"a2a_communications,omitempty"`

	// Metrics is populated by Rollup; zero until then.
	Metrics NodeMetrics `json:"metrics"`

	parent *Node
}

// Parent returns the node's parent, or nil for roots.
func (n *Node) Parent() *Node { return n.parent }

// Forest is the reconstructed causal call tree (possibly multi-rooted) of a
// single trace, plus everything that could not be anchored to it.
type Forest struct {
	TraceID string  `json:"trace_id"`
	Roots   []*Node `json:"roots"`

	// Anomalies lists recovered irregularities: cycles, dangling parents,
	// duplicate span ids.
	Anomalies []Anomaly `json:"anomalies"`

	// Unattached holds communications whose source span is absent from the
	// recorded span set. They are retained as metadata, not dropped.
	Unattached []*types.A2ACommunication `json:"unattached_communications"`

	index    map[string]*Node
	maxDepth int
}

// Node returns the node for the given span id, or nil.
func (f *Forest) Node(spanID string) *Node { return f.index[spanID] }

// SpanCount returns the number of spans in the forest. Every input span
// appears in exactly one node.
func (f *Forest) SpanCount() int { return len(f.index) }

// MaxDepth returns the deepest node depth (roots are depth 0). Empty forests
// report -1. The value is computed during the cycle-safe build, never by
// re-walking parent chains.
func (f *Forest) MaxDepth() int {
	if len(f.index) == 0 {
		return -1
	}
	return f.maxDepth
}

// Walk visits every node in deterministic pre-order (roots in start-time
// order, children in child order) until fn returns false.
func (f *Forest) Walk(fn func(*Node) bool) {
	stack := make([]*Node, 0, len(f.Roots))
	for i := len(f.Roots) - 1; i >= 0; i-- {
		stack = append(stack, f.Roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			return
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// Spans returns the forest's spans in walk order.
func (f *Forest) Spans() []*types.Span {
	out := make([]*types.Span, 0, len(f.index))
	f.Walk(func(n *Node) bool {
		out = append(out, n.Span)
		return true
	})
	return out
}

// BuildForest reconstructs the causal forest of one trace from its flat span
// set and attaches A2A communications to their originating spans.
//
// A span is a root when its parent id is empty or references a span outside
// the set (dangling parents are promoted, not rejected). Children are ordered
// by start time with span id as tie-break, so structurally identical output
// is produced for any permutation of the input. Circular parent chains are
// cut at the first revisited span and surfaced as cycle anomalies; the
// builder never loops or recurses unbounded.
func BuildForest(spans []*types.Span, comms []*types.A2ACommunication) *Forest {
	f := &Forest{
		Roots:      make([]*Node, 0, 1),
		Anomalies:  make([]Anomaly, 0),
		Unattached: make([]*types.A2ACommunication, 0),
		index:      make(map[string]*Node, len(spans)),
	}
	if len(spans) > 0 {
		f.TraceID = spans[0].TraceID
	}

	byID := make(map[string]*types.Span, len(spans))
	for _, s := range spans {
		if _, dup := byID[s.ID]; dup {
			f.Anomalies = append(f.Anomalies, Anomaly{
				Type:    AnomalyDuplicateSpan,
				TraceID: s.TraceID,
				SpanID:  s.ID,
				Detail:  "span id recorded more than once, keeping first occurrence",
			})
			continue
		}
		byID[s.ID] = s
	}

	// Root and child index. Sorting child id lists up front makes the DFS
	// emit children deterministically regardless of input order.
	children := make(map[string][]string)
	rootIDs := make([]string, 0, len(byID))
	for id, s := range byID {
		if s.ParentSpanID == "" {
			rootIDs = append(rootIDs, id)
			continue
		}
		if _, ok := byID[s.ParentSpanID]; !ok {
			f.Anomalies = append(f.Anomalies, Anomaly{
				Type:    AnomalyDanglingParent,
				TraceID: s.TraceID,
				SpanID:  id,
				Detail:  "parent span " + s.ParentSpanID + " not in recorded set, promoted to root",
			})
			rootIDs = append(rootIDs, id)
			continue
		}
		children[s.ParentSpanID] = append(children[s.ParentSpanID], id)
	}
	b := &forestBuilder{
		forest:   f,
		byID:     byID,
		children: children,
		visited:  make(map[string]bool, len(byID)),
		onPath:   make(map[string]bool),
	}
	b.sortIDs(rootIDs)
	for ids := range children {
		b.sortIDs(children[ids])
	}

	for _, id := range rootIDs {
		if root := b.build(id); root != nil {
			f.Roots = append(f.Roots, root)
		}
	}

	// Spans unreachable from any root belong to a cycle (or hang off one).
	// Promote a deterministic entry point per remaining component so every
	// span still lands in exactly one node; the cycle guard reports the
	// back edge when the DFS comes back around.
	for len(b.visited) < len(byID) {
		entry := b.minUnvisited()
		if root := b.build(entry); root != nil {
			f.Roots = append(f.Roots, root)
		}
	}

	sort.SliceStable(f.Roots, func(i, j int) bool {
		return spanLess(f.Roots[i].Span, f.Roots[j].Span)
	})

	for _, c := range comms {
		if n := f.index[c.SourceSpanID]; n != nil {
			n.Communications = append(n.Communications, c)
		} else {
			f.Unattached = append(f.Unattached, c)
		}
	}
	return f
}

// BuildForests groups spans and communications by trace id and builds one
// forest per trace, ordered by trace id.
func BuildForests(spans []*types.Span, comms []*types.A2ACommunication) []*Forest {
	spansByTrace := make(map[string][]*types.Span)
	for _, s := range spans {
		spansByTrace[s.TraceID] = append(spansByTrace[s.TraceID], s)
	}
	commsByTrace := make(map[string][]*types.A2ACommunication)
	for _, c := range comms {
		commsByTrace[c.TraceID] = append(commsByTrace[c.TraceID], c)
	}

	traceIDs := make([]string, 0, len(spansByTrace))
	for id := range spansByTrace {
		traceIDs = append(traceIDs, id)
	}
	sort.Strings(traceIDs)

	forests := make([]*Forest, 0, len(traceIDs))
	for _, id := range traceIDs {
		forests = append(forests, BuildForest(spansByTrace[id], commsByTrace[id]))
	}
	return forests
}

type forestBuilder struct {
	forest   *Forest
	byID     map[string]*types.Span
	children map[string][]string
	visited  map[string]bool
	onPath   map[string]bool
}

func (b *forestBuilder) sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return spanLess(b.byID[ids[i]], b.byID[ids[j]])
	})
}

// spanLess orders spans by start time, falling back to span id so the order
// is total.
func spanLess(a, c *types.Span) bool {
	if !a.StartTime.Equal(c.StartTime) {
		return a.StartTime.Before(c.StartTime)
	}
	return a.ID < c.ID
}

// build runs an explicit-stack DFS from rootID, creating nodes and assigning
// depths. The on-path set is the cycle guard: a span revisited on the current
// path is cut and reported instead of descended into.
func (b *forestBuilder) build(rootID string) *Node {
	type frame struct {
		id     string
		parent *Node
		exit   bool
	}
	var root *Node
	stack := []frame{{id: rootID}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if fr.exit {
			delete(b.onPath, fr.id)
			continue
		}
		if b.onPath[fr.id] {
			span := b.byID[fr.id]
			b.forest.Anomalies = append(b.forest.Anomalies, Anomaly{
				Type:    AnomalyCycle,
				TraceID: span.TraceID,
				SpanID:  fr.id,
				Detail:  "circular parent chain cut at this span",
			})
			continue
		}
		if b.visited[fr.id] {
			continue
		}
		b.visited[fr.id] = true
		b.onPath[fr.id] = true

		n := &Node{Span: b.byID[fr.id], parent: fr.parent}
		if fr.parent != nil {
			n.Depth = fr.parent.Depth + 1
			fr.parent.Children = append(fr.parent.Children, n)
		} else {
			root = n
		}
		b.forest.index[fr.id] = n
		if n.Depth > b.forest.maxDepth {
			b.forest.maxDepth = n.Depth
		}

		stack = append(stack, frame{id: fr.id, exit: true})
		kids := b.children[fr.id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: kids[i], parent: n})
		}
	}
	return root
}

// minUnvisited returns the smallest unvisited span by (start time, id).
func (b *forestBuilder) minUnvisited() string {
	var best *types.Span
	for id, s := range b.byID {
		if b.visited[id] {
			continue
		}
		if best == nil || spanLess(s, best) {
			best = s
		}
	}
	return best.ID
}
