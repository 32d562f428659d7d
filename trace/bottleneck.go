package trace

import (
	"sort"
	"strings"

	"github.com/agentlens/agentlens/types"
)

// BottleneckOptions configures the bottleneck detector.
type BottleneckOptions struct {
	// TopN bounds the slowest-spans list. Values <= 0 fall back to 10.
	TopN int `json:"top_n" yaml:"top_n"`
	// CostThreshold is the USD cost above which a span is flagged.
	// Values <= 0 fall back to 0.10.
	CostThreshold float64 `json:"cost_threshold" yaml:"cost_threshold"`
}

// DefaultBottleneckOptions returns the default detector settings.
func DefaultBottleneckOptions() BottleneckOptions {
	return BottleneckOptions{TopN: 10, CostThreshold: 0.10}
}

func (o BottleneckOptions) withDefaults() BottleneckOptions {
	def := DefaultBottleneckOptions()
	if o.TopN <= 0 {
		o.TopN = def.TopN
	}
	if o.CostThreshold <= 0 {
		o.CostThreshold = def.CostThreshold
	}
	return o
}

// BottleneckReport lists latency and cost outliers plus every distinct
// root-to-error path.
type BottleneckReport struct {
	SlowestSpans  []*types.Span `json:"slowest_spans"`
	HighCostSpans []*types.Span `json:"high_cost_spans"`
	// ErrorPaths holds operation-name chains from a root down to each
	// errored span, deduplicated on the full sequence.
	ErrorPaths [][]string `json:"error_paths"`
}

// DetectBottlenecks ranks the forests' spans by latency and cost and extracts
// root-to-error paths. It only reads spans and the parent linkage resolved
// during tree building; the forests are never mutated.
func DetectBottlenecks(forests []*Forest, opts BottleneckOptions) *BottleneckReport {
	opts = opts.withDefaults()
	report := &BottleneckReport{
		SlowestSpans:  make([]*types.Span, 0, opts.TopN),
		HighCostSpans: make([]*types.Span, 0),
		ErrorPaths:    make([][]string, 0),
	}

	var all []*types.Span
	for _, f := range forests {
		all = append(all, f.Spans()...)
	}

	bySlowness := make([]*types.Span, len(all))
	copy(bySlowness, all)
	sort.SliceStable(bySlowness, func(i, j int) bool {
		if bySlowness[i].Duration != bySlowness[j].Duration {
			return bySlowness[i].Duration > bySlowness[j].Duration
		}
		return bySlowness[i].ID < bySlowness[j].ID
	})
	if len(bySlowness) > opts.TopN {
		bySlowness = bySlowness[:opts.TopN]
	}
	report.SlowestSpans = append(report.SlowestSpans, bySlowness...)

	for _, s := range all {
		if s.TotalCost > opts.CostThreshold {
			report.HighCostSpans = append(report.HighCostSpans, s)
		}
	}
	sort.SliceStable(report.HighCostSpans, func(i, j int) bool {
		if report.HighCostSpans[i].TotalCost != report.HighCostSpans[j].TotalCost {
			return report.HighCostSpans[i].TotalCost > report.HighCostSpans[j].TotalCost
		}
		return report.HighCostSpans[i].ID < report.HighCostSpans[j].ID
	})

	seen := make(map[string]bool)
	for _, f := range forests {
		f.Walk(func(n *Node) bool {
			if !n.Span.IsError() {
				return true
			}
			path := errorPath(n)
			key := strings.Join(path, "\x1f")
			if !seen[key] {
				seen[key] = true
				report.ErrorPaths = append(report.ErrorPaths, path)
			}
			return true
		})
	}
	return report
}

// errorPath walks parent pointers up to the root and returns the operation
// names ordered root-first. The walk is bounded by node depth, which the
// cycle-safe builder already guaranteed to be finite.
func errorPath(n *Node) []string {
	path := make([]string, 0, n.Depth+1)
	for cur := n; cur != nil; cur = cur.Parent() {
		path = append(path, cur.Span.OperationName)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
