package trace

import "time"

// NodeMetrics holds bottom-up aggregated metrics for a node's subtree.
type NodeMetrics struct {
	// TotalDuration is the subtree's end-to-end duration: never smaller
	// than the span's own duration, and never smaller than the end offset
	// of the latest-finishing child.
	TotalDuration time.Duration `json:"total_duration"`
	TotalCost     float64       `json:"total_cost"`
	TotalTokens   int           `json:"total_tokens"`
	ErrorCount    int           `json:"error_count"`
	// ChildSpanCount counts every descendant span (not just direct children).
	ChildSpanCount int `json:"child_span_count"`
	// SuccessRate is the percentage of non-error spans in the subtree,
	// including this node.
	SuccessRate float64 `json:"success_rate"`
}

// Rollup computes NodeMetrics for every node in the forest, children before
// parents. Child order never affects the resulting values, only display.
func Rollup(f *Forest) {
	// Reversed pre-order is a valid post-order for trees: every child
	// appears after its parent in pre-order.
	order := make([]*Node, 0, f.SpanCount())
	f.Walk(func(n *Node) bool {
		order = append(order, n)
		return true
	})

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		m := NodeMetrics{
			TotalDuration: n.Span.Duration,
			TotalCost:     n.Span.TotalCost,
			TotalTokens:   n.Span.TotalTokens,
		}
		if n.Span.IsError() {
			m.ErrorCount = 1
		}
		for _, c := range n.Children {
			m.TotalCost += c.Metrics.TotalCost
			m.TotalTokens += c.Metrics.TotalTokens
			m.ErrorCount += c.Metrics.ErrorCount
			m.ChildSpanCount += 1 + c.Metrics.ChildSpanCount
			if end := childEndOffset(n, c); end > m.TotalDuration {
				m.TotalDuration = end
			}
		}
		subtree := 1 + m.ChildSpanCount
		m.SuccessRate = float64(subtree-m.ErrorCount) / float64(subtree) * 100
		n.Metrics = m
	}
}

// childEndOffset is the child's finish time expressed as an offset from the
// parent's start. Missing or inverted timestamps clamp the offset to zero so
// the child's own rolled-up duration still counts.
func childEndOffset(parent, child *Node) time.Duration {
	off := time.Duration(0)
	if !parent.Span.StartTime.IsZero() && !child.Span.StartTime.IsZero() {
		if d := child.Span.StartTime.Sub(parent.Span.StartTime); d > 0 {
			off = d
		}
	}
	return off + child.Metrics.TotalDuration
}

// AggregateMetrics combines the rolled-up root metrics of a forest into one
// trace-level summary. Sums are commutative; the duration is the latest root
// end offset measured from the earliest root start.
func AggregateMetrics(f *Forest) NodeMetrics {
	var m NodeMetrics
	if len(f.Roots) == 0 {
		return m
	}

	earliest := f.Roots[0].Span.StartTime
	for _, r := range f.Roots[1:] {
		if !r.Span.StartTime.IsZero() && (earliest.IsZero() || r.Span.StartTime.Before(earliest)) {
			earliest = r.Span.StartTime
		}
	}
	for _, r := range f.Roots {
		off := time.Duration(0)
		if !earliest.IsZero() && !r.Span.StartTime.IsZero() {
			if d := r.Span.StartTime.Sub(earliest); d > 0 {
				off = d
			}
		}
		if end := off + r.Metrics.TotalDuration; end > m.TotalDuration {
			m.TotalDuration = end
		}
		m.TotalCost += r.Metrics.TotalCost
		m.TotalTokens += r.Metrics.TotalTokens
		m.ErrorCount += r.Metrics.ErrorCount
		m.ChildSpanCount += r.Metrics.ChildSpanCount
	}
	m.ChildSpanCount += len(f.Roots) - 1
	total := f.SpanCount()
	if total > 0 {
		m.SuccessRate = float64(total-m.ErrorCount) / float64(total) * 100
	}
	return m
}
