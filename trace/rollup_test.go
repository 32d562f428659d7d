package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/agentlens/agentlens/types"
)

func TestRollup_ChildOutlivesParent(t *testing.T) {
	t.Parallel()

	// Child starts 600ms into the parent and runs for 2s, so the subtree
	// duration exceeds the parent's own 500ms.
	parent := mkSpan("a", "", 0, 500)
	child := mkSpan("b", "a", 600, 2000)
	f := BuildForest([]*types.Span{parent, child}, nil)
	Rollup(f)

	root := f.Roots[0]
	assert.Equal(t, 2600*time.Millisecond, root.Metrics.TotalDuration)
	assert.Equal(t, 2000*time.Millisecond, f.Node("b").Metrics.TotalDuration)
	assert.Equal(t, 1, root.Metrics.ChildSpanCount)
}

func TestRollup_ParentDurationDominates(t *testing.T) {
	t.Parallel()

	parent := mkSpan("a", "", 0, 1000)
	child := mkSpan("b", "a", 100, 200)
	f := BuildForest([]*types.Span{parent, child}, nil)
	Rollup(f)

	assert.Equal(t, time.Second, f.Roots[0].Metrics.TotalDuration)
}

func TestRollup_SumsCostTokensErrors(t *testing.T) {
	t.Parallel()

	parent := mkSpan("a", "", 0, 100)
	parent.TotalCost = 0.01
	parent.TotalTokens = 100

	child1 := mkSpan("b", "a", 10, 50)
	child1.TotalCost = 0.02
	child1.TotalTokens = 200
	child1.Status = types.StatusError

	child2 := mkSpan("c", "b", 20, 30)
	child2.TotalCost = 0.03
	child2.TotalTokens = 300

	f := BuildForest([]*types.Span{parent, child1, child2}, nil)
	Rollup(f)

	root := f.Roots[0]
	assert.InDelta(t, 0.06, root.Metrics.TotalCost, 1e-9)
	assert.Equal(t, 600, root.Metrics.TotalTokens)
	assert.Equal(t, 1, root.Metrics.ErrorCount)
	assert.Equal(t, 2, root.Metrics.ChildSpanCount)
	assert.InDelta(t, 200.0/3.0, root.Metrics.SuccessRate, 1e-9)

	// Leaf metrics are its own.
	leaf := f.Node("c").Metrics
	assert.Equal(t, 0, leaf.ChildSpanCount)
	assert.InDelta(t, 100.0, leaf.SuccessRate, 1e-9)
}

func TestRollup_MissingTimestampsClampToZeroOffset(t *testing.T) {
	t.Parallel()

	parent := mkSpan("a", "", 0, 100)
	child := mkSpan("b", "a", 0, 800)
	child.StartTime = time.Time{}
	f := BuildForest([]*types.Span{parent, child}, nil)
	Rollup(f)

	// The child's duration still counts even without a usable offset.
	assert.Equal(t, 800*time.Millisecond, f.Roots[0].Metrics.TotalDuration)
}

func TestAggregateMetrics_MultiRoot(t *testing.T) {
	t.Parallel()

	r1 := mkSpan("a", "", 0, 500)
	r1.TotalCost = 0.01
	r2 := mkSpan("b", "", 300, 400)
	r2.TotalCost = 0.02
	r2.Status = types.StatusError

	f := BuildForest([]*types.Span{r1, r2}, nil)
	Rollup(f)
	m := AggregateMetrics(f)

	// Latest root end offset from the earliest start: 300 + 400.
	assert.Equal(t, 700*time.Millisecond, m.TotalDuration)
	assert.InDelta(t, 0.03, m.TotalCost, 1e-9)
	assert.Equal(t, 1, m.ErrorCount)
	// Extra roots count as children of the logical trace.
	assert.Equal(t, 1, m.ChildSpanCount)
	assert.InDelta(t, 50.0, m.SuccessRate, 1e-9)
}

func TestAggregateMetrics_EmptyForest(t *testing.T) {
	t.Parallel()

	f := BuildForest(nil, nil)
	Rollup(f)
	m := AggregateMetrics(f)

	assert.Equal(t, NodeMetrics{}, m)
}

// Subtree duration is never below the node's own duration, and never below
// any child's rolled-up duration.
func TestRollup_Monotonicity(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		spans := genSpanSet(t)
		f := BuildForest(spans, nil)
		Rollup(f)

		ok := true
		f.Walk(func(n *Node) bool {
			if n.Metrics.TotalDuration < n.Span.Duration {
				ok = false
				return false
			}
			for _, c := range n.Children {
				if n.Metrics.TotalDuration < c.Metrics.TotalDuration {
					ok = false
					return false
				}
			}
			return true
		})
		require.True(t, ok, "rolled-up duration shrank below a component")
	})
}
