package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/types"
)

func TestDetectBottlenecks_SlowestSpansTopN(t *testing.T) {
	t.Parallel()

	f := BuildForest([]*types.Span{
		mkSpan("a", "", 0, 100),
		mkSpan("b", "a", 10, 900),
		mkSpan("c", "a", 20, 500),
		mkSpan("d", "a", 30, 900),
	}, nil)

	report := DetectBottlenecks([]*Forest{f}, BottleneckOptions{TopN: 2, CostThreshold: 1})

	require.Len(t, report.SlowestSpans, 2)
	// Equal durations tie-break on span id.
	assert.Equal(t, "b", report.SlowestSpans[0].ID)
	assert.Equal(t, "d", report.SlowestSpans[1].ID)
}

func TestDetectBottlenecks_HighCostStrictThreshold(t *testing.T) {
	t.Parallel()

	atLimit := mkSpan("at", "", 0, 10)
	atLimit.TotalCost = 0.10
	over := mkSpan("over", "", 5, 10)
	over.TotalCost = 0.50
	f := BuildForest([]*types.Span{atLimit, over}, nil)

	report := DetectBottlenecks([]*Forest{f}, DefaultBottleneckOptions())

	// Exactly at the threshold does not flag.
	require.Len(t, report.HighCostSpans, 1)
	assert.Equal(t, "over", report.HighCostSpans[0].ID)
}

func TestDetectBottlenecks_ErrorPathsDeduplicated(t *testing.T) {
	t.Parallel()

	root := mkSpan("a", "", 0, 100)
	root.OperationName = "handle"
	mid := mkSpan("b", "a", 10, 50)
	mid.OperationName = "dispatch"
	err1 := mkSpan("c", "b", 20, 10)
	err1.OperationName = "call"
	err1.Status = types.StatusError
	// Same operation chain, distinct span: dedupes to one path.
	err2 := mkSpan("d", "b", 30, 10)
	err2.OperationName = "call"
	err2.Status = types.StatusError
	f := BuildForest([]*types.Span{root, mid, err1, err2}, nil)

	report := DetectBottlenecks([]*Forest{f}, DefaultBottleneckOptions())

	require.Len(t, report.ErrorPaths, 1)
	assert.Equal(t, []string{"handle", "dispatch", "call"}, report.ErrorPaths[0])
}

func TestDetectBottlenecks_ErroredRootIsItsOwnPath(t *testing.T) {
	t.Parallel()

	root := mkSpan("a", "", 0, 100)
	root.OperationName = "boot"
	root.Status = types.StatusError
	f := BuildForest([]*types.Span{root}, nil)

	report := DetectBottlenecks([]*Forest{f}, DefaultBottleneckOptions())

	require.Len(t, report.ErrorPaths, 1)
	assert.Equal(t, []string{"boot"}, report.ErrorPaths[0])
}

func TestDetectBottlenecks_Defaults(t *testing.T) {
	t.Parallel()

	opts := BottleneckOptions{}.withDefaults()
	assert.Equal(t, 10, opts.TopN)
	assert.InDelta(t, 0.10, opts.CostThreshold, 1e-9)
}

func TestDetectBottlenecks_EmptyInput(t *testing.T) {
	t.Parallel()

	report := DetectBottlenecks(nil, DefaultBottleneckOptions())

	assert.Empty(t, report.SlowestSpans)
	assert.Empty(t, report.HighCostSpans)
	assert.Empty(t, report.ErrorPaths)
}
