package trace

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/agentlens/agentlens/types"
)

// genSpanSet draws a span set with arbitrary parent references: parents may
// be empty, point at other drawn spans, at themselves, or at ids that were
// never drawn. This covers clean trees, dangling parents, and cycles alike.
func genSpanSet(t *rapid.T) []*types.Span {
	n := rapid.IntRange(0, 40).Draw(t, "n")
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("span-%02d", i)
	}

	spans := make([]*types.Span, n)
	for i, id := range ids {
		parent := ""
		switch rapid.IntRange(0, 3).Draw(t, "parentKind") {
		case 0:
			// root
		case 1:
			if n > 0 {
				parent = ids[rapid.IntRange(0, n-1).Draw(t, "parentIdx")]
			}
		case 2:
			parent = id // self cycle
		case 3:
			parent = "never-recorded"
		}
		spans[i] = &types.Span{
			ID:           id,
			TraceID:      "trace-prop",
			ParentSpanID: parent,
			StartTime:    testBase.Add(time.Duration(rapid.IntRange(0, 10_000).Draw(t, "start")) * time.Millisecond),
			Duration:     time.Duration(rapid.IntRange(0, 5_000).Draw(t, "dur")) * time.Millisecond,
			Status:       types.StatusSuccess,
		}
	}
	return spans
}

// Every input span must land in exactly one node, whatever the parent
// references look like, and the build must terminate.
func TestBuildForest_Completeness(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		spans := genSpanSet(t)
		f := BuildForest(spans, nil)

		if f.SpanCount() != len(spans) {
			t.Fatalf("expected %d nodes, got %d", len(spans), f.SpanCount())
		}
		seen := make(map[string]int)
		f.Walk(func(n *Node) bool {
			seen[n.Span.ID]++
			return true
		})
		for _, s := range spans {
			if seen[s.ID] != 1 {
				t.Fatalf("span %s appears %d times in the forest", s.ID, seen[s.ID])
			}
		}
	})
}

// The forest structure must be identical for any permutation of the input.
func TestBuildForest_DeterministicUnderPermutation(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		spans := genSpanSet(t)
		f1 := BuildForest(spans, nil)

		shuffled := make([]*types.Span, len(spans))
		copy(shuffled, spans)
		perm := rapid.Permutation(shuffled).Draw(t, "perm")
		f2 := BuildForest(perm, nil)

		ids1, ids2 := preorderIDs(f1), preorderIDs(f2)
		if len(ids1) != len(ids2) {
			t.Fatalf("preorder lengths differ: %d vs %d", len(ids1), len(ids2))
		}
		for i := range ids1 {
			if ids1[i] != ids2[i] {
				t.Fatalf("preorder diverges at %d: %s vs %s", i, ids1[i], ids2[i])
			}
		}
		if f1.MaxDepth() != f2.MaxDepth() {
			t.Fatalf("max depth differs: %d vs %d", f1.MaxDepth(), f2.MaxDepth())
		}
	})
}

// Mutual parent references must terminate and surface at least one cycle
// anomaly.
func TestBuildForest_CycleSafety(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		// A ring of k spans, each the parent of the next.
		k := rapid.IntRange(2, 10).Draw(t, "ringSize")
		spans := make([]*types.Span, k)
		for i := range spans {
			spans[i] = &types.Span{
				ID:           fmt.Sprintf("ring-%02d", i),
				TraceID:      "trace-ring",
				ParentSpanID: fmt.Sprintf("ring-%02d", (i+1)%k),
				StartTime:    testBase.Add(time.Duration(i) * time.Millisecond),
				Status:       types.StatusSuccess,
			}
		}

		f := BuildForest(spans, nil)
		if f.SpanCount() != k {
			t.Fatalf("expected %d nodes, got %d", k, f.SpanCount())
		}
		var cycles int
		for _, an := range f.Anomalies {
			if an.Type == AnomalyCycle {
				cycles++
			}
		}
		if cycles == 0 {
			t.Fatalf("ring of %d spans produced no cycle anomaly", k)
		}
	})
}

// Depth reported by MaxDepth must match the deepest node in the forest.
func TestForest_MaxDepthMatchesWalk(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		spans := genSpanSet(t)
		f := BuildForest(spans, nil)

		deepest := -1
		f.Walk(func(n *Node) bool {
			if n.Depth > deepest {
				deepest = n.Depth
			}
			return true
		})
		if f.MaxDepth() != deepest {
			t.Fatalf("MaxDepth() = %d, walk found %d", f.MaxDepth(), deepest)
		}
	})
}
