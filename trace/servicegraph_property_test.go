package trace

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentlens/agentlens/types"
)

// genForest builds a one-trace forest from a compact integer encoding so the
// property works over arbitrary span/communication shapes.
func genForest(seed []int, traceN int) *Forest {
	spans := make([]*types.Span, 0, len(seed))
	comms := make([]*types.A2ACommunication, 0, len(seed))
	for i, v := range seed {
		if v < 0 {
			v = -v
		}
		id := fmt.Sprintf("s-%d-%d", traceN, i)
		s := &types.Span{
			ID:        id,
			TraceID:   fmt.Sprintf("trace-%d", traceN),
			AgentID:   fmt.Sprintf("agent-%d", v%4),
			StartTime: testBase.Add(time.Duration(i) * time.Millisecond),
			Duration:  time.Duration(v%1000) * time.Millisecond,
			Status:    types.StatusSuccess,
		}
		if v%5 == 0 {
			s.Status = types.StatusError
		}
		spans = append(spans, s)
		if v%3 == 0 {
			comms = append(comms, &types.A2ACommunication{
				ID:            "c-" + id,
				TraceID:       s.TraceID,
				SourceSpanID:  id,
				TargetAgentID: fmt.Sprintf("agent-%d", (v+1)%4),
				Communication: types.CommHTTP,
				Duration:      time.Duration(v%500) * time.Millisecond,
			})
		}
	}
	return BuildForest(spans, comms)
}

// Batch reduction must produce the same dependency graph no matter how the
// per-trace partials are grouped or ordered.
func TestProperty_GraphMergeOrderInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("merge is commutative and associative over trace partials", prop.ForAll(
		func(seeds [][]int) bool {
			partials := make([]*GraphAccumulator, len(seeds))
			for i, seed := range seeds {
				acc := NewGraphAccumulator()
				acc.Observe(genForest(seed, i))
				partials[i] = acc
			}

			forward := NewGraphAccumulator()
			for _, p := range partials {
				forward.Merge(p)
			}

			backward := NewGraphAccumulator()
			for i := len(partials) - 1; i >= 0; i-- {
				backward.Merge(partials[i])
			}

			// Pairwise tree reduction instead of a linear fold.
			for len(partials) > 1 {
				next := make([]*GraphAccumulator, 0, (len(partials)+1)/2)
				for i := 0; i < len(partials); i += 2 {
					if i+1 < len(partials) {
						partials[i].Merge(partials[i+1])
					}
					next = append(next, partials[i])
				}
				partials = next
			}

			if !reflect.DeepEqual(forward.Graph(), backward.Graph()) {
				return false
			}
			if len(partials) == 1 && !reflect.DeepEqual(forward.Graph(), partials[0].Graph()) {
				return false
			}
			return true
		},
		gen.SliceOf(gen.SliceOf(gen.IntRange(0, 10_000))),
	))

	properties.TestingRun(t)
}
