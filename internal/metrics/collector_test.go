package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCollector_Records(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("agentlens", reg, zap.NewNop())

	c.RecordTrace("ok", 50*time.Millisecond)
	c.RecordTrace("ok", 20*time.Millisecond)
	c.RecordTrace("empty", time.Millisecond)
	c.RecordAnomaly("cycle")
	c.RecordStoreQuery(5*time.Millisecond, nil)
	c.RecordStoreQuery(5*time.Millisecond, errors.New("down"))
	c.RecordCache(true)
	c.RecordCache(false)
	c.RecordCache(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.tracesAnalyzed.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.tracesAnalyzed.WithLabelValues("empty")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.anomalies.WithLabelValues("cycle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.storeQueries.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.storeQueries.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.cacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.cacheMisses))
}
