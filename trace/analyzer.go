package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/agentlens/agentlens/types"
)

// Store supplies raw span and communication rows for a trace. Persistence is
// an external collaborator; the engine only reads.
type Store interface {
	// FetchSpans returns every span recorded for the trace. An empty slice
	// with a nil error means the trace has no data.
	FetchSpans(ctx context.Context, traceID string) ([]*types.Span, error)
	// FetchCommunications returns every A2A communication recorded for the
	// trace.
	FetchCommunications(ctx context.Context, traceID string) ([]*types.A2ACommunication, error)
}

// Cache stores serialized per-trace analysis results. Implementations must
// treat failures as misses; a broken cache degrades to recomputation.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Recorder receives engine-level operational metrics. The zero-value noop
// implementation is used when no recorder is wired.
type Recorder interface {
	RecordTrace(status string, d time.Duration)
	RecordAnomaly(anomalyType string)
	RecordStoreQuery(d time.Duration, err error)
	RecordCache(hit bool)
}

// NopRecorder is a Recorder that discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordTrace(string, time.Duration)     {}
func (NopRecorder) RecordAnomaly(string)                  {}
func (NopRecorder) RecordStoreQuery(time.Duration, error) {}
func (NopRecorder) RecordCache(bool)                      {}

// AnalyzerConfig configures batch orchestration.
type AnalyzerConfig struct {
	// Concurrency bounds how many traces are analyzed in parallel.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// Bottleneck holds the detector settings applied per trace.
	Bottleneck BottleneckOptions `yaml:"bottleneck" json:"bottleneck"`
	// FetchRatePerSecond throttles store fetches across the whole batch.
	// Zero disables throttling.
	FetchRatePerSecond float64 `yaml:"fetch_rate_per_second" json:"fetch_rate_per_second"`
}

// DefaultAnalyzerConfig returns sensible defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Concurrency: 4,
		Bottleneck:  DefaultBottleneckOptions(),
	}
}

// TraceAnalysis is the full analysis result of one trace.
type TraceAnalysis struct {
	TraceID   string `json:"trace_id"`
	SpanCount int    `json:"span_count"`
	RootCount int    `json:"root_count"`
	MaxDepth  int    `json:"max_depth"`

	// Metrics is the trace-level rollup across all roots.
	Metrics NodeMetrics `json:"metrics"`

	Anomalies                []Anomaly                 `json:"anomalies"`
	UnattachedCommunications []*types.A2ACommunication `json:"unattached_communications,omitempty"`

	Patterns    *PatternReport    `json:"patterns"`
	Bottlenecks *BottleneckReport `json:"bottlenecks"`

	// Graph carries the trace's dependency-graph partial result so batch
	// reduction can merge cached and fresh analyses alike.
	Graph *GraphAccumulator `json:"graph"`

	forest *Forest
}

// Forest returns the underlying forest when the analysis was computed in
// this process; analyses restored from a cache have none.
func (a *TraceAnalysis) Forest() *Forest { return a.forest }

// TraceResult pairs one trace id of a batch with its analysis or its error.
type TraceResult struct {
	TraceID  string         `json:"trace_id"`
	Analysis *TraceAnalysis `json:"analysis,omitempty"`
	Error    string         `json:"error,omitempty"`
	Err      error          `json:"-"`
}

// BatchReport is the outcome of analyzing a batch of trace ids. Per-trace
// failures are recorded in Results; they never abort the rest of the batch.
type BatchReport struct {
	ID      string        `json:"id"`
	Results []TraceResult `json:"results"`
	Graph   *ServiceGraph `json:"graph"`
	Elapsed time.Duration `json:"elapsed"`
}

// Analyzer orchestrates per-trace analysis over a Store collaborator.
type Analyzer struct {
	store    Store
	cfg      AnalyzerConfig
	logger   *zap.Logger
	cache    Cache
	recorder Recorder
	limiter  *rate.Limiter
	tracer   oteltrace.Tracer
}

// NewAnalyzer creates an Analyzer. A nil logger falls back to zap.NewNop.
func NewAnalyzer(store Store, cfg AnalyzerConfig, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultAnalyzerConfig().Concurrency
	}
	a := &Analyzer{
		store:    store,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "trace_analyzer")),
		recorder: NopRecorder{},
		tracer:   otel.Tracer("github.com/agentlens/agentlens/trace"),
	}
	if cfg.FetchRatePerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.FetchRatePerSecond), 1)
	}
	return a
}

// WithCache wires a report cache.
func (a *Analyzer) WithCache(c Cache) *Analyzer {
	a.cache = c
	return a
}

// WithRecorder wires an operational metrics recorder.
func (a *Analyzer) WithRecorder(r Recorder) *Analyzer {
	if r != nil {
		a.recorder = r
	}
	return a
}

// AnalyzeTrace fetches and analyzes a single trace. A trace with zero spans
// returns an EMPTY_TRACE coded error: an explicit "no data" outcome the
// caller can distinguish from a processing failure via types.IsEmptyTrace.
func (a *Analyzer) AnalyzeTrace(ctx context.Context, traceID string) (*TraceAnalysis, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "trace.analyze",
		oteltrace.WithAttributes(attribute.String("trace.id", traceID)))
	defer span.End()

	if a.cache != nil {
		if data, ok := a.cache.Get(ctx, cacheKey(traceID)); ok {
			var cached TraceAnalysis
			if err := json.Unmarshal(data, &cached); err == nil {
				a.recorder.RecordCache(true)
				return &cached, nil
			}
			a.logger.Warn("discarding undecodable cached analysis",
				zap.String("trace_id", traceID))
		}
		a.recorder.RecordCache(false)
	}

	spans, comms, err := a.fetch(ctx, traceID)
	if err != nil {
		a.recorder.RecordTrace("store_error", time.Since(start))
		return nil, err
	}
	if len(spans) == 0 {
		a.recorder.RecordTrace("empty", time.Since(start))
		return nil, types.NewError(types.ErrEmptyTrace, "no spans recorded for trace").
			WithTraceID(traceID)
	}

	analysis := a.analyze(traceID, spans, comms)

	if a.cache != nil {
		if data, err := json.Marshal(analysis); err == nil {
			a.cache.Set(ctx, cacheKey(traceID), data)
		}
	}
	a.recorder.RecordTrace("ok", time.Since(start))
	a.logger.Debug("trace analyzed",
		zap.String("trace_id", traceID),
		zap.Int("spans", analysis.SpanCount),
		zap.Int("anomalies", len(analysis.Anomalies)),
		zap.Duration("elapsed", time.Since(start)))
	return analysis, nil
}

// AnalyzeBatch analyzes every trace id independently on a bounded worker
// group and merges the per-trace dependency-graph partials into one batch
// graph. A failure (or panic) in one trace is recorded in its TraceResult
// and the rest of the batch proceeds.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, traceIDs []string) (*BatchReport, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "trace.analyze_batch",
		oteltrace.WithAttributes(attribute.Int("batch.size", len(traceIDs))))
	defer span.End()

	results := make([]TraceResult, len(traceIDs))
	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for i, traceID := range traceIDs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					err := types.NewError(types.ErrBatchItemFailed,
						fmt.Sprintf("panic during analysis: %v", r)).WithTraceID(traceID)
					results[i] = TraceResult{TraceID: traceID, Err: err, Error: err.Error()}
					a.logger.Error("trace analysis panicked",
						zap.String("trace_id", traceID), zap.Any("panic", r))
				}
			}()
			analysis, err := a.AnalyzeTrace(ctx, traceID)
			if err != nil {
				results[i] = TraceResult{TraceID: traceID, Err: err, Error: err.Error()}
				if !types.IsEmptyTrace(err) {
					a.logger.Warn("trace analysis failed",
						zap.String("trace_id", traceID), zap.Error(err))
				}
				return nil
			}
			results[i] = TraceResult{TraceID: traceID, Analysis: analysis}
			return nil
		})
	}
	_ = g.Wait()

	acc := NewGraphAccumulator()
	for _, r := range results {
		if r.Analysis != nil && r.Analysis.Graph != nil {
			acc.Merge(r.Analysis.Graph)
		}
	}
	report := &BatchReport{
		ID:      uuid.NewString(),
		Results: results,
		Graph:   acc.Graph(),
		Elapsed: time.Since(start),
	}
	a.logger.Info("batch analyzed",
		zap.String("batch_id", report.ID),
		zap.Int("traces", len(traceIDs)),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

// analyze runs the pure per-trace pipeline: build, roll up, report.
func (a *Analyzer) analyze(traceID string, spans []*types.Span, comms []*types.A2ACommunication) *TraceAnalysis {
	forest := BuildForest(spans, comms)
	Rollup(forest)
	for _, an := range forest.Anomalies {
		a.recorder.RecordAnomaly(string(an.Type))
	}

	acc := NewGraphAccumulator()
	acc.Observe(forest)

	return &TraceAnalysis{
		TraceID:                  traceID,
		SpanCount:                forest.SpanCount(),
		RootCount:                len(forest.Roots),
		MaxDepth:                 forest.MaxDepth(),
		Metrics:                  AggregateMetrics(forest),
		Anomalies:                forest.Anomalies,
		UnattachedCommunications: forest.Unattached,
		Patterns:                 AnalyzeCrossAgentPatterns(forest),
		Bottlenecks:              DetectBottlenecks([]*Forest{forest}, a.cfg.Bottleneck),
		Graph:                    acc,
		forest:                   forest,
	}
}

func (a *Analyzer) fetch(ctx context.Context, traceID string) ([]*types.Span, []*types.A2ACommunication, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	start := time.Now()
	spans, err := a.store.FetchSpans(ctx, traceID)
	a.recorder.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		return nil, nil, types.NewError(types.ErrStoreUnavailable, "fetch spans").
			WithTraceID(traceID).WithCause(err)
	}

	start = time.Now()
	comms, err := a.store.FetchCommunications(ctx, traceID)
	a.recorder.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		return nil, nil, types.NewError(types.ErrStoreUnavailable, "fetch communications").
			WithTraceID(traceID).WithCause(err)
	}
	return spans, comms, nil
}

func cacheKey(traceID string) string { return "agentlens:analysis:" + traceID }

// Analyze runs the full per-trace pipeline over an in-memory span set,
// without a store. Useful for one-shot analysis of imported data.
func Analyze(spans []*types.Span, comms []*types.A2ACommunication, opts BottleneckOptions) *TraceAnalysis {
	a := &Analyzer{recorder: NopRecorder{}, cfg: AnalyzerConfig{Bottleneck: opts}}
	traceID := ""
	if len(spans) > 0 {
		traceID = spans[0].TraceID
	}
	return a.analyze(traceID, spans, comms)
}

// AnalyzeAll groups a mixed-trace span set by trace id, analyzes each trace,
// and aggregates the combined dependency graph.
func AnalyzeAll(spans []*types.Span, comms []*types.A2ACommunication, opts BottleneckOptions) ([]*TraceAnalysis, *ServiceGraph) {
	forests := BuildForests(spans, comms)
	analyses := make([]*TraceAnalysis, 0, len(forests))
	acc := NewGraphAccumulator()
	helper := &Analyzer{recorder: NopRecorder{}, cfg: AnalyzerConfig{Bottleneck: opts}}
	for _, f := range forests {
		analysis := helper.analyze(f.TraceID, f.Spans(), attachedComms(f))
		analyses = append(analyses, analysis)
		acc.Merge(analysis.Graph)
	}
	return analyses, acc.Graph()
}

func attachedComms(f *Forest) []*types.A2ACommunication {
	var comms []*types.A2ACommunication
	f.Walk(func(n *Node) bool {
		comms = append(comms, n.Communications...)
		return true
	})
	return append(comms, f.Unattached...)
}
