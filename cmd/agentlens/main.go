// AgentLens command-line entry point.
//
// Usage:
//
//	agentlens analyze <trace-id>...            # analyze traces from the store
//	agentlens analyze --all                    # analyze every stored trace
//	agentlens analyze --otlp traces.json       # analyze an OTLP/JSON export
//	agentlens traces                           # list stored trace ids
//	agentlens version                          # show version information
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentlens/agentlens/config"
	"github.com/agentlens/agentlens/internal/cache"
	"github.com/agentlens/agentlens/internal/metrics"
	"github.com/agentlens/agentlens/internal/otelconv"
	"github.com/agentlens/agentlens/internal/storage"
	"github.com/agentlens/agentlens/internal/telemetry"
	"github.com/agentlens/agentlens/trace"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(os.Args[2:])
	case "traces":
		runTraces(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	otlpPath := fs.String("otlp", "", "Analyze an OTLP/JSON trace export instead of the store")
	all := fs.Bool("all", false, "Analyze every trace id found in the store")
	limit := fs.Int("limit", 100, "Trace id limit used with --all")
	pretty := fs.Bool("pretty", false, "Indent JSON output")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address while analyzing")
	fs.Parse(args)

	cfg, logger := mustSetup(*configPath)
	defer logger.Sync()

	if *otlpPath != "" {
		analyzeOTLP(*otlpPath, cfg, logger, *pretty)
		return
	}

	traceIDs := fs.Args()
	if len(traceIDs) == 0 && !*all {
		fmt.Fprintln(os.Stderr, "analyze: need trace ids, --all, or --otlp")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Fatal("telemetry init failed", zap.Error(err))
	}
	defer shutdownTelemetry(providers, logger)

	store, err := storage.Open(storage.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()

	if *all {
		traceIDs, err = store.ListTraceIDs(ctx, *limit)
		if err != nil {
			logger.Fatal("trace id listing failed", zap.Error(err))
		}
		if len(traceIDs) == 0 {
			logger.Info("store holds no traces")
			return
		}
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("agentlens", registry, logger)
	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, registry, logger)
	}

	analyzer := trace.NewAnalyzer(store, trace.AnalyzerConfig{
		Concurrency:        cfg.Analysis.Concurrency,
		Bottleneck:         trace.BottleneckOptions{TopN: cfg.Analysis.TopN, CostThreshold: cfg.Analysis.CostThreshold},
		FetchRatePerSecond: cfg.Analysis.FetchRatePerSecond,
	}, logger).WithRecorder(collector)

	if cfg.Redis.Enabled {
		reportCache, err := cache.New(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
		if err != nil {
			logger.Warn("cache unavailable, proceeding without it", zap.Error(err))
		} else {
			defer reportCache.Close()
			analyzer = analyzer.WithCache(reportCache)
		}
	}

	report, err := analyzer.AnalyzeBatch(ctx, traceIDs)
	if err != nil {
		logger.Fatal("batch analysis failed", zap.Error(err))
	}
	writeJSON(report, *pretty)
}

// analyzeOTLP runs the pure in-memory pipeline over an OTLP/JSON export, with
// no store, cache, or telemetry involved.
func analyzeOTLP(path string, cfg *config.Config, logger *zap.Logger, pretty bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("otlp file read failed", zap.Error(err))
	}
	td, err := otelconv.UnmarshalJSON(data)
	if err != nil {
		logger.Fatal("otlp parse failed", zap.Error(err))
	}
	spans := otelconv.Spans(td)
	logger.Info("otlp export loaded",
		zap.String("path", path),
		zap.Int("spans", len(spans)))

	analyses, graph := trace.AnalyzeAll(spans, nil, trace.BottleneckOptions{
		TopN:          cfg.Analysis.TopN,
		CostThreshold: cfg.Analysis.CostThreshold,
	})
	writeJSON(struct {
		Analyses []*trace.TraceAnalysis `json:"analyses"`
		Graph    *trace.ServiceGraph    `json:"graph"`
	}{analyses, graph}, pretty)
}

func runTraces(args []string) {
	fs := flag.NewFlagSet("traces", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 100, "Maximum number of trace ids to list")
	fs.Parse(args)

	cfg, logger := mustSetup(*configPath)
	defer logger.Sync()

	store, err := storage.Open(storage.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, logger)
	if err != nil {
		logger.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()

	ids, err := store.ListTraceIDs(context.Background(), *limit)
	if err != nil {
		logger.Fatal("trace id listing failed", zap.Error(err))
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

func mustSetup(configPath string) (*config.Config, *zap.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	// Analysis output goes to stdout; keep logs on stderr.
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()
}

func shutdownTelemetry(p *telemetry.Providers, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func writeJSON(v any, pretty bool) {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("AgentLens %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentLens - distributed trace correlation and analytics for LLM agents

Usage:
  agentlens <command> [flags]

Commands:
  analyze    Analyze traces: by id, the whole store (--all), or an OTLP/JSON export (--otlp)
  traces     List stored trace ids
  version    Show version information
  help       Show this help

Run 'agentlens <command> -h' for command flags.`)
}
