// Package trace implements the trace correlation and analytics engine.
//
// The engine reconstructs causal call forests from flat span and A2A
// communication records, rolls performance/cost/token/error metrics up each
// subtree, and derives cross-agent interaction patterns, bottleneck reports,
// and a weighted service dependency graph.
//
// All analysis functions are pure and synchronous: they read an immutable
// span/communication set and build derived structures fresh per call, so a
// batch of traces can be processed on independent goroutines with a single
// commutative merge step at the end (see Analyzer and GraphAccumulator).
//
// Malformed input never aborts analysis. Unparseable serialized fields fall
// back to empty values, dangling references are retained as unattached
// metadata, and circular parent chains are cut and reported; all of these
// surface as Anomaly records rather than errors.
package trace
