// Package types provides the shared domain types of the AgentLens trace
// analytics engine.
//
// types is the lowest-level public package and depends on nothing internal;
// the trace engine, storage adapters, and the CLI all share the contracts
// defined here: Span and A2ACommunication records, status and communication
// enums, token Usage aggregation, and the structured Error/ErrorCode scheme.
package types
