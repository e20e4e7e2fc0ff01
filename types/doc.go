// Copyright (c) QueryFlow Authors.
// Licensed under the MIT License.

// Package types defines the shared data model of the QueryFlow pipeline.
//
// It is the lowest-level package of the module and depends on nothing
// internal, so that decompose, planner, reasoning, synthesis and the engine
// facade can exchange values without import cycles. The main types are:
//
//   - SubQuery          — one retrievable fragment of a decomposed query
//   - RetrievalPlan     — a SubQuery set plus a validated execution order
//   - ReasoningContext  — per-chain state carried between reasoning steps
//   - StepResult        — outcome of one retrieval step
//   - SynthesizedAnswer — the final ranked, conflict-annotated answer
//   - ResultRecord      — open record returned by a retrieval callback
//   - Error / ErrorCode — structured error taxonomy for every component
package types
