// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Package workflow provides the typed, stateful workflow engine behind reviewflow.

# Overview

A run threads one immutable, versioned State through a graph of steps. Steps
never talk to each other: each one reads a View restricted to its declared
inputs and returns a Delta over its declared outputs. The Executor owns the
current State, applies deltas copy-on-write and decides what runs next.

# Core types

  - State / Delta: versioned field record with per-field writer ownership
  - Schema / FieldSpec: field kinds, reducers, merge policies, write-once fields
  - StepSpec / Registry: step contracts (Reads, Optional, Writes, Repairs, Kind)
  - Router / RouteDecision: tagged Next | Parallel | FanOut | Terminal decisions
  - Dispatcher: bounded concurrent branch runner (x/sync/semaphore)
  - Merger: deterministic fan-in of branch deltas
  - GuardSpec: bounded check → repair → re-check loop
  - Builder / Graph: fluent, validated graph definition
  - Executor: ready-queue driver with MaxSteps, deadline and retries

# Errors

Structural errors (MissingDependency, FieldConflict, ContractViolation,
MaxStepsExceeded, InvalidGraph) abort a run. StepFailure inside a batch becomes
a PartialFailure that either continues (PartialContinue) or aborts
(PartialAbort). Guards that run out of repair attempts record a
ValidationWarning and the run goes on.

# Instrumentation

Runs and steps open OpenTelemetry spans, report to an Observer (see
internal/metrics) and emit Events to an EventEmitter stored in the context.
*/
package workflow
