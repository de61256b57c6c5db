// Package engine turns a blueprint diff into an execution plan and applies
// it.
//
// The workflow is:
//
//  1. Plan - the Planner maps every resource diff to an operation (create,
//     update, recreate, delete or noop) and orders the units with the
//     DAGBuilder into phases.
//  2. Apply - the Applier runs the phases in order. Units of one phase run
//     concurrently, bounded by the configured parallelism. Each unit calls
//     the resource class handler and then persists the result.
//  3. Record - every apply or destroy is stored as a run, with events,
//     metrics and spans emitted along the way.
//
// A resource waits for the resources it depends on. Deletes run in the
// reverse order: a resource is deleted only after every deleted resource
// that depended on it.
//
// Errors are classified with EngineError so the CLI can tell transient
// failures (cancellation, a busy database) from permanent ones (provider
// failures, cycles).
package engine
