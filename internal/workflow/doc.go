// Package workflow runs retryable workflows on top of the task engine.
//
// A Workflow executes against a root task and reports which of its sub-units
// failed as a narrowed copy of its input. A Runner drives one workflow
// instance through Idle, Running and a terminal state, and can re-run it with
// only the failed sub-units. A Manager keeps a registry of runs that are
// started and retried in the background, keyed by run id.
package workflow
