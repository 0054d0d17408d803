// Package orchestrator runs teams of agents over a task graph.
//
// A run moves through init (credential check), validating (agents and task
// graph), executing, compiling and finally done or failed. Nothing external
// is called before executing, so configuration errors never cost a model or
// search request.
//
// Sequential runs dispatch tasks one at a time in declaration order. DAG runs
// dispatch every task whose dependencies have results, bounded by
// Policy.MaxConcurrency. Results are written once into an ExecutionContext and
// optionally persisted to a RunStore after every transition.
package orchestrator
