// Package taskgraph holds task definitions and turns them into a validated,
// ordered execution graph.
//
// Dependencies come from two places: explicit depends_on entries and
// {placeholder} tokens in a task's description that name another task's
// output key. Tokens naming a run input are substituted from the inputs.
//
// Validation is static and happens in New, before anything runs:
//   - every placeholder must name an input or an output key
//   - sequential graphs may only reference earlier tasks
//   - DAG graphs must be acyclic (Kahn's algorithm; a cycle witness is reported)
//
// Execution order is deterministic. Ties between ready tasks are broken by
// declaration order.
package taskgraph
