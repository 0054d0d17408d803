// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane start in FIFO order, at most Concurrency at a time.
// - Tasks in different lanes may execute concurrently.
// - A task whose context is done before it starts is never executed.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.WithLogger(logger))
//	defer queue.Close()
//	queue.SetConcurrency("run-abc", 4)
//	result, err := queue.EnqueueWithContext(ctx, "run-abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
