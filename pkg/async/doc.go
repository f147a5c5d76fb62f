// Package async runs background work off the request path.
//
// WorkerPool executes submitted tasks on a fixed number of goroutines with a
// per-task timeout and panic recovery. Panics and task errors are logged and
// never reach the submitter:
//
//	pool := async.NewWorkerPool(ctx, 4, 256, "alert delivery", 30*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	if err := pool.TrySubmit(func(ctx context.Context) error {
//		return deliver(ctx, alert)
//	}); err != nil {
//		logger.WithError(err).Warn("alert dropped")
//	}
package async
