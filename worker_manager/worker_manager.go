// Package worker_manager coordinates groups of long running goroutines: the status poller, the
// push message reader and the program streamer must start together and tear down in order when
// any of them stops.
package worker_manager

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/fornellas/slogxt/log"
)

type workerType struct {
	name       string
	fn         func(context.Context) error
	cancelFunc context.CancelFunc
	errCh      chan error
}

// WorkerManager manages a group of named workers. Workers added later are cancelled first:
// dependents must be registered after their dependencies.
type WorkerManager struct {
	workers []*workerType
}

func NewWorkerManager() *WorkerManager {
	return &WorkerManager{}
}

func (wm *WorkerManager) AddWorker(name string, fn func(context.Context) error) {
	wm.workers = append([]*workerType{{name: name, fn: fn}}, wm.workers...)
}

// Start launches all workers. When the first worker returns, the remaining ones are cancelled
// in registration reverse order via Wait.
func (wm *WorkerManager) Start(ctx context.Context) {
	ctx, logger := log.MustWithGroup(ctx, "Worker Manager > Workers")
	logger.Debug("Starting workers")
	for _, worker := range wm.workers {
		workerCtx, workerLogger := log.MustWithGroup(ctx, worker.name)
		workerCtx, worker.cancelFunc = context.WithCancel(workerCtx)
		worker.errCh = make(chan error, 1)
		go func() {
			var err error
			defer func() {
				workerLogger.Debug("Finished", "err", err)
				wm.Cancel(workerCtx)
				if r := recover(); r != nil {
					workerLogger.Debug("Panic", "recovered", r, "stack", string(debug.Stack()))
					worker.errCh <- fmt.Errorf("panic: %v", r)
				} else {
					worker.errCh <- err
				}
			}()
			workerLogger.Debug("Starting")
			err = worker.fn(workerCtx)
		}()
	}
	logger.Debug("All workers started")
}

// Cancel signals the most recently registered worker to stop, which in turn cascades through
// Wait to the rest.
func (wm *WorkerManager) Cancel(ctx context.Context) {
	logger := log.MustLogger(ctx).WithGroup("Worker Manager > Cancel")
	if len(wm.workers) == 0 {
		return
	}
	worker := wm.workers[0]
	logger = logger.With("name", worker.name)
	logger.Debug("Cancelling")
	worker.cancelFunc()
}

// Wait cancels and collects all workers, returning each worker's error keyed by name.
func (wm *WorkerManager) Wait(ctx context.Context) map[string]error {
	logger := log.MustLogger(ctx).WithGroup("Worker Manager > Wait")
	logger.Debug("Waiting for all workers")
	errMap := map[string]error{}
	for i, worker := range wm.workers {
		workerLogger := logger.WithGroup(worker.name)
		if i > 0 {
			workerLogger.Debug("Cancelling")
			worker.cancelFunc()
		}
		workerLogger.Debug("Waiting")
		errMap[worker.name] = <-worker.errCh
	}
	wm.workers = nil
	logger.Debug("All workers returned")
	return errMap
}
