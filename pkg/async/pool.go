package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that was shut down
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrPoolFull is returned by TrySubmit when the queue has no room
	ErrPoolFull = errors.New("worker pool queue full")
)

// Task is a unit of work run by a WorkerPool
type Task func(context.Context) error

// WorkerPool runs tasks on a fixed set of goroutines
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	mu     sync.RWMutex
	closed bool
	workCh chan Task
	doneCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool starts workers goroutines reading from a queue of queueSize
// tasks. Each task gets its own timeout derived from ctx.
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("task", taskName),
		workCh:   make(chan Task, queueSize),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker()
		}()
	}
	go func() {
		wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// TrySubmit queues fn without blocking
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued ones to
// finish. Tasks still running after timeout see their context cancelled.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.doneCh
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		<-p.doneCh
		return fmt.Errorf("%s: shutdown timed out after %v", p.taskName, timeout)
	}
}

func (p *WorkerPool) worker() {
	for fn := range p.workCh {
		p.run(fn)
	}
}

func (p *WorkerPool) run(fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Background task panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		p.logger.WithError(err).Warn("Background task failed")
	}
}
