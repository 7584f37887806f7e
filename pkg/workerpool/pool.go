package workerpool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolSaturated is returned when the task queue is full. Callers must
// surface it as a capacity error, never drop the task silently.
var ErrPoolSaturated = errors.New("worker pool saturated")

// ErrPoolClosed is returned when submitting after Stop.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed-size worker pool with a bounded task queue backing
// asynchronous admission.
type Pool struct {
	tasks  chan func()
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New starts workers goroutines draining a queue of queueSize tasks.
func New(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	p := &Pool{
		tasks:  make(chan func(), queueSize),
		logger: logger,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}

	logger.Info("Worker pool started",
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize),
	)

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Task panic recovered",
						zap.Int("worker", id),
						zap.Any("panic", r),
					)
				}
			}()
			task()
		}()
	}
}

// Submit enqueues a task. Returns ErrPoolSaturated when the queue is
// full so the caller can reject the request with a capacity error.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	// Non-blocking send under the lock so Stop cannot close the channel
	// between the closed check and the enqueue.
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// SubmitWait runs the task on the pool and blocks until it finishes or
// ctx is done. The admission handler uses this to keep request handling
// bounded while still returning the admission result to the caller.
func (p *Pool) SubmitWait(ctx context.Context, task func()) error {
	done := make(chan struct{})

	err := p.Submit(func() {
		defer close(done)
		task()
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}
