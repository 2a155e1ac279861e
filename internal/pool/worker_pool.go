package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task represents a unit of work to be executed
type Task func(context.Context) error

// WorkerPool runs tasks on a fixed set of goroutines. The queue is bounded and
// Submit blocks when it is full, so callers feeding thousands of files never
// hold more than maxWorkers*queueFactor pending tasks.
type WorkerPool struct {
	maxWorkers  int
	queue       chan queuedTask
	workerWg    sync.WaitGroup
	quit        chan struct{}
	activeCount int32
	totalTasks  int64
	failedTasks int64
	avgExecTime int64 // nanoseconds
	started     bool
	stopped     bool
	quitOnce    sync.Once
	mu          sync.RWMutex
}

type queuedTask struct {
	ctx  context.Context
	task Task
	done chan error
}

// NewWorkerPool creates a new worker pool. queueFactor sizes the queue as a
// multiple of the worker count.
func NewWorkerPool(maxWorkers, queueFactor int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueFactor <= 0 {
		queueFactor = 2
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		queue:      make(chan queuedTask, maxWorkers*queueFactor),
		quit:       make(chan struct{}),
	}
}

// Start initializes and starts all workers
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return fmt.Errorf("worker pool already started")
	}

	for i := 0; i < p.maxWorkers; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}

	p.started = true
	return nil
}

func (p *WorkerPool) worker() {
	defer p.workerWg.Done()

	for {
		select {
		case qt := <-p.queue:
			err := p.run(qt)
			if qt.done != nil {
				qt.done <- err
			}
		case <-p.quit:
			return
		}
	}
}

func (p *WorkerPool) run(qt queuedTask) error {
	start := time.Now()
	atomic.AddInt32(&p.activeCount, 1)
	atomic.AddInt64(&p.totalTasks, 1)
	defer atomic.AddInt32(&p.activeCount, -1)

	err := qt.task(qt.ctx)
	if err != nil {
		atomic.AddInt64(&p.failedTasks, 1)
	}

	// Exponential moving average, weight 1/10
	elapsed := time.Since(start).Nanoseconds()
	oldAvg := atomic.LoadInt64(&p.avgExecTime)
	atomic.StoreInt64(&p.avgExecTime, (oldAvg*9+elapsed)/10)

	return err
}

// Submit queues task and returns once it has been accepted. It blocks while
// the queue is full and gives up when ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	return p.enqueue(ctx, queuedTask{ctx: ctx, task: task})
}

// Do queues task and waits for its result.
func (p *WorkerPool) Do(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(ctx, queuedTask{ctx: ctx, task: task, done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, qt queuedTask) error {
	// The read lock spans the send: Stop takes the write lock before it
	// drains, so every accepted task is either run by a worker or drained.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolStopped
	}
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}

	select {
	case p.queue <- qt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Stop signals workers to exit and waits for in-flight tasks to finish.
// Tasks still queued are invoked with a cancelled context so their cleanup
// runs.
func (p *WorkerPool) Stop() {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return
	}

	// Closing quit first releases senders blocked on a full queue so the
	// write lock below can be taken.
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.started = false
	p.mu.Unlock()

	p.workerWg.Wait()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		select {
		case qt := <-p.queue:
			err := qt.task(cancelled)
			if qt.done != nil {
				qt.done <- err
			}
		default:
			return
		}
	}
}

// WorkerPoolStats is a point-in-time snapshot of pool counters.
type WorkerPoolStats struct {
	MaxWorkers    int
	ActiveWorkers int32
	TotalTasks    int64
	FailedTasks   int64
	AvgExecTime   time.Duration
	QueueSize     int
}

// GetStats returns current statistics
func (p *WorkerPool) GetStats() WorkerPoolStats {
	return WorkerPoolStats{
		MaxWorkers:    p.maxWorkers,
		ActiveWorkers: atomic.LoadInt32(&p.activeCount),
		TotalTasks:    atomic.LoadInt64(&p.totalTasks),
		FailedTasks:   atomic.LoadInt64(&p.failedTasks),
		AvgExecTime:   time.Duration(atomic.LoadInt64(&p.avgExecTime)),
		QueueSize:     len(p.queue),
	}
}

// MaxWorkers returns the configured worker count.
func (p *WorkerPool) MaxWorkers() int {
	return p.maxWorkers
}
