package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every slot is taken.
	ErrQueueFull = errors.QueueError("build queue is full").Build()
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.QueueError("build queue is stopped").Build()
)

// Pool runs jobs on a fixed number of in-process workers fed by a bounded queue.
type Pool struct {
	jobs     chan Job
	workers  int
	runner   Runner
	recorder metrics.Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	queued   map[string]struct{} // build ids waiting in jobs
	started  bool
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

var _ Dispatcher = (*Pool)(nil)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolRecorder sets the metrics recorder.
func WithPoolRecorder(r metrics.Recorder) PoolOption { return func(p *Pool) { p.recorder = r } }

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption { return func(p *Pool) { p.logger = l } }

// NewPool creates a pool with capacity queue slots and the given worker count.
func NewPool(runner Runner, workers, capacity int, opts ...PoolOption) *Pool {
	if capacity <= 0 {
		capacity = 100
	}
	if workers <= 0 {
		workers = 2
	}
	p := &Pool{
		jobs:     make(chan Job, capacity),
		workers:  workers,
		runner:   runner,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		queued:   make(map[string]struct{}),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Jobs run detached from ctx so that a cancelled
// parent never interrupts a build halfway; use Stop to shut down.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.logger.Info("Starting build queue", slog.Int("workers", p.workers), slog.Int("capacity", cap(p.jobs)))
	jobCtx := context.WithoutCancel(ctx)
	for i := range p.workers {
		p.wg.Add(1)
		go p.worker(jobCtx, i)
	}
}

// Submit enqueues job without blocking. A build that is already waiting in
// the queue is not added again.
func (p *Pool) Submit(_ context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if _, ok := p.queued[job.BuildID]; ok {
		p.logger.Debug("Build job already queued", logfields.BuildID(job.BuildID))
		return nil
	}
	select {
	case p.jobs <- job:
		p.queued[job.BuildID] = struct{}{}
		p.recorder.SetQueueDepth(len(p.jobs))
		p.logger.Debug("Build job enqueued", logfields.BuildID(job.BuildID))
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued jobs not yet picked up by a worker.
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Stop stops accepting jobs and waits for running jobs to finish or ctx to end.
// Jobs still queued are abandoned; their builds stay pending for the reconciler.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopChan)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Build queue stopped", slog.Int("abandoned", len(p.jobs)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running builds: %w", ctx.Err())
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(logfields.Worker(id))
	log.Debug("Build worker started")
	for {
		// Prefer stopping over picking up more work.
		select {
		case <-p.stopChan:
			log.Debug("Build worker stopped")
			return
		default:
		}
		select {
		case <-p.stopChan:
			log.Debug("Build worker stopped")
			return
		case job := <-p.jobs:
			p.mu.Lock()
			delete(p.queued, job.BuildID)
			p.mu.Unlock()
			p.recorder.SetQueueDepth(len(p.jobs))
			p.process(ctx, job, log)
		}
	}
}

func (p *Pool) process(ctx context.Context, job Job, log *slog.Logger) {
	start := time.Now()
	log = log.With(logfields.BuildID(job.BuildID))
	if err := p.runner.Run(ctx, job); err != nil {
		log.Warn("Build job could not run; leaving it for the reconciler", logfields.Error(err))
		return
	}
	log.Debug("Build job finished", logfields.Duration(time.Since(start)))
}
