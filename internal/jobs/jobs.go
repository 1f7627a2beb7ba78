package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("job queue full")

// Job is one unit of background work. Run is retried with capped
// exponential backoff until it succeeds or MaxAttempts is exhausted, at
// which point OnFailure is invoked once with the last error.
type Job struct {
	Name        string
	MaxAttempts uint64
	Backoff     time.Duration
	Run         func(ctx context.Context) error
	OnFailure   func(ctx context.Context, err error)
}

type worker struct {
	id         int
	workerPool chan chan Job
	jobChannel chan Job
	logger     *slog.Logger
}

func newWorker(id int, workerPool chan chan Job, logger *slog.Logger) *worker {
	return &worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan Job),
		logger:     logger,
	}
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, process func(context.Context, Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.workerPool <- w.jobChannel

			select {
			case job := <-w.jobChannel:
				w.logger.Debug("worker processing job", "worker_id", w.id, "job", job.Name)
				process(ctx, job)
			case <-ctx.Done():
				w.logger.Debug("worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

type Config struct {
	MaxWorkers     int
	JobQueueSize   int
	DefaultRetries uint64
	DefaultBackoff time.Duration
}

// Dispatcher fans queued jobs out to a fixed pool of workers. Delivery
// is at-least-once: a job handed to a worker either succeeds, or runs
// its failure callback after the retry budget is spent.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	jobQueue   chan Job
	workerPool chan chan Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 100
	}
	if cfg.DefaultRetries == 0 {
		cfg.DefaultRetries = 5
	}
	if cfg.DefaultBackoff <= 0 {
		cfg.DefaultBackoff = time.Minute
	}

	d := &Dispatcher{
		cfg:        cfg,
		logger:     logger,
		jobQueue:   make(chan Job, cfg.JobQueueSize),
		workerPool: make(chan chan Job, cfg.MaxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.cfg.MaxWorkers; i++ {
			newWorker(i, d.workerPool, d.logger).start(d.ctx, &d.wg, d.process)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("job dispatcher started",
			"max_workers", d.cfg.MaxWorkers,
			"queue_size", cap(d.jobQueue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.jobQueue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- job:
				case <-d.ctx.Done():
					return
				}
			case <-d.ctx.Done():
				return
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Enqueue queues a job without blocking. A full queue is reported to the
// caller instead of silently dropping the work.
func (d *Dispatcher) Enqueue(job Job) error {
	if job.MaxAttempts == 0 {
		job.MaxAttempts = d.cfg.DefaultRetries
	}
	if job.Backoff <= 0 {
		job.Backoff = d.cfg.DefaultBackoff
	}

	select {
	case d.jobQueue <- job:
		d.logger.Debug("job queued", "job", job.Name, "queue_length", len(d.jobQueue))
		return nil
	default:
		d.logger.Warn("job queue full, rejecting job", "job", job.Name, "queue_capacity", cap(d.jobQueue))
		return ErrQueueFull
	}
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	backoff := retry.WithMaxRetries(job.MaxAttempts-1, retry.NewExponential(job.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := job.Run(ctx); err != nil {
			d.logger.Warn("job attempt failed", "job", job.Name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return
	}

	d.logger.Error("job failed after retry budget", "job", job.Name, "error", err)
	if job.OnFailure != nil {
		job.OnFailure(ctx, err)
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to finish
// their current attempt.
func (d *Dispatcher) Shutdown() {
	d.logger.Info("shutting down job dispatcher")
	d.cancel()
	d.wg.Wait()
	d.logger.Info("job dispatcher shutdown complete")
}
