package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Start when the broker stops delivering
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Source is where job messages come from
type Source interface {
	SetPrefetch(count int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Runner drives one job to a terminal state
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        Source
	Runner        Runner
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	// JobTimeout bounds a single pipeline run; zero means unbounded
	JobTimeout time.Duration
}

type jobMessage struct {
	JobID       string
	DeliveryTag uint64
}

// Worker consumes job messages and runs them on a fixed pool of goroutines
type Worker struct {
	logger        *slog.Logger
	source        Source
	runner        Runner
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration

	jobsChan chan *jobMessage
	wg       sync.WaitGroup

	// jobs outlive the consume context so a shutdown lets them finish
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	switch {
	case cfg.Logger == nil:
		return nil, errors.New("worker: logger is required")
	case cfg.Source == nil:
		return nil, errors.New("worker: message source is required")
	case cfg.Runner == nil:
		return nil, errors.New("worker: runner is required")
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker"
	}

	jobCtx, cancel := context.WithCancel(context.Background())

	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		runner:        cfg.Runner,
		workerID:      workerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		// unbuffered: a send completes only once a goroutine owns the job
		jobsChan:   make(chan *jobMessage),
		jobCtx:     jobCtx,
		cancelJobs: cancel,
	}, nil
}

// Start consumes until ctx is done or the broker closes the delivery
// channel, then waits for in-flight jobs before returning
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool()

	err = w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()
	w.logger.Info("Worker drained", slog.String("worker_id", w.workerID))

	return err
}

// Stop cancels in-flight jobs and waits for the pool to exit
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.cancelJobs()
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
