package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool() {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(i)
	}
}

// workerLoop runs jobs until jobsChan is closed
func (w *Worker) workerLoop(workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for msg := range w.jobsChan {
		w.processJob(logger, msg)
	}

	logger.Debug("Worker goroutine stopping - jobsChan closed")
}

func (w *Worker) processJob(logger *slog.Logger, msg *jobMessage) {
	logger = logger.With(slog.String("job_id", msg.JobID))

	ctx := w.jobCtx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	logger.Info("Worker received job", slog.Uint64("delivery_tag", msg.DeliveryTag))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", slog.Any("panic", r))
		}
	}()

	if err := w.runner.Run(ctx, msg.JobID); err != nil {
		logger.Error("Job processing failed",
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
		return
	}

	logger.Info("Job finished", slog.Duration("duration", time.Since(start)))
}
