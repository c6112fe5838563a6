package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/models"
	"github.com/railgunhq/railgun/internal/worker/queue"
)

type HandinWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() WorkerStats
}

type WorkerStats struct {
	ActiveWorkers  int `json:"active_workers"`
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
	QueueLength    int `json:"queue_length"`
}

// handinWorker bridges the two handin queues onto the worker pool. Archive
// handins and network API handins travel on separate queues so a flood of
// slow archive jobs cannot starve the online checks.
type handinWorker struct {
	workerPool      *WorkerPool
	defaultConsumer queue.RabbitMQConsumer
	netapiConsumer  queue.RabbitMQConsumer
	executor        *Executor
	logger          zerolog.Logger
	stats           WorkerStats
	statsMutex      sync.RWMutex
	startTime       time.Time
}

func NewHandinWorker(
	workerPool *WorkerPool,
	defaultConsumer queue.RabbitMQConsumer,
	netapiConsumer queue.RabbitMQConsumer,
	executor *Executor,
	logger zerolog.Logger,
) HandinWorker {
	return &handinWorker{
		workerPool:      workerPool,
		defaultConsumer: defaultConsumer,
		netapiConsumer:  netapiConsumer,
		executor:        executor,
		logger:          logger,
		startTime:       time.Now(),
	}
}

func (w *handinWorker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting handin worker...")

	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	defaultMsgs, err := w.defaultConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume default queue: %w", err)
	}
	netapiMsgs, err := w.netapiConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume netapi queue: %w", err)
	}

	go w.processMessages(ctx, defaultMsgs)
	go w.processMessages(ctx, netapiMsgs)

	w.logger.Info().Msg("Handin worker started successfully")
	return nil
}

func (w *handinWorker) Stop() error {
	w.logger.Info().Msg("Stopping handin worker...")

	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	if err := w.defaultConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close default queue consumer")
	}
	if err := w.netapiConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close netapi queue consumer")
	}

	w.logger.Info().
		Int("total_processed", w.stats.TotalProcessed).
		Int("failed_jobs", w.stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Handin worker stopped")

	return nil
}

func (w *handinWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			w.workerPool.Submit(func() {
				err := w.processMessage(ctx, msg)
				if err != nil {
					w.statsMutex.Lock()
					w.stats.FailedJobs++
					w.statsMutex.Unlock()
				} else {
					w.statsMutex.Lock()
					w.stats.TotalProcessed++
					w.statsMutex.Unlock()
				}

				// Every outcome acks. A failed handin has already been
				// reported as rejected, and redelivering it could race
				// the recorded verdict.
				if ackErr := msg.Ack(false); ackErr != nil {
					w.logger.Error().Err(ackErr).Msg("Failed to ack message")
				}
			})
		}
	}
}

func (w *handinWorker) processMessage(ctx context.Context, msg queue.RabbitMQMessage) error {
	var event models.HandinQueuedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		w.logger.Error().Err(err).Msg("Failed to unmarshal handin event")
		return err
	}

	if strings.TrimSpace(event.HandinID) == "" || strings.TrimSpace(event.HomeworkID) == "" {
		w.logger.Error().Str("body", string(msg.Body)).Msg("Handin event is missing ids")
		return fmt.Errorf("handin event is missing ids")
	}

	w.logger.Info().
		Str("handin", event.HandinID).
		Str("hw", event.HomeworkID).
		Str("lang", event.Lang).
		Msg("Processing handin")

	return w.executor.Run(ctx, event)
}

func (w *handinWorker) GetStats() WorkerStats {
	w.statsMutex.RLock()
	defer w.statsMutex.RUnlock()

	stats := w.stats
	if n, err := w.defaultConsumer.GetQueueLength(); err == nil {
		stats.QueueLength = n
	}
	if n, err := w.netapiConsumer.GetQueueLength(); err == nil {
		stats.QueueLength += n
	}
	stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return stats
}
