package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

const (
	dequeueTimeout = 2 * time.Second
	idleWait       = time.Second
	// One message gets this much wall time end to end, fetch included.
	itemTimeout       = 60 * time.Second
	deadLetterTimeout = 5 * time.Second
)

// Worker drains the tenant ingestion queues and feeds the pipeline.
// Several workers may run in one process; the blocking pop arbitrates.
type Worker struct {
	queue   ports.IngestQueue
	ingest  *IngestService
	metrics *observability.Collector
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker wires a queue consumer. Call Start to run it.
func NewWorker(queue ports.IngestQueue, ingest *IngestService, metrics *observability.Collector, logger *zap.Logger) *Worker {
	return &Worker{
		queue:   queue,
		ingest:  ingest,
		metrics: metrics,
		logger:  logger,
	}
}

// Start launches the consume loop. Starting a running worker is a
// no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
	w.logger.Info("ingest worker started")
}

// Stop ends the loop after the in-flight message, if any, completes.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("ingest worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		if ctx.Err() != nil {
			return
		}
		refs, err := w.queue.ActiveQueues(ctx)
		if err != nil {
			w.logger.Warn("queue discovery failed", zap.Error(err))
			w.sleep(ctx, idleWait)
			continue
		}
		if len(refs) == 0 {
			w.sleep(ctx, idleWait)
			continue
		}

		ref, item, err := w.queue.Dequeue(ctx, refs, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			w.sleep(ctx, idleWait)
			continue
		}
		if item == nil {
			continue
		}
		w.handle(ref, item)
	}
}

// handle runs one message on its own clock so Stop never aborts an
// in-flight item.
func (w *Worker) handle(ref ports.QueueRef, item *connector.ChangeItem) {
	ctx, cancel := context.WithTimeout(context.Background(), itemTimeout)
	defer cancel()

	outcome, err := w.ingest.Process(ctx, ref, item)
	switch {
	case err == nil:
		w.metrics.IngestMessages.WithLabelValues(ref.Provider, outcome).Inc()
	case pkgerrors.IsPermanentConnector(err) || pkgerrors.IsTransientConnector(err):
		// Retries already happened inside Process; park the item.
		w.deadLetter(ref, item, err)
	default:
		w.metrics.IngestMessages.WithLabelValues(ref.Provider, "error").Inc()
		w.logger.Error("message processing failed",
			zap.String("tenant_id", ref.TenantID),
			zap.String("provider", ref.Provider),
			zap.String("uri", item.URI),
			zap.Error(err))
	}
}

func (w *Worker) deadLetter(ref ports.QueueRef, item *connector.ChangeItem, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), deadLetterTimeout)
	defer cancel()

	if err := w.queue.DeadLetter(ctx, ref, *item, cause.Error()); err != nil {
		w.metrics.IngestMessages.WithLabelValues(ref.Provider, "error").Inc()
		w.logger.Error("dead letter write failed",
			zap.String("tenant_id", ref.TenantID),
			zap.String("provider", ref.Provider),
			zap.String("uri", item.URI),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	w.metrics.IngestMessages.WithLabelValues(ref.Provider, "dead_letter").Inc()
	w.logger.Warn("message dead lettered",
		zap.String("tenant_id", ref.TenantID),
		zap.String("provider", ref.Provider),
		zap.String("uri", item.URI),
		zap.Error(cause))
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
