package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pizzeria-service/internal/broker"
	"pizzeria-service/internal/models"
	"pizzeria-service/internal/redisclient"
	"pizzeria-service/internal/service"
	"pizzeria-service/internal/store"
	"pizzeria-service/internal/util"
)

const sweepLockKey = "late-delivery-sweep"

// SweepWorker runs the recurring late-delivery reconciliation pass. It exists
// because a customer or operator may never revisit a late order's screen,
// yet compensation must still be applied.
type SweepWorker struct {
	refunds  *service.RefundService
	redis    *redisclient.Client
	interval time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	quit     chan struct{}
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(refunds *service.RefundService, redis *redisclient.Client, interval time.Duration) *SweepWorker {
	return &SweepWorker{
		refunds:  refunds,
		redis:    redis,
		interval: interval,
		logger:   util.GetLogger(),
		quit:     make(chan struct{}),
	}
}

// Start runs the worker in the background
func (w *SweepWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the worker and waits for the current pass to finish
func (w *SweepWorker) Stop() {
	close(w.quit)
	w.wg.Wait()
}

func (w *SweepWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Sweep worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sweep worker context cancelled")
			return
		case <-w.quit:
			w.logger.Info("Sweep worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs one reconciliation pass, guarded by a short distributed lock so
// replicas and an overrunning previous pass don't scan concurrently. Refund
// application itself is safe without the lock; this only avoids wasted work.
func (w *SweepWorker) sweep(ctx context.Context) {
	token := uuid.New().String()

	if w.redis != nil {
		acquired, err := w.redis.AcquireLock(ctx, sweepLockKey, token, w.interval)
		if err != nil {
			w.logger.Warn("Sweep lock unavailable, running unguarded", zap.Error(err))
		} else if !acquired {
			w.logger.Debug("Sweep already running elsewhere, skipping pass")
			return
		} else {
			defer func() {
				if err := w.redis.ReleaseLock(ctx, sweepLockKey, token); err != nil {
					w.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	applied, err := w.refunds.RunSweepPass(ctx)
	if err != nil {
		w.logger.Error("Sweep pass failed", zap.Error(err))
		return
	}
	if applied > 0 {
		w.logger.Info("Sweep pass compensated late orders", zap.Int("count", applied))
	}
}

// CourierWorker consumes courier status reports and applies the resulting
// order transitions, so deliveries complete without an operator action.
type CourierWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       *service.OrderService
	events       *store.Store
	logger       *zap.Logger
}

// NewCourierWorker creates a new courier worker
func NewCourierWorker(consumer *broker.Consumer, orders *service.OrderService, events *store.Store) *CourierWorker {
	w := &CourierWorker{
		consumer: consumer,
		orders:   orders,
		events:   events,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnCourierStatusReported(w.handleCourierStatus)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *CourierWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting courier worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CourierWorker) Stop() error {
	w.logger.Info("Stopping courier worker")
	return w.consumer.Close()
}

func (w *CourierWorker) handleCourierStatus(ctx context.Context, event *models.CourierStatusReportedEvent) error {
	if w.events != nil {
		processed, err := w.events.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return err
		}
		if processed {
			w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	_, err := w.orders.TransitionStatus(ctx, event.OrderID, event.Status, &event.CourierID, nil)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, store.ErrOrderNotFound):
		// Stale or duplicate report; drop it rather than redeliver forever.
		w.logger.Warn("Dropping courier report",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", string(event.Status)),
			zap.Error(err))
	default:
		return err
	}

	if w.events != nil {
		if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			w.logger.Error("Failed to mark event processed", zap.Error(err))
		}
	}
	return nil
}
