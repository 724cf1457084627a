package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pizzeria-service/internal/models"
	"pizzeria-service/internal/util"
)

// RefundService detects late deliveries and applies the at-most-once
// compensation: the money paid for the order's charged lines and the loyalty
// points spent on redeemed lines are credited back, and the charged lines are
// flipped to LATE_DELIVERY.
type RefundService struct {
	store     Store
	publisher EventPublisher
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewRefundService creates a new refund service. window is the promised
// delivery window after which an order counts as late.
func NewRefundService(store Store, publisher EventPublisher, window time.Duration) *RefundService {
	return &RefundService{
		store:     store,
		publisher: publisher,
		window:    window,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// IsLate reports whether the order has exceeded the promised delivery window.
// In-flight orders are judged against the current time; delivered orders
// against their delivery timestamp, a one-time final judgment. Canceled
// orders are never late.
func (rs *RefundService) IsLate(order *models.Order) bool {
	switch order.Status {
	case models.StatusPending, models.StatusInProgress:
		return rs.now().Sub(order.CreatedAt) > rs.window
	case models.StatusDelivered:
		if order.DeliveredAt == nil {
			return false
		}
		return order.DeliveredAt.Sub(order.CreatedAt) > rs.window
	case models.StatusCanceled:
		return false
	}
	return false
}

// ProcessRefund applies the late-delivery compensation for one order. The
// store runs the check-and-flip and both ledger credits in a single
// transaction under a per-order row lock, so concurrent attempts (sweep vs.
// a manual delivery) cannot double-credit: the loser observes the
// compensation marker and no-ops.
func (rs *RefundService) ProcessRefund(ctx context.Context, order *models.Order) error {
	ctx, span := util.StartSpan(ctx, "RefundService.ProcessRefund")
	defer span.End()

	result, err := rs.store.ApplyLateRefund(ctx, order.ID)
	if err != nil {
		return err
	}

	if !result.Applied {
		return nil
	}

	util.LateRefundsTotal.Inc()
	amount, _ := result.Amount.Float64()
	util.LateRefundAmountTotal.Add(amount)

	rs.logger.Info("Late-delivery refund applied",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", result.CustomerID),
		zap.String("amount", result.Amount.StringFixed(2)),
		zap.Int64("points_returned", result.PointsReturned))

	if rs.publisher != nil {
		event := &models.LateRefundAppliedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeLateRefundApplied,
				Timestamp: rs.now().UTC(),
			},
			OrderID:        order.ID,
			CustomerID:     result.CustomerID,
			Amount:         result.Amount,
			PointsReturned: result.PointsReturned,
		}
		if err := rs.publisher.PublishLateRefundApplied(ctx, event); err != nil {
			rs.logger.Error("Failed to publish LateRefundApplied event", zap.Error(err))
		}
	}

	return nil
}

// RunSweepPass examines all in-flight orders and compensates the late ones
// that have not been compensated yet. One failing order does not abort the
// pass. Returns the number of late orders processed without error;
// already-compensated orders are silent no-ops inside that count.
func (rs *RefundService) RunSweepPass(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.RunSweepPass")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	orders, err := rs.store.ListOrdersByStatus(ctx, models.StatusPending, models.StatusInProgress)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range orders {
		order := &orders[i]
		if !rs.IsLate(order) {
			continue
		}

		if err := rs.ProcessRefund(ctx, order); err != nil {
			util.SweepFailuresTotal.Inc()
			rs.logger.Error("Sweep failed to refund late order",
				zap.Int64("order_id", order.ID), zap.Error(err))
			continue
		}
		applied++
	}

	return applied, nil
}
