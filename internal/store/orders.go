package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pizzeria-service/internal/models"
)

// RefundResult describes the outcome of a late-delivery compensation attempt.
type RefundResult struct {
	Applied        bool
	CustomerID     int64
	Amount         decimal.Decimal
	PointsReturned int64
}

// CreateOrder creates an order with its line items and settles the customer's
// balances in a single transaction: the payable amount is debited, the net
// loyalty delta (points earned on paid units minus points spent on redeemed
// units) is applied. Balance guards run inside the transaction, so a
// concurrent spend that would take either counter negative rolls the whole
// order back.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.LineItem, debit decimal.Decimal, loyaltyDelta int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if debit.IsPositive() {
		if err := adjustBalance(ctx, tx, order.CustomerID, debit.Neg()); err != nil {
			return err
		}
	}
	if loyaltyDelta != 0 {
		if err := adjustLoyalty(ctx, tx, order.CustomerID, loyaltyDelta); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO orders (customer_id, courier_id, vehicle_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	if err := tx.GetContext(ctx, order, query,
		order.CustomerID, order.CourierID, order.VehicleID, order.Status); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		itemQuery := `
			INSERT INTO order_line_items (order_id, pizza_id, size, quantity, unit_price, free_reason)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`

		if err := tx.GetContext(ctx, &items[i].ID, itemQuery,
			items[i].OrderID, items[i].PizzaID, items[i].Size,
			items[i].Quantity, items[i].UnitPrice, items[i].FreeReason); err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all line items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.LineItem, error) {
	var items []models.LineItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_line_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ListOrdersByStatus retrieves orders in any of the given statuses
func (s *Store) ListOrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = ANY($1) ORDER BY created_at", pq.Array(raw))
	return orders, err
}

// ListOrdersByCustomer retrieves orders for a customer, newest first
func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	return orders, err
}

// TransitionStatus conditionally moves an order from one status to another.
// The first transition into DELIVERED stamps delivered_at; the COALESCE keeps
// an already-set timestamp untouched. Courier and vehicle, when given, are
// assigned as part of the same statement. Returns ErrStatusConflict when the
// order is no longer in the expected status.
func (s *Store) TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, courierID, vehicleID *int64) (*models.Order, error) {
	query := `
		UPDATE orders
		SET status = $3,
		    delivered_at = CASE WHEN $3 = 'DELIVERED' THEN COALESCE(delivered_at, NOW()) ELSE delivered_at END,
		    courier_id = COALESCE($4, courier_id),
		    vehicle_id = COALESCE($5, vehicle_id)
		WHERE id = $1 AND status = $2
		RETURNING *`

	var order models.Order
	err := s.db.GetContext(ctx, &order, query, orderID, from, to, courierID, vehicleID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %d", ErrStatusConflict, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetRating records the customer's rating for an order
func (s *Store) SetRating(ctx context.Context, orderID int64, rating int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET rating = $1 WHERE id = $2", rating, orderID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return nil
}

// ApplyLateRefund applies the late-delivery compensation for one order,
// at most once. The order row is locked FOR UPDATE for the duration, which
// serializes concurrent refund attempts (sweep vs. manual delivery) on the
// same order; the loser of the race sees the flipped items and no-ops.
// Flipping the line items and crediting the customer commit or roll back as a
// unit, so a failed credit cannot strand items in the compensated state.
func (s *Store) ApplyLateRefund(ctx context.Context, orderID int64) (*RefundResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	var items []models.LineItem
	err = tx.SelectContext(ctx, &items,
		"SELECT * FROM order_line_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}

	if order.CompensatedAt != nil || models.Compensated(items) {
		return &RefundResult{Applied: false, CustomerID: order.CustomerID}, tx.Commit()
	}

	amount, points := models.LateRefund(items)

	_, err = tx.ExecContext(ctx,
		"UPDATE order_line_items SET free_reason = $1 WHERE order_id = $2 AND free_reason = $3",
		models.FreeLateDelivery, orderID, models.NotFree)
	if err != nil {
		return nil, fmt.Errorf("failed to mark items compensated: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		"UPDATE orders SET compensated_at = NOW() WHERE id = $1", orderID); err != nil {
		return nil, fmt.Errorf("failed to stamp compensation: %w", err)
	}

	if amount.IsPositive() {
		if err := adjustBalance(ctx, tx, order.CustomerID, amount); err != nil {
			return nil, fmt.Errorf("failed to credit refund: %w", err)
		}
	}
	if points > 0 {
		if err := adjustLoyalty(ctx, tx, order.CustomerID, points); err != nil {
			return nil, fmt.Errorf("failed to return loyalty points: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &RefundResult{
		Applied:        true,
		CustomerID:     order.CustomerID,
		Amount:         amount,
		PointsReturned: points,
	}, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
