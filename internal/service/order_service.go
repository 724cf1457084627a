package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pizzeria-service/internal/loyalty"
	"pizzeria-service/internal/models"
	"pizzeria-service/internal/pricing"
	"pizzeria-service/internal/store"
	"pizzeria-service/internal/util"
)

var (
	ErrEmptyOrder        = errors.New("order must contain at least one item")
	ErrInvalidSize       = errors.New("unknown pizza size")
	ErrInvalidRating     = errors.New("rating must be between 0 and 5")
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence contract the services depend on. *store.Store
// implements it; tests substitute an in-memory fake.
type Store interface {
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	GetPizzas(ctx context.Context) ([]models.Pizza, error)
	GetPizzasByIDs(ctx context.Context, ids []int64) ([]models.Pizza, error)
	CreateOrder(ctx context.Context, order *models.Order, items []models.LineItem, debit decimal.Decimal, loyaltyDelta int64) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.LineItem, error)
	ListOrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error)
	TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, courierID, vehicleID *int64) (*models.Order, error)
	SetRating(ctx context.Context, orderID int64, rating int) error
	ApplyLateRefund(ctx context.Context, orderID int64) (*store.RefundResult, error)
}

// EventPublisher publishes domain events. Publish failures are logged and
// never fail the business operation.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishLateRefundApplied(ctx context.Context, event *models.LateRefundAppliedEvent) error
}

// OrderService handles order creation, reads and status transitions
type OrderService struct {
	store          Store
	refunds        *RefundService
	publisher      EventPublisher
	pointsPerPizza int64
	logger         *zap.Logger
}

// NewOrderService creates a new order service. pointsPerPizza is the number of
// loyalty points earned per paid pizza unit.
func NewOrderService(store Store, refunds *RefundService, publisher EventPublisher, pointsPerPizza int64) *OrderService {
	return &OrderService{
		store:          store,
		refunds:        refunds,
		publisher:      publisher,
		pointsPerPizza: pointsPerPizza,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID int64              `json:"customer_id" binding:"required"`
	CourierID  *int64             `json:"courier_id"`
	VehicleID  *int64             `json:"vehicle_id"`
	Items      []LineItemRequest  `json:"items" binding:"required,min=1"`
	// FreeItemIndices selects which lines the customer redeems with loyalty
	// points. The selection is a caller decision; the allocator only
	// validates and splits.
	FreeItemIndices []int `json:"free_item_indices"`
}

// LineItemRequest represents one requested line in an order
type LineItemRequest struct {
	PizzaID  int64            `json:"pizza_id" binding:"required"`
	Size     models.PizzaSize `json:"size" binding:"required"`
	Quantity int              `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	Order        *models.Order     `json:"order"`
	Items        []models.LineItem `json:"items"`
	PayableTotal decimal.Decimal   `json:"payable_total"`
}

// CreateOrder prices the requested items, allocates loyalty redemptions,
// and persists the order while debiting the customer in one transaction.
// The amount debited is exactly PayableTotal over the allocated items.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_order").Inc()
		return nil, ErrEmptyOrder
	}
	for _, item := range req.Items {
		if !item.Size.Valid() {
			util.OrdersFailedTotal.WithLabelValues("invalid_size").Inc()
			return nil, fmt.Errorf("%w: %q", ErrInvalidSize, item.Size)
		}
		if item.Quantity < 1 {
			util.OrdersFailedTotal.WithLabelValues("invalid_quantity").Inc()
			return nil, fmt.Errorf("quantity must be at least 1, got %d", item.Quantity)
		}
	}

	customer, err := s.store.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("customer_not_found").Inc()
		return nil, err
	}

	pizzas, err := s.lookupPizzas(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("pizza_not_found").Inc()
		return nil, err
	}

	// Capture unit prices now; they are frozen on the line items and never
	// recomputed from the catalog.
	items := make([]models.LineItem, 0, len(req.Items))
	for _, reqItem := range req.Items {
		pizza := pizzas[reqItem.PizzaID]
		items = append(items, models.LineItem{
			PizzaID:    reqItem.PizzaID,
			Size:       reqItem.Size,
			Quantity:   reqItem.Quantity,
			UnitPrice:  pricing.UnitPrice(pizza.BasePrice, reqItem.Size),
			FreeReason: models.NotFree,
		})
	}

	alloc, err := loyalty.Allocate(items, req.FreeItemIndices, customer.LoyaltyPoints)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("loyalty_rejected").Inc()
		return nil, err
	}

	total := models.PayableTotal(alloc.Items)
	if customer.Balance.LessThan(total) {
		util.OrdersFailedTotal.WithLabelValues("insufficient_balance").Inc()
		return nil, fmt.Errorf("%w: balance %s, total %s",
			store.ErrInsufficientBalance, customer.Balance.StringFixed(2), total.StringFixed(2))
	}

	loyaltyDelta := s.pointsPerPizza*paidUnits(alloc.Items) - alloc.PointsToDebit

	order := &models.Order{
		CustomerID: req.CustomerID,
		CourierID:  req.CourierID,
		VehicleID:  req.VehicleID,
		Status:     models.StatusPending,
	}

	// The store re-checks both guards atomically; the pre-checks above only
	// produce friendlier errors on the common path.
	if err := s.store.CreateOrder(ctx, order, alloc.Items, total, loyaltyDelta); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	if alloc.PointsToDebit > 0 {
		util.LoyaltyRedemptionsTotal.Inc()
	}
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
		zap.String("payable_total", total.StringFixed(2)))

	s.publishOrderCreated(ctx, order, alloc.Items, total)

	return &CreateOrderResponse{
		Order:        order,
		Items:        alloc.Items,
		PayableTotal: total,
	}, nil
}

// GetOrder retrieves an order with its line items and current payable total.
// The total is recomputed from the items on every read.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*CreateOrderResponse, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &CreateOrderResponse{
		Order:        order,
		Items:        items,
		PayableTotal: models.PayableTotal(items),
	}, nil
}

// ListOrders retrieves orders in the given status
func (s *OrderService) ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return s.store.ListOrdersByStatus(ctx, status)
}

// ListCustomerOrders retrieves a customer's orders, newest first
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	return s.store.ListOrdersByCustomer(ctx, customerID)
}

// GetCustomer retrieves a customer with current balances
func (s *OrderService) GetCustomer(ctx context.Context, customerID int64) (*models.Customer, error) {
	return s.store.GetCustomer(ctx, customerID)
}

// TransitionStatus moves an order to a new status. The first transition into
// DELIVERED stamps the delivery time and runs the late-delivery check; a
// duplicate DELIVERED call is a no-op that leaves the timestamp untouched.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, to models.OrderStatus, courierID, vehicleID *int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionStatus")
	defer span.End()

	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == to && to == models.StatusDelivered {
		return order, nil
	}
	if !order.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}

	updated, err := s.store.TransitionStatus(ctx, orderID, order.Status, to, courierID, vehicleID)
	if errors.Is(err, store.ErrStatusConflict) {
		// Lost a race with a concurrent transition. A concurrent DELIVERED is
		// still treated idempotently.
		current, getErr := s.store.GetOrderByID(ctx, orderID)
		if getErr == nil && current.Status == to && to == models.StatusDelivered {
			return current, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(to)))

	switch to {
	case models.StatusDelivered:
		util.OrdersDeliveredTotal.Inc()
		if s.refunds.IsLate(updated) {
			// Compensation at the delivery transition is the last chance for
			// this order; a failure here is not retried by the sweep since the
			// order is no longer in flight.
			if err := s.refunds.ProcessRefund(ctx, updated); err != nil {
				s.logger.Error("Late-delivery refund failed at delivery, manual retry required",
					zap.Int64("order_id", orderID), zap.Error(err))
			}
		}
	case models.StatusCanceled:
		util.OrdersCanceledTotal.Inc()
	}

	s.publishStatusChanged(ctx, order.Status, updated)

	return updated, nil
}

// Occupancy lists couriers and vehicles currently out on a delivery.
type Occupancy struct {
	CourierIDs []int64 `json:"courier_ids"`
	VehicleIDs []int64 `json:"vehicle_ids"`
}

// GetOccupancy reports which couriers and vehicles are tied to IN_PROGRESS
// orders and so unavailable for new assignments. Derived from the order set on
// every call, never cached.
func (s *OrderService) GetOccupancy(ctx context.Context) (*Occupancy, error) {
	orders, err := s.store.ListOrdersByStatus(ctx, models.StatusInProgress)
	if err != nil {
		return nil, err
	}

	occ := &Occupancy{CourierIDs: []int64{}, VehicleIDs: []int64{}}
	seenCouriers := make(map[int64]bool)
	seenVehicles := make(map[int64]bool)
	for _, order := range orders {
		if order.CourierID != nil && !seenCouriers[*order.CourierID] {
			seenCouriers[*order.CourierID] = true
			occ.CourierIDs = append(occ.CourierIDs, *order.CourierID)
		}
		if order.VehicleID != nil && !seenVehicles[*order.VehicleID] {
			seenVehicles[*order.VehicleID] = true
			occ.VehicleIDs = append(occ.VehicleIDs, *order.VehicleID)
		}
	}
	return occ, nil
}

// RateOrder records the customer's 0-5 rating for an order
func (s *OrderService) RateOrder(ctx context.Context, orderID int64, rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("%w: %d", ErrInvalidRating, rating)
	}
	return s.store.SetRating(ctx, orderID, rating)
}

func (s *OrderService) lookupPizzas(ctx context.Context, items []LineItemRequest) (map[int64]models.Pizza, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if !seen[item.PizzaID] {
			seen[item.PizzaID] = true
			ids = append(ids, item.PizzaID)
		}
	}

	pizzas, err := s.store.GetPizzasByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]models.Pizza, len(pizzas))
	for _, p := range pizzas {
		byID[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: %d", store.ErrPizzaNotFound, id)
		}
	}
	return byID, nil
}

// paidUnits counts the units the customer actually pays for, which is what
// earns loyalty points. Free units earn nothing.
func paidUnits(items []models.LineItem) int64 {
	var n int64
	for _, item := range items {
		switch item.FreeReason {
		case models.NotFree:
			n += int64(item.Quantity)
		case models.FreeLoyalty:
			if item.Quantity > 1 {
				n += int64(item.Quantity - 1)
			}
		case models.FreeLateDelivery:
		}
	}
	return n
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.LineItem, total decimal.Decimal) {
	if s.publisher == nil {
		return
	}

	eventItems := make([]models.LineItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.LineItemData{
			PizzaID:    item.PizzaID,
			Size:       item.Size,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			FreeReason: item.FreeReason,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now().UTC(),
		},
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		PayableTotal: total,
		Items:        eventItems,
	}

	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *OrderService) publishStatusChanged(ctx context.Context, from models.OrderStatus, order *models.Order) {
	if s.publisher == nil {
		return
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now().UTC(),
		},
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		OldStatus:   from,
		NewStatus:   order.Status,
		DeliveredAt: order.DeliveredAt,
	}

	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}
