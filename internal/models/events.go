package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated          = "ORDER_CREATED"
	EventTypeOrderStatusChanged    = "ORDER_STATUS_CHANGED"
	EventTypeLateRefundApplied     = "LATE_REFUND_APPLIED"
	EventTypeCourierStatusReported = "COURIER_STATUS_REPORTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID      int64           `json:"order_id"`
	CustomerID   int64           `json:"customer_id"`
	PayableTotal decimal.Decimal `json:"payable_total"`
	Items        []LineItemData  `json:"items"`
}

// OrderStatusChangedEvent published when an order transitions status
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64       `json:"order_id"`
	CustomerID  int64       `json:"customer_id"`
	OldStatus   OrderStatus `json:"old_status"`
	NewStatus   OrderStatus `json:"new_status"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
}

// LateRefundAppliedEvent published when a late-delivery compensation is applied
type LateRefundAppliedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	CustomerID     int64           `json:"customer_id"`
	Amount         decimal.Decimal `json:"amount"`
	PointsReturned int64           `json:"points_returned"`
}

// CourierStatusReportedEvent consumed from the courier app when a courier
// picks up or delivers an order
type CourierStatusReportedEvent struct {
	BaseEvent
	OrderID   int64       `json:"order_id"`
	CourierID int64       `json:"courier_id"`
	Status    OrderStatus `json:"status"`
}

// LineItemData represents line item data in events
type LineItemData struct {
	PizzaID    int64           `json:"pizza_id"`
	Size       PizzaSize       `json:"size"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	FreeReason FreeReason      `json:"free_reason"`
}
