package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer represents an account holder with a money balance and loyalty points.
// Both counters are mutated only through the store's atomic adjustment queries.
type Customer struct {
	ID            int64           `db:"id" json:"id"`
	FirstName     string          `db:"first_name" json:"first_name"`
	LastName      string          `db:"last_name" json:"last_name"`
	Address       string          `db:"address" json:"address"`
	Phone         string          `db:"phone" json:"phone"`
	Balance       decimal.Decimal `db:"balance" json:"balance"`
	LoyaltyPoints int64           `db:"loyalty_points" json:"loyalty_points"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Pizza represents a catalog product with a base price for the medium size.
type Pizza struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	BasePrice decimal.Decimal `db:"base_price" json:"base_price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Courier represents a delivery driver
type Courier struct {
	ID        int64  `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Phone     string `db:"phone" json:"phone"`
}

// Vehicle represents a delivery vehicle
type Vehicle struct {
	ID           int64  `db:"id" json:"id"`
	VehicleType  string `db:"vehicle_type" json:"vehicle_type"`
	LicensePlate string `db:"license_plate" json:"license_plate"`
}

// Order represents a customer order
type Order struct {
	ID          int64       `db:"id" json:"id"`
	CustomerID  int64       `db:"customer_id" json:"customer_id"`
	CourierID   *int64      `db:"courier_id" json:"courier_id,omitempty"`
	VehicleID   *int64      `db:"vehicle_id" json:"vehicle_id,omitempty"`
	Status      OrderStatus `db:"status" json:"status"`
	Rating      *int        `db:"rating" json:"rating,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	DeliveredAt *time.Time  `db:"delivered_at" json:"delivered_at,omitempty"`
	// CompensatedAt is set when the late-delivery refund is applied. The
	// primary idempotency marker is the LATE_DELIVERY free reason on line
	// items; this stamp additionally covers orders whose items were all
	// loyalty-redeemed and so have nothing to flip.
	CompensatedAt *time.Time `db:"compensated_at" json:"compensated_at,omitempty"`
}

// LineItem represents one pizza entry within an order. The unit price is
// captured at order creation and never recomputed from the catalog.
type LineItem struct {
	ID         int64           `db:"id" json:"id"`
	OrderID    int64           `db:"order_id" json:"order_id"`
	PizzaID    int64           `db:"pizza_id" json:"pizza_id"`
	Size       PizzaSize       `db:"size" json:"size"`
	Quantity   int             `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	FreeReason FreeReason      `db:"free_reason" json:"free_reason"`
}

// OrderStatus tracks an order from creation through delivery or cancellation.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusInProgress OrderStatus = "IN_PROGRESS"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCanceled   OrderStatus = "CANCELED"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDelivered, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}

// CanTransitionTo reports whether the transition s -> to is allowed.
// PENDING -> IN_PROGRESS -> DELIVERED, with cancellation possible from any
// non-terminal status. Terminal statuses allow nothing.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusInProgress || to == StatusDelivered || to == StatusCanceled
	case StatusInProgress:
		return to == StatusDelivered || to == StatusCanceled
	case StatusDelivered, StatusCanceled:
		return false
	}
	return false
}

// InFlight reports whether the order is still awaiting delivery and therefore
// eligible for lateness evaluation.
func (s OrderStatus) InFlight() bool {
	return s == StatusPending || s == StatusInProgress
}

// FreeReason tracks why a line item is not charged, if at all.
type FreeReason string

const (
	// NotFree is the normal, fully charged case.
	NotFree FreeReason = "NOT_FREE"
	// FreeLoyalty marks a single unit redeemed with loyalty points.
	FreeLoyalty FreeReason = "LOYALTY"
	// FreeLateDelivery marks an entire line refunded as late-delivery
	// compensation. Irreversible once set.
	FreeLateDelivery FreeReason = "LATE_DELIVERY"
)

// Valid reports whether r is a known free reason.
func (r FreeReason) Valid() bool {
	switch r {
	case NotFree, FreeLoyalty, FreeLateDelivery:
		return true
	}
	return false
}

// PizzaSize selects one of the three size tiers.
type PizzaSize string

const (
	SizeSmall  PizzaSize = "SMALL"
	SizeMedium PizzaSize = "MEDIUM"
	SizeLarge  PizzaSize = "LARGE"
)

// Valid reports whether sz is a known size.
func (sz PizzaSize) Valid() bool {
	switch sz {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// LoyaltyCostPerUnit is the number of points consumed per redeemed free unit.
const LoyaltyCostPerUnit = 10

// PayableTotal computes the amount currently owed for a set of line items.
// It is a pure function of the items' free reasons and quantities and is
// evaluated identically at order creation (to know how much to debit) and at
// read time; the result is never stored.
func PayableTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		switch item.FreeReason {
		case NotFree:
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		case FreeLoyalty:
			// The allocator reduces redeemed lines to a single free unit; any
			// paid remainder lives on its own NOT_FREE line. Quantities above 1
			// are still priced minus the one free unit in case a line arrives
			// unsplit.
			if item.Quantity > 1 {
				total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity - 1))))
			}
		case FreeLateDelivery:
			// Compensation covers the whole line.
		}
	}
	return total
}

// LateRefund computes what a late-delivery compensation returns to the
// customer: the money paid for NOT_FREE lines and the loyalty points spent on
// LOYALTY lines. LATE_DELIVERY lines have already been compensated.
func LateRefund(items []LineItem) (amount decimal.Decimal, points int64) {
	amount = decimal.Zero
	for _, item := range items {
		switch item.FreeReason {
		case NotFree:
			amount = amount.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		case FreeLoyalty:
			points += LoyaltyCostPerUnit
		case FreeLateDelivery:
		}
	}
	return amount, points
}

// Compensated reports whether a late-delivery refund has already been applied
// to the order these items belong to.
func Compensated(items []LineItem) bool {
	for _, item := range items {
		if item.FreeReason == FreeLateDelivery {
			return true
		}
	}
	return false
}
