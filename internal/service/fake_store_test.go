package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pizzeria-service/internal/models"
	"pizzeria-service/internal/store"
)

// fakeStore is an in-memory Store with the same guard semantics as the
// Postgres implementation. Time is injectable so lateness can be tested
// deterministically.
type fakeStore struct {
	mu          sync.Mutex
	customers   map[int64]*models.Customer
	pizzas      map[int64]models.Pizza
	orders      map[int64]*models.Order
	items       map[int64][]models.LineItem
	nextOrderID int64
	nextItemID  int64
	now         func() time.Time

	// refundErr simulates a ledger failure for specific orders.
	refundErr map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		customers: make(map[int64]*models.Customer),
		pizzas:    make(map[int64]models.Pizza),
		orders:    make(map[int64]*models.Order),
		items:     make(map[int64][]models.LineItem),
		now:       time.Now,
		refundErr: make(map[int64]error),
	}
}

func (f *fakeStore) addCustomer(id int64, balance string, points int64) {
	f.customers[id] = &models.Customer{
		ID:            id,
		Balance:       decimal.RequireFromString(balance),
		LoyaltyPoints: points,
	}
}

func (f *fakeStore) addPizza(id int64, name, basePrice string) {
	f.pizzas[id] = models.Pizza{ID: id, Name: name, BasePrice: decimal.RequireFromString(basePrice)}
}

func (f *fakeStore) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrCustomerNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetPizzas(ctx context.Context) ([]models.Pizza, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Pizza, 0, len(f.pizzas))
	for _, p := range f.pizzas {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetPizzasByIDs(ctx context.Context, ids []int64) ([]models.Pizza, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Pizza
	for _, id := range ids {
		if p, ok := f.pizzas[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateOrder(ctx context.Context, order *models.Order, items []models.LineItem, debit decimal.Decimal, loyaltyDelta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.customers[order.CustomerID]
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrCustomerNotFound, order.CustomerID)
	}
	if debit.IsPositive() && c.Balance.Sub(debit).IsNegative() {
		return store.ErrInsufficientBalance
	}
	if c.LoyaltyPoints+loyaltyDelta < 0 {
		return store.ErrInsufficientPoints
	}

	c.Balance = c.Balance.Sub(debit)
	c.LoyaltyPoints += loyaltyDelta

	f.nextOrderID++
	order.ID = f.nextOrderID
	order.CreatedAt = f.now()

	stored := *order
	f.orders[order.ID] = &stored

	for i := range items {
		f.nextItemID++
		items[i].ID = f.nextItemID
		items[i].OrderID = order.ID
	}
	f.items[order.ID] = append([]models.LineItem(nil), items...)

	return nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.LineItem(nil), f.items[orderID]...), nil
}

func (f *fakeStore) ListOrdersByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		for _, st := range statuses {
			if o.Status == st {
				out = append(out, *o)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, courierID, vehicleID *int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrOrderNotFound, orderID)
	}
	if o.Status != from {
		return nil, fmt.Errorf("%w: order %d", store.ErrStatusConflict, orderID)
	}

	o.Status = to
	if to == models.StatusDelivered && o.DeliveredAt == nil {
		ts := f.now()
		o.DeliveredAt = &ts
	}
	if courierID != nil {
		o.CourierID = courierID
	}
	if vehicleID != nil {
		o.VehicleID = vehicleID
	}

	cp := *o
	return &cp, nil
}

func (f *fakeStore) SetRating(ctx context.Context, orderID int64, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrOrderNotFound, orderID)
	}
	o.Rating = &rating
	return nil
}

func (f *fakeStore) ApplyLateRefund(ctx context.Context, orderID int64) (*store.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.refundErr[orderID]; err != nil {
		return nil, err
	}

	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrOrderNotFound, orderID)
	}

	items := f.items[orderID]
	if o.CompensatedAt != nil || models.Compensated(items) {
		return &store.RefundResult{Applied: false, CustomerID: o.CustomerID}, nil
	}

	amount, points := models.LateRefund(items)

	for i := range items {
		if items[i].FreeReason == models.NotFree {
			items[i].FreeReason = models.FreeLateDelivery
		}
	}
	ts := f.now()
	o.CompensatedAt = &ts

	c, ok := f.customers[o.CustomerID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrCustomerNotFound, o.CustomerID)
	}
	c.Balance = c.Balance.Add(amount)
	c.LoyaltyPoints += points

	return &store.RefundResult{
		Applied:        true,
		CustomerID:     o.CustomerID,
		Amount:         amount,
		PointsReturned: points,
	}, nil
}

var _ Store = (*fakeStore)(nil)
