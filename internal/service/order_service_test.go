package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizzeria-service/internal/loyalty"
	"pizzeria-service/internal/models"
	"pizzeria-service/internal/store"
)

type capturingPublisher struct {
	created       []*models.OrderCreatedEvent
	statusChanged []*models.OrderStatusChangedEvent
	refunds       []*models.LateRefundAppliedEvent
}

func (p *capturingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.created = append(p.created, e)
	return nil
}

func (p *capturingPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.statusChanged = append(p.statusChanged, e)
	return nil
}

func (p *capturingPublisher) PublishLateRefundApplied(ctx context.Context, e *models.LateRefundAppliedEvent) error {
	p.refunds = append(p.refunds, e)
	return nil
}

func newTestService(fs *fakeStore, window time.Duration) (*OrderService, *RefundService, *capturingPublisher) {
	pub := &capturingPublisher{}
	refunds := NewRefundService(fs, pub, window)
	refunds.now = func() time.Time { return fs.now() }
	svc := NewOrderService(fs, refunds, pub, 1)
	return svc, refunds, pub
}

func TestCreateOrder_DebitsExactPayableTotal(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "20.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, pub := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.True(t, resp.PayableTotal.Equal(decimal.RequireFromString("20.00")),
		"payable total %s", resp.PayableTotal)
	assert.Equal(t, models.StatusPending, resp.Order.Status)

	customer, err := svc.GetCustomer(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, customer.Balance.IsZero(), "balance %s", customer.Balance)
	assert.Equal(t, int64(2), customer.LoyaltyPoints, "two paid units earn two points")

	require.Len(t, pub.created, 1)
	assert.Equal(t, resp.Order.ID, pub.created[0].OrderID)
}

func TestCreateOrder_SizeMultipliersApplied(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "100.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items: []LineItemRequest{
			{PizzaID: 1, Size: models.SizeSmall, Quantity: 1},
			{PizzaID: 1, Size: models.SizeLarge, Quantity: 1},
		},
	})
	require.NoError(t, err)

	// 6.70 + 13.30
	assert.True(t, resp.PayableTotal.Equal(decimal.RequireFromString("20.00")),
		"payable total %s", resp.PayableTotal)
}

func TestCreateOrder_LoyaltyRedemption(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "50.00", 10)
	fs.addPizza(1, "Quattro Formaggi", "8.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID:      1,
		Items:           []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
		FreeItemIndices: []int{0},
	})
	require.NoError(t, err)

	assert.True(t, resp.PayableTotal.IsZero(), "free order must cost nothing, got %s", resp.PayableTotal)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, models.FreeLoyalty, resp.Items[0].FreeReason)

	customer, err := svc.GetCustomer(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, customer.Balance.Equal(decimal.RequireFromString("50.00")), "balance untouched")
	assert.Equal(t, int64(0), customer.LoyaltyPoints, "10 points debited, free unit earns nothing")
}

func TestCreateOrder_InsufficientPointsRejectsWholeOrder(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "50.00", 5)
	fs.addPizza(1, "Quattro Formaggi", "8.00")
	svc, _, pub := newTestService(fs, 30*time.Minute)

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID:      1,
		Items:           []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
		FreeItemIndices: []int{0},
	})
	assert.ErrorIs(t, err, loyalty.ErrInsufficientPoints)

	customer, getErr := svc.GetCustomer(context.Background(), 1)
	require.NoError(t, getErr)
	assert.True(t, customer.Balance.Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, int64(5), customer.LoyaltyPoints, "rejection must not mutate the ledger")
	assert.Empty(t, pub.created)
}

func TestCreateOrder_InsufficientBalance(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "5.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	customer, getErr := svc.GetCustomer(context.Background(), 1)
	require.NoError(t, getErr)
	assert.True(t, customer.Balance.Equal(decimal.RequireFromString("5.00")))
}

func TestCreateOrder_SplitsMultiUnitLineOnRedemption(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "100.00", 10)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID:      1,
		Items:           []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 3}},
		FreeItemIndices: []int{0},
	})
	require.NoError(t, err)

	// Two paid units remain after one is redeemed.
	assert.True(t, resp.PayableTotal.Equal(decimal.RequireFromString("20.00")),
		"payable total %s", resp.PayableTotal)
	require.Len(t, resp.Items, 2)

	var paid, free int
	for _, item := range resp.Items {
		switch item.FreeReason {
		case models.NotFree:
			paid += item.Quantity
		case models.FreeLoyalty:
			free += item.Quantity
		}
	}
	assert.Equal(t, 2, paid)
	assert.Equal(t, 1, free)

	customer, err := svc.GetCustomer(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), customer.LoyaltyPoints, "-10 redeemed, +2 earned")
}

func TestCreateOrder_Validation(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "100.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{CustomerID: 1})
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: "GIGANTIC", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 99, Size: models.SizeMedium, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrPizzaNotFound)

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 42,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)
}

func TestTransitionStatus_HappyPath(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "20.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, pub := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	require.NoError(t, err)
	orderID := resp.Order.ID

	courierID := int64(7)
	updated, err := svc.TransitionStatus(context.Background(), orderID, models.StatusInProgress, &courierID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	require.NotNil(t, updated.CourierID)
	assert.Equal(t, int64(7), *updated.CourierID)

	updated, err = svc.TransitionStatus(context.Background(), orderID, models.StatusDelivered, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	require.NotNil(t, updated.DeliveredAt)

	require.Len(t, pub.statusChanged, 2)
	assert.Equal(t, models.StatusPending, pub.statusChanged[0].OldStatus)
	assert.Equal(t, models.StatusDelivered, pub.statusChanged[1].NewStatus)
}

func TestTransitionStatus_DeliveredIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "20.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, pub := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	require.NoError(t, err)
	orderID := resp.Order.ID

	_, err = svc.TransitionStatus(context.Background(), orderID, models.StatusInProgress, nil, nil)
	require.NoError(t, err)

	first, err := svc.TransitionStatus(context.Background(), orderID, models.StatusDelivered, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, first.DeliveredAt)
	stamped := *first.DeliveredAt

	events := len(pub.statusChanged)

	second, err := svc.TransitionStatus(context.Background(), orderID, models.StatusDelivered, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, second.DeliveredAt)
	assert.True(t, second.DeliveredAt.Equal(stamped), "delivered_at must not move on a duplicate call")
	assert.Len(t, pub.statusChanged, events, "duplicate delivery must not publish again")
}

func TestTransitionStatus_RejectsInvalidMoves(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "40.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	require.NoError(t, err)
	orderID := resp.Order.ID

	_, err = svc.TransitionStatus(context.Background(), orderID, "MISPLACED", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = svc.TransitionStatus(context.Background(), orderID, models.StatusCanceled, nil, nil)
	require.NoError(t, err)

	// Terminal states admit nothing.
	_, err = svc.TransitionStatus(context.Background(), orderID, models.StatusInProgress, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.TransitionStatus(context.Background(), orderID, models.StatusDelivered, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	reloaded, err := svc.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, reloaded.Order.Status)
}

func TestTransitionStatus_PendingStraightToDelivered(t *testing.T) {
	// A pickup handed to the customer at the counter never passes through
	// IN_PROGRESS; delivering directly from PENDING is a legal move and stamps
	// the delivery time.
	fs := newFakeStore()
	fs.addCustomer(1, "10.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, pub := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	require.NoError(t, err)

	updated, err := svc.TransitionStatus(context.Background(), resp.Order.ID, models.StatusDelivered, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	require.NotNil(t, updated.DeliveredAt)

	require.Len(t, pub.statusChanged, 1)
	assert.Equal(t, models.StatusPending, pub.statusChanged[0].OldStatus)
	assert.Equal(t, models.StatusDelivered, pub.statusChanged[0].NewStatus)
}

func TestTransitionStatus_LateDeliveryRefundsOnArrival(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "12.00", 0)
	fs.addPizza(1, "Margherita", "12.00")
	svc, _, pub := newTestService(fs, 30*time.Minute)

	t0 := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	fs.now = func() time.Time { return t0 }

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	require.NoError(t, err)
	orderID := resp.Order.ID

	_, err = svc.TransitionStatus(context.Background(), orderID, models.StatusInProgress, nil, nil)
	require.NoError(t, err)

	// Arrives 40 minutes after creation.
	fs.now = func() time.Time { return t0.Add(40 * time.Minute) }

	updated, err := svc.TransitionStatus(context.Background(), orderID, models.StatusDelivered, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)

	customer, err := svc.GetCustomer(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, customer.Balance.Equal(decimal.RequireFromString("12.00")),
		"late delivery refunds the full charge, got %s", customer.Balance)

	items, err := fs.GetOrderItems(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.FreeLateDelivery, items[0].FreeReason)

	require.Len(t, pub.refunds, 1)
	assert.Equal(t, orderID, pub.refunds[0].OrderID)
}

func TestRateOrder(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "20.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RateOrder(context.Background(), resp.Order.ID, 6), ErrInvalidRating)
	assert.ErrorIs(t, svc.RateOrder(context.Background(), resp.Order.ID, -1), ErrInvalidRating)

	require.NoError(t, svc.RateOrder(context.Background(), resp.Order.ID, 4))
	got, err := svc.GetOrder(context.Background(), resp.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Order.Rating)
	assert.Equal(t, 4, *got.Order.Rating)
}

func TestGetOccupancy(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "100.00", 0)
	fs.addPizza(1, "Margherita", "10.00")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	makeOrder := func() int64 {
		resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
			CustomerID: 1,
			Items:      []LineItemRequest{{PizzaID: 1, Size: models.SizeMedium, Quantity: 1}},
		})
		require.NoError(t, err)
		return resp.Order.ID
	}

	outForDelivery := makeOrder()
	waiting := makeOrder()

	courierID, vehicleID := int64(7), int64(3)
	_, err := svc.TransitionStatus(context.Background(), outForDelivery, models.StatusInProgress, &courierID, &vehicleID)
	require.NoError(t, err)

	occ, err := svc.GetOccupancy(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7}, occ.CourierIDs)
	assert.ElementsMatch(t, []int64{3}, occ.VehicleIDs)

	// Delivery frees the courier and vehicle; the pending order never held any.
	_, err = svc.TransitionStatus(context.Background(), outForDelivery, models.StatusDelivered, nil, nil)
	require.NoError(t, err)

	occ, err = svc.GetOccupancy(context.Background())
	require.NoError(t, err)
	assert.Empty(t, occ.CourierIDs)
	assert.Empty(t, occ.VehicleIDs)
	_ = waiting
}

func TestGetOrder_RecomputesPayableTotal(t *testing.T) {
	fs := newFakeStore()
	fs.addCustomer(1, "50.00", 10)
	fs.addPizza(1, "Margherita", "10.00")
	fs.addPizza(2, "Diavola", "11.50")
	svc, _, _ := newTestService(fs, 30*time.Minute)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: 1,
		Items: []LineItemRequest{
			{PizzaID: 1, Size: models.SizeMedium, Quantity: 1},
			{PizzaID: 2, Size: models.SizeMedium, Quantity: 1},
		},
		FreeItemIndices: []int{1},
	})
	require.NoError(t, err)

	got, err := svc.GetOrder(context.Background(), resp.Order.ID)
	require.NoError(t, err)
	assert.True(t, got.PayableTotal.Equal(resp.PayableTotal))
	assert.True(t, got.PayableTotal.Equal(decimal.RequireFromString("10.00")))
}
