// Package loyalty decides which order units may be redeemed for free against
// a customer's loyalty point balance.
package loyalty

import (
	"errors"
	"fmt"

	"pizzeria-service/internal/models"
)

var (
	// ErrInsufficientPoints is returned when the requested free units exceed
	// what the customer's balance allows. Nothing is allocated in that case.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	// ErrInvalidSelection is returned for out-of-range or duplicate free
	// unit indices.
	ErrInvalidSelection = errors.New("invalid free item selection")
)

// Allocation is the result of a successful loyalty allocation.
type Allocation struct {
	// Items is the rewritten line item set: requested lines split into a paid
	// remainder plus a single-unit LOYALTY line.
	Items []models.LineItem
	// PointsToDebit is the loyalty cost of the granted free units, 10 per unit.
	PointsToDebit int64
}

// Allocate validates that the requested free units fit within the customer's
// point balance and rewrites the proposed line items accordingly. The caller
// picks the candidate lines; the allocator only validates and splits. It has
// no side effects: the point debit happens later, inside the order creation
// transaction. Allocation is all-or-nothing.
func Allocate(items []models.LineItem, requestedFree []int, points int64) (*Allocation, error) {
	available := points / models.LoyaltyCostPerUnit
	if int64(len(requestedFree)) > available {
		return nil, fmt.Errorf("%w: have %d points, need %d",
			ErrInsufficientPoints, points, len(requestedFree)*models.LoyaltyCostPerUnit)
	}

	seen := make(map[int]bool, len(requestedFree))
	for _, idx := range requestedFree {
		if idx < 0 || idx >= len(items) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidSelection, idx)
		}
		if seen[idx] {
			return nil, fmt.Errorf("%w: index %d requested twice", ErrInvalidSelection, idx)
		}
		seen[idx] = true
	}

	out := make([]models.LineItem, 0, len(items)+len(requestedFree))
	for i, item := range items {
		if !seen[i] {
			out = append(out, item)
			continue
		}

		if item.Quantity > 1 {
			// Paid remainder keeps the original line's reason and loses one unit.
			remainder := item
			remainder.Quantity = item.Quantity - 1
			out = append(out, remainder)
		}

		// Unit price is preserved on the free line for audit; PayableTotal
		// excludes it.
		free := item
		free.Quantity = 1
		free.FreeReason = models.FreeLoyalty
		out = append(out, free)
	}

	return &Allocation{
		Items:         out,
		PointsToDebit: int64(len(requestedFree)) * models.LoyaltyCostPerUnit,
	}, nil
}
