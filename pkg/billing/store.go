// Package billing meters connected call time and debits credits against a
// store. One unit buys one minute; the meter ticks once per second and only
// debits on whole-minute boundaries.
package billing

import (
	"context"
	"errors"
)

// CostPerMinute is the debit taken at each whole-minute boundary.
const CostPerMinute int64 = 1

// MinimumStartBalance is the balance required to start a call. Five units
// guarantees a few minutes of runway before the first mid-call prompt.
const MinimumStartBalance int64 = 5

// ErrInsufficientFunds is returned by Debit when the balance cannot cover
// the requested units. The balance is never driven negative.
var ErrInsufficientFunds = errors.New("billing: insufficient funds")

// Profile is the billing view of a user.
type Profile struct {
	UserID  string
	Credits int64
}

// CreditStore is the balance backend. Implementations must make Debit
// atomic: concurrent debits may not overdraw.
type CreditStore interface {
	// CanAfford reports whether the user's balance covers units. An unknown
	// user simply cannot afford anything; that is not an error.
	CanAfford(ctx context.Context, userID string, units int64) (bool, error)

	// Debit atomically subtracts units and returns the updated profile, or
	// ErrInsufficientFunds without changing the balance.
	Debit(ctx context.Context, userID string, units int64) (*Profile, error)
}
