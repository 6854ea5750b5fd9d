package billing

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v84"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
)

// ErrTopUpUnavailable is returned when Stripe is not configured. The session
// still surfaces the out-of-credits notice, just without a link.
var ErrTopUpUnavailable = errors.New("billing: top-up not configured")

// TopUp creates Stripe Checkout links for a credit pack. Fulfillment (the
// webhook that grants credits after payment) lives with the account backend,
// not here; this only hands the user somewhere to pay.
type TopUp struct {
	priceID    string
	successURL string
	cancelURL  string
}

// NewTopUp configures the Stripe client. Returns nil if secretKey or
// priceID is empty; a nil TopUp safely reports ErrTopUpUnavailable.
func NewTopUp(secretKey, priceID, successURL, cancelURL string) *TopUp {
	if secretKey == "" || priceID == "" {
		return nil
	}
	stripe.Key = secretKey
	return &TopUp{priceID: priceID, successURL: successURL, cancelURL: cancelURL}
}

// CheckoutLink creates a checkout session for one credit pack and returns
// its URL. The user ID rides along as the client reference so fulfillment
// can credit the right account.
func (t *TopUp) CheckoutLink(ctx context.Context, userID string) (string, error) {
	if t == nil {
		return "", ErrTopUpUnavailable
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(t.priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(t.successURL),
		CancelURL:         stripe.String(t.cancelURL),
		ClientReferenceID: stripe.String(userID),
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create checkout session: %w", err)
	}
	return sess.URL, nil
}
