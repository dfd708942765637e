package service

import (
	"context"
	"fmt"

	"sugu-checkout/internal/models"
)

// Initiation is what a backend hands back after starting a payment.
type Initiation struct {
	ExternalRef string
	RedirectURL string
	NotifToken  string
}

// PaymentBackend is one payment method the storefront can offer.
type PaymentBackend interface {
	Method() models.PaymentMethod
	// Ready reports whether the backend is configured and enabled.
	Ready() bool
	AvailableFor(class models.ProductClass) bool
	// Offline backends need no provider round trip; their orders are
	// confirmed when created.
	Offline() bool
	Initiate(ctx context.Context, order *models.Order) (*Initiation, error)
	// Status returns the provider's authoritative outcome for externalRef.
	Status(ctx context.Context, externalRef string) (models.PaymentOutcome, error)
}

var methodOrder = []models.PaymentMethod{
	models.PaymentMethodCard,
	models.PaymentMethodMobileWallet,
	models.PaymentMethodCashOnDelivery,
}

// PaymentMethodRegistry enumerates the payment methods in a fixed order.
type PaymentMethodRegistry struct {
	backends map[models.PaymentMethod]PaymentBackend
}

// NewPaymentMethodRegistry indexes backends by method.
func NewPaymentMethodRegistry(backends ...PaymentBackend) *PaymentMethodRegistry {
	r := &PaymentMethodRegistry{backends: make(map[models.PaymentMethod]PaymentBackend, len(backends))}
	for _, b := range backends {
		r.backends[b.Method()] = b
	}
	return r
}

// Available lists the methods offered for class, in display order.
func (r *PaymentMethodRegistry) Available(class models.ProductClass) []models.PaymentMethod {
	out := []models.PaymentMethod{}
	for _, m := range methodOrder {
		b, ok := r.backends[m]
		if ok && b.Ready() && b.AvailableFor(class) {
			out = append(out, m)
		}
	}
	return out
}

// Lookup returns the backend for method if it is offered for class.
func (r *PaymentMethodRegistry) Lookup(method models.PaymentMethod, class models.ProductClass) (PaymentBackend, error) {
	for _, m := range r.Available(class) {
		if m == method {
			return r.backends[m], nil
		}
	}
	return nil, fmt.Errorf("%w: %s for %s products", ErrMethodUnavailable, method, class)
}

// Backend returns the backend for method regardless of availability.
func (r *PaymentMethodRegistry) Backend(method models.PaymentMethod) (PaymentBackend, bool) {
	b, ok := r.backends[method]
	return b, ok
}
