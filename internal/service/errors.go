package service

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrCartEmpty               = errors.New("cart is empty")
	ErrAddressRequired         = errors.New("shipping address required")
	ErrAddressInvalid          = errors.New("shipping address invalid")
	ErrMethodUnavailable       = errors.New("payment method unavailable")
	ErrStockRefused            = errors.New("stock refused")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrSignatureInvalid        = errors.New("callback signature invalid")
)

// AddressError lists invalid address fields with a message for each.
type AddressError struct {
	Fields map[string]string
}

func (e *AddressError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "shipping address invalid: " + strings.Join(parts, ", ")
}

func (e *AddressError) Unwrap() error {
	return ErrAddressInvalid
}
