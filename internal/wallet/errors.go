package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers network failures, provider 5xx and token fetch failures.
	ErrUnavailable = errors.New("wallet service unavailable")
	// ErrInitiationFailed is returned when the provider refuses a payment.
	ErrInitiationFailed = errors.New("wallet payment initiation failed")
)

// InitiationError carries the provider's refusal. Message is already redacted.
type InitiationError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *InitiationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wallet initiation refused: %s (code=%s, http=%d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("wallet initiation refused: %s (http=%d)", e.Message, e.HTTPStatus)
}

func (e *InitiationError) Unwrap() error {
	return ErrInitiationFailed
}
