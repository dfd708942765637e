package api

import (
	"errors"
	"net/http"

	"sugu-checkout/internal/cardgateway"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/security"
	"sugu-checkout/internal/service"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const unavailableMessage = "service momentanément indisponible"

type errorKind struct {
	target error
	status int
	code   string
}

// errorKinds is matched in order; the first hit wins.
var errorKinds = []errorKind{
	{service.ErrCartEmpty, http.StatusBadRequest, "cart_empty"},
	{service.ErrAddressRequired, http.StatusBadRequest, "address_required"},
	{service.ErrAddressInvalid, http.StatusBadRequest, "address_invalid"},
	{service.ErrMethodUnavailable, http.StatusBadRequest, "method_unavailable"},
	{service.ErrStockRefused, http.StatusBadRequest, "stock_refused"},
	{models.ErrValidation, http.StatusBadRequest, "validation_error"},
	{service.ErrSignatureInvalid, http.StatusBadRequest, "signature_invalid"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{security.ErrRateLimited, http.StatusForbidden, "rate_limited"},
	{wallet.ErrUnavailable, http.StatusServiceUnavailable, "wallet_unavailable"},
	{cardgateway.ErrUnavailable, http.StatusServiceUnavailable, "card_gateway_unavailable"},
	{service.ErrPaymentInitiationFailed, http.StatusBadGateway, "payment_initiation_failed"},
}

// respondError maps a service error to its HTTP response. Unexpected errors
// get an opaque id that is logged with the cause.
func respondError(c *gin.Context, err error) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.target) {
			continue
		}
		body := gin.H{"error": k.code}
		switch {
		case k.status == http.StatusServiceUnavailable:
			body["message"] = unavailableMessage
		case k.target == service.ErrPaymentInitiationFailed:
			body["message"] = "le paiement n'a pas pu être initié, votre commande a été annulée"
		default:
			body["details"] = err.Error()
		}
		var addrErr *service.AddressError
		if errors.As(err, &addrErr) {
			body["fields"] = addrErr.Fields
		}
		c.AbortWithStatusJSON(k.status, body)
		return
	}

	errorID := uuid.New().String()
	loggerFrom(c).Error("Unexpected error",
		zap.String("error_id", errorID),
		zap.String("path", c.FullPath()),
		zap.Error(err),
		zap.Stack("stack"))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":    "internal_error",
		"error_id": errorID,
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"details": err.Error(),
	})
}
