package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"sugu-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 64 << 10

// walletReturn re-queries the wallet and sends the customer to the order page.
func (h *Handler) walletReturn(c *gin.Context) {
	number := c.Query("order")
	res, err := h.svc.Payments.HandleWalletReturn(c.Request.Context(), number, c.Query("pay_token"))
	h.redirectAfterReturn(c, number, res, err)
}

// walletCancel cancels a still-unpaid order and sends the customer back to the cart.
func (h *Handler) walletCancel(c *gin.Context) {
	number := c.Query("order")
	if _, err := h.svc.Payments.HandleWalletCancel(c.Request.Context(), number); err != nil {
		loggerFrom(c).Warn("Wallet cancel not applied",
			zap.String("order_number", number),
			zap.Error(err))
	}
	c.Redirect(http.StatusFound, h.cfg.Storefront.CartURL)
}

func (h *Handler) cardReturn(c *gin.Context) {
	number := c.Query("order")
	res, err := h.svc.Payments.HandleCardReturn(c.Request.Context(), number)
	h.redirectAfterReturn(c, number, res, err)
}

func (h *Handler) redirectAfterReturn(c *gin.Context, number string, res *service.CallbackResult, err error) {
	if err != nil {
		loggerFrom(c).Warn("Payment return not reconciled",
			zap.String("order_number", number),
			zap.Error(err))
	}
	if number == "" || (res != nil && res.Unknown) {
		c.Redirect(http.StatusFound, h.cfg.Storefront.CartURL)
		return
	}
	c.Redirect(http.StatusFound, h.orderURL(number))
}

func (h *Handler) orderURL(number string) string {
	return strings.ReplaceAll(h.cfg.Storefront.OrderURL, "{number}", url.PathEscape(number))
}

// walletNotify answers 200 for every recognized outcome so the provider stops retrying.
func (h *Handler) walletNotify(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Payments.HandleWalletNotification(c.Request.Context(), c.Query("order"), raw)
	h.acknowledge(c, res, err)
}

func (h *Handler) cardWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Payments.HandleCardWebhook(c.Request.Context(), raw, c.GetHeader("X-Signature"))
	h.acknowledge(c, res, err)
}

func (h *Handler) acknowledge(c *gin.Context, res *service.CallbackResult, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	body := gin.H{"received": true}
	switch {
	case res.Unknown:
		body["result"] = "unknown_order"
	case res.Changed:
		body["result"] = "applied"
		body["status"] = res.Order.Status
	case res.Order != nil:
		body["result"] = "no_change"
		body["status"] = res.Order.Status
	default:
		body["result"] = "ignored"
	}
	c.JSON(http.StatusOK, body)
}
