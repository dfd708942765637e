package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/security"
	"sugu-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services groups what the HTTP layer calls into.
type Services struct {
	Carts     *service.CartService
	Addresses *service.AddressService
	Checkout  *service.CheckoutOrchestrator
	Payments  *service.PaymentService
	Orders    *service.OrderService
	Registry  *service.PaymentMethodRegistry
	Drafts    *service.StaleDraftReporter
	// Health is checked by /ready, keyed by dependency name.
	Health map[string]Pinger
}

// Pinger is a dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	filter *security.Filter
	cfg    *config.Config
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, filter *security.Filter, cfg *config.Config) *Handler {
	return &Handler{
		svc:    svc,
		filter: filter,
		cfg:    cfg,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	payment := h.filter.Require(security.BucketPayment)
	cart := h.filter.Require(security.BucketCart)
	callback := h.filter.Require(security.BucketCallback)

	v1 := router.Group("/api/v1", userMiddleware())
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", cart, h.addCartItem)
		v1.PUT("/cart/items/:key", cart, h.setCartItem)
		v1.DELETE("/cart/items/:key", cart, h.removeCartItem)
		v1.DELETE("/cart", cart, h.clearCart)

		v1.GET("/addresses", h.listAddresses)
		v1.POST("/addresses", h.createAddress)
		v1.PUT("/addresses/:id/default", h.setDefaultAddress)

		v1.GET("/checkout/methods", h.paymentMethods)
		v1.POST("/checkout", payment, h.checkout)
		v1.GET("/orders/:number", h.getOrder)
	}

	pay := router.Group("/payment")
	{
		pay.GET("/wallet/return", payment, h.walletReturn)
		pay.GET("/wallet/cancel", payment, h.walletCancel)
		pay.POST("/wallet/notify", callback, h.walletNotify)
		pay.GET("/card/return", payment, h.cardReturn)
		pay.POST("/card/webhook", callback, h.cardWebhook)
	}

	admin := router.Group("/admin", operatorMiddleware(h.cfg.Server.OperatorToken))
	{
		admin.POST("/orders/:number/ship", h.shipOrder)
		admin.POST("/orders/:number/deliver", h.deliverOrder)
		admin.POST("/orders/:number/cancel", h.cancelOrder)
		admin.GET("/drafts/stale", h.staleDrafts)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.svc.Health {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type cartItemRequest struct {
	ProductKey string          `json:"product_key" binding:"required"`
	Quantity   models.Quantity `json:"quantity"`
}

func (h *Handler) getCart(c *gin.Context) {
	snap, err := h.svc.Carts.Snapshot(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Carts.Add(c.Request.Context(), userID(c), req.ProductKey, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	h.getCart(c)
}

func (h *Handler) setCartItem(c *gin.Context) {
	var req struct {
		Quantity models.Quantity `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Carts.SetQuantity(c.Request.Context(), userID(c), c.Param("key"), req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	h.getCart(c)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	if err := h.svc.Carts.Remove(c.Request.Context(), userID(c), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	h.getCart(c)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.svc.Carts.Clear(c.Request.Context(), userID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listAddresses(c *gin.Context) {
	list, err := h.svc.Addresses.List(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": list})
}

func (h *Handler) createAddress(c *gin.Context) {
	var in service.AddressInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	addr, err := h.svc.Addresses.Create(c.Request.Context(), userID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, addr)
}

func (h *Handler) setDefaultAddress(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid address ID",
		})
		return
	}
	if err := h.svc.Addresses.SetDefault(c.Request.Context(), userID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) paymentMethods(c *gin.Context) {
	snap, err := h.svc.Carts.Snapshot(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_class": snap.Class,
		"methods":       h.svc.Registry.Available(snap.Class),
	})
}

type checkoutRequest struct {
	PaymentMethod models.PaymentMethod `json:"payment_method" binding:"required"`
	Address       struct {
		Mode service.AddressChoice `json:"mode"`
		New  *service.AddressInput `json:"new"`
	} `json:"address"`
	IdempotencyKey string `json:"idempotency_key"`
}

// checkout handles order creation
func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.svc.Checkout.Checkout(c.Request.Context(), service.CheckoutRequest{
		UserID:         userID(c),
		Method:         req.PaymentMethod,
		AddressChoice:  req.Address.Mode,
		NewAddress:     req.Address.New,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// getOrder handles get order by number
func (h *Handler) getOrder(c *gin.Context) {
	view, err := h.svc.Orders.GetOrder(c.Request.Context(), userID(c), c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type operatorRequest struct {
	Note string `json:"note"`
}

func (h *Handler) shipOrder(c *gin.Context) {
	h.operatorAction(c, h.svc.Orders.Ship)
}

func (h *Handler) deliverOrder(c *gin.Context) {
	h.operatorAction(c, h.svc.Orders.Deliver)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	h.operatorAction(c, h.svc.Orders.Cancel)
}

func (h *Handler) operatorAction(c *gin.Context, action func(ctx context.Context, number, note string) (*models.Order, error)) {
	var req operatorRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	order, err := action(c.Request.Context(), c.Param("number"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) staleDrafts(c *gin.Context) {
	days := h.cfg.Draft.StaleDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, errors.New("days must be an integer"))
			return
		}
		days = n
	}
	drafts, err := h.svc.Drafts.Report(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days":   days,
		"count":  len(drafts),
		"drafts": drafts,
	})
}
