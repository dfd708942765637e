package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of checkout attempts by payment method and outcome",
	}, []string{"method", "outcome"})

	OrdersConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_confirmed_total",
		Help: "Total number of orders confirmed",
	}, []string{"method"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"reason"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	WalletRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_requests_total",
		Help: "Total wallet API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	WalletRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_request_duration_seconds",
		Help:    "Latency of wallet API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status"})

	WalletTokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_token_refreshes_total",
		Help: "Total wallet access token fetches by outcome",
	}, []string{"outcome"})

	CardGatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "card_gateway_requests_total",
		Help: "Total card gateway requests by endpoint and status",
	}, []string{"endpoint", "status"})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total payment callbacks by provider, entry point and result",
	}, []string{"provider", "source", "result"})

	SecurityRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_rejections_total",
		Help: "Total requests rejected by the security filter",
	}, []string{"bucket", "reason"})

	StaleDraftsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stale_draft_orders",
		Help: "Number of DRAFT orders older than the configured threshold at last sweep",
	})

	LoginFailureAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "login_failure_alerts_total",
		Help: "Total login failure alerts raised",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total notifications emitted by event type",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
