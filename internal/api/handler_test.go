package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"sugu-checkout/config"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/redisclient"
	"sugu-checkout/internal/security"
	"sugu-checkout/internal/service"
	"sugu-checkout/internal/store/memstore"
	"sugu-checkout/internal/wallet"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUA = "Mozilla/5.0 (Android 14; Mobile)"

type stubBackend struct {
	method  models.PaymentMethod
	outcome models.PaymentOutcome
	initErr error
}

func (b *stubBackend) Method() models.PaymentMethod { return b.method }

func (b *stubBackend) Ready() bool { return true }

func (b *stubBackend) AvailableFor(models.ProductClass) bool { return true }

func (b *stubBackend) Offline() bool { return false }

func (b *stubBackend) Initiate(ctx context.Context, order *models.Order) (*service.Initiation, error) {
	if b.initErr != nil {
		return nil, b.initErr
	}
	return &service.Initiation{
		ExternalRef: "pt-" + order.Number,
		RedirectURL: "https://om.example/pay/" + order.Number,
		NotifToken:  "nt-" + order.Number,
	}, nil
}

func (b *stubBackend) Status(ctx context.Context, ref string) (models.PaymentOutcome, error) {
	return b.outcome, nil
}

type testServer struct {
	router *gin.Engine
	repo   *memstore.Store
	wallet *stubBackend
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := redisclient.New(rdb)

	repo := memstore.New()
	repo.AddProduct(models.Product{Key: "A", Name: "Riz local", UnitPrice: 1000, Active: true, Stock: models.NewQuantity(50)})
	repo.AddProduct(models.Product{Key: "B", Name: "Huile", UnitPrice: 800, Active: true, Stock: models.NewQuantity(50)})

	cfg := &config.Config{
		Server:     config.ServerConfig{OperatorToken: "op-secret"},
		Security:   config.SecurityConfig{BlacklistedIPs: []string{"203.0.113.66"}, PaymentRatePerMinute: 10, CartRatePerMinute: 100},
		Draft:      config.DraftConfig{StaleDays: 7},
		Storefront: config.StorefrontConfig{Currency: "XOF", OrderURL: "/commandes/{number}", CartURL: "/panier"},
	}

	walletBackend := &stubBackend{method: models.PaymentMethodMobileWallet, outcome: models.PaymentPending}
	registry := service.NewPaymentMethodRegistry(walletBackend, service.NewCashOnDeliveryBackend())
	notifier := service.Notifier(nopNotifier{})
	inventory := service.NewInventoryClient(repo, rc)
	require.NoError(t, inventory.SyncInventory(context.Background()))
	carts := service.NewCartService(repo)

	h := NewHandler(Services{
		Carts:     carts,
		Addresses: service.NewAddressService(repo),
		Checkout:  service.NewCheckoutOrchestrator(repo, carts, registry, inventory, notifier, "XOF"),
		Payments:  service.NewPaymentService(repo, registry, inventory, nil, notifier),
		Orders:    service.NewOrderService(repo, inventory, notifier),
		Registry:  registry,
		Drafts:    service.NewStaleDraftReporter(repo),
		Health:    map[string]Pinger{"redis": rc},
	}, security.NewFilter(rc, cfg.Security), cfg)

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, repo: repo, wallet: walletBackend}
}

type nopNotifier struct{}

func (nopNotifier) Emit(context.Context, *models.Notification) {}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", testUA)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

var user1 = map[string]string{"X-User-ID": "1"}

func (s *testServer) prepareCart(t *testing.T) {
	t.Helper()
	w := s.do(http.MethodPost, "/api/v1/cart/items", map[string]any{"product_key": "A", "quantity": "2"}, user1)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/v1/cart/items", map[string]any{"product_key": "B", "quantity": 1.5}, user1)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/v1/addresses", map[string]any{
		"full_name": "Awa Traoré", "quarter": "Hamdallaye", "city": "BKO", "is_default": true,
	}, user1)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

type checkoutResponse struct {
	Order struct {
		ID     int64  `json:"id"`
		Number string `json:"order_number"`
		Status string `json:"status"`
		Total  int64  `json:"total"`
	} `json:"order"`
	Next struct {
		Kind string `json:"kind"`
		URL  string `json:"url"`
	} `json:"next_action"`
	Replayed bool `json:"replayed"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	s.prepareCart(t)

	w := s.do(http.MethodGet, "/api/v1/checkout/methods", nil, user1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"product_class":"classic","methods":["mobile_wallet","cash_on_delivery"]}`, w.Body.String())

	headers := map[string]string{"X-User-ID": "1", "Idempotency-Key": "abc-123"}
	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{
		"payment_method": "mobile_wallet",
		"address":        map[string]any{"mode": "default"},
	}, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[checkoutResponse](t, w)
	assert.Equal(t, int64(3200), created.Order.Total)
	assert.Equal(t, "DRAFT", created.Order.Status)
	assert.Equal(t, "redirect", created.Next.Kind)
	assert.Equal(t, "https://om.example/pay/"+created.Order.Number, created.Next.URL)

	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{
		"payment_method": "mobile_wallet",
		"address":        map[string]any{"mode": "default"},
	}, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replayed := decode[checkoutResponse](t, w)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, created.Order.ID, replayed.Order.ID)
	assert.Equal(t, created.Next, replayed.Next)

	number := created.Order.Number
	s.wallet.outcome = models.PaymentSuccess
	notify := fmt.Sprintf(`{"status":"SUCCESS","notif_token":"nt-%s","txnid":"MP1"}`, number)
	w = s.do(http.MethodPost, "/payment/wallet/notify?order="+number, notify, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"received":true,"result":"applied","status":"CONFIRMED"}`, w.Body.String())

	w = s.do(http.MethodPost, "/payment/wallet/notify?order="+number, notify, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"no_change"`)

	w = s.do(http.MethodGet, "/payment/wallet/return?order="+number+"&pay_token=pt-"+number, nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/commandes/"+number, w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/api/v1/orders/"+number, nil, user1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"CONFIRMED"`)

	w = s.do(http.MethodGet, "/api/v1/orders/"+number, nil, map[string]string{"X-User-ID": "2"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/cart", nil, user1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lines":[]`)
}

func TestCheckoutErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"payment_method": "mobile_wallet"}, user1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cart_empty")

	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{}, user1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")

	w = s.do(http.MethodPost, "/api/v1/cart/items", map[string]any{"product_key": "A", "quantity": "1"}, user1)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{
		"payment_method": "mobile_wallet",
		"address":        map[string]any{"mode": "new", "new": map[string]any{"full_name": "Awa"}},
	}, user1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "address_invalid", body["error"])
	assert.Contains(t, body["fields"], "city")

	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{
		"payment_method": "card",
		"address":        map[string]any{"mode": "new", "new": map[string]any{"full_name": "Awa", "quarter": "ACI", "city": "Bamako"}},
	}, user1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "method_unavailable")

	w = s.do(http.MethodPost, "/api/v1/addresses", map[string]any{
		"full_name": "Awa Traoré", "quarter": "Hamdallaye", "city": "BKO", "is_default": true,
	}, user1)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	s.wallet.initErr = fmt.Errorf("token: %w", wallet.ErrUnavailable)
	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{
		"payment_method": "mobile_wallet",
		"address":        map[string]any{"mode": "default"},
	}, user1)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "service momentanément indisponible")

	s.wallet.initErr = &wallet.InitiationError{HTTPStatus: 200, Code: "60019", Message: "refused"}
	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{
		"payment_method": "mobile_wallet",
		"address":        map[string]any{"mode": "default"},
	}, user1)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCheckoutRateLimited(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 10; i++ {
		w := s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"payment_method": "mobile_wallet"}, user1)
		require.Equal(t, http.StatusBadRequest, w.Code, "request %d reaches checkout", i+1)
	}
	w := s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"payment_method": "mobile_wallet"}, user1)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, s.repo.OrderCount())
}

func TestWalletCallbacks(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/payment/wallet/notify", `{"status":"SUCCESS","notif_token":"x","order_id":"SG-NOPE"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_order")

	w = s.do(http.MethodPost, "/payment/wallet/notify", `{broken`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	blocked := map[string]string{"X-Forwarded-For": "203.0.113.66"}
	w = s.do(http.MethodPost, "/payment/wallet/notify", `{"status":"SUCCESS","notif_token":"x","order_id":"SG-NOPE"}`, blocked)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPost, "/payment/card/webhook", `{}`, blocked)
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.prepareCart(t)
	w = s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"payment_method": "mobile_wallet"}, user1)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	number := decode[checkoutResponse](t, w).Order.Number

	w = s.do(http.MethodPost, "/payment/wallet/notify?order="+number, `{"status":"SUCCESS","notif_token":"forged"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "signature_invalid")

	w = s.do(http.MethodGet, "/payment/wallet/cancel?order="+number, nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/panier", w.Header().Get("Location"))

	order, err := s.repo.GetOrderByNumber(context.Background(), number)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	s.wallet.outcome = models.PaymentSuccess
	w = s.do(http.MethodPost, "/payment/wallet/notify?order="+number, fmt.Sprintf(`{"status":"SUCCESS","notif_token":"nt-%s"}`, number), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "late success after cancel")
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	s.prepareCart(t)
	w := s.do(http.MethodPost, "/api/v1/checkout", map[string]any{"payment_method": "cash_on_delivery"}, user1)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[checkoutResponse](t, w)
	assert.Equal(t, "CONFIRMED", res.Order.Status)
	assert.Equal(t, "done", res.Next.Kind)

	path := "/admin/orders/" + res.Order.Number + "/ship"
	w = s.do(http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPost, path, nil, map[string]string{"X-Operator-Token": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	op := map[string]string{"X-Operator-Token": "op-secret"}
	w = s.do(http.MethodPost, path, map[string]any{"note": "tracking 42"}, op)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"SHIPPED"`)

	w = s.do(http.MethodPost, path, nil, op)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/admin/drafts/stale", nil, op)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"days":7,"count":0,"drafts":[]}`, w.Body.String())

	w = s.do(http.MethodGet, "/admin/drafts/stale?days=x", nil, op)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRespondErrorUnexpected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "internal_error", body["error"])
	assert.NotEmpty(t, body["error_id"])
	assert.NotContains(t, w.Body.String(), "connection reset")
}
