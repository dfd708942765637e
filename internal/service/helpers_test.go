package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/redisclient"
	"sugu-checkout/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a scriptable payment backend.
type fakeBackend struct {
	method  models.PaymentMethod
	offline bool
	classes []models.ProductClass

	mu          sync.Mutex
	ready       bool
	initErr     error
	outcome     models.PaymentOutcome
	statusErr   error
	initCalls   int
	statusCalls int
	lastOrder   string
}

func newFakeBackend(method models.PaymentMethod) *fakeBackend {
	return &fakeBackend{method: method, ready: true, outcome: models.PaymentPending}
}

func (b *fakeBackend) Method() models.PaymentMethod { return b.method }

func (b *fakeBackend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *fakeBackend) AvailableFor(class models.ProductClass) bool {
	if len(b.classes) == 0 {
		return true
	}
	for _, c := range b.classes {
		if c == class {
			return true
		}
	}
	return false
}

func (b *fakeBackend) Offline() bool { return b.offline }

func (b *fakeBackend) Initiate(ctx context.Context, order *models.Order) (*Initiation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	b.lastOrder = order.Number
	if b.initErr != nil {
		return nil, b.initErr
	}
	return &Initiation{
		ExternalRef: "ref-" + order.Number,
		RedirectURL: "https://pay.example/" + order.Number,
		NotifToken:  "notif-" + order.Number,
	}, nil
}

func (b *fakeBackend) Status(ctx context.Context, externalRef string) (models.PaymentOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if b.statusErr != nil {
		return "", b.statusErr
	}
	return b.outcome, nil
}

func (b *fakeBackend) setOutcome(o models.PaymentOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcome = o
}

// recordingNotifier keeps every emitted notification.
type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.Notification
}

func (n *recordingNotifier) Emit(ctx context.Context, e *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.EventType == eventType {
			c++
		}
	}
	return c
}

type fixture struct {
	ctx       context.Context
	repo      *memstore.Store
	mr        *miniredis.Miniredis
	redis     *redisclient.Client
	carts     *CartService
	addresses *AddressService
	inventory *InventoryClient
	wallet    *fakeBackend
	card      *fakeBackend
	registry  *PaymentMethodRegistry
	notifier  *recordingNotifier
	checkout  *CheckoutOrchestrator
	payments  *PaymentService
	orders    *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		ctx:      context.Background(),
		repo:     memstore.New(),
		mr:       mr,
		redis:    redisclient.New(rdb),
		wallet:   newFakeBackend(models.PaymentMethodMobileWallet),
		card:     newFakeBackend(models.PaymentMethodCard),
		notifier: &recordingNotifier{},
	}
	f.repo.AddProduct(models.Product{Key: "A", Name: "Riz local", UnitPrice: 1000, Active: true, Stock: models.NewQuantity(50)})
	f.repo.AddProduct(models.Product{Key: "B", Name: "Huile", UnitPrice: 800, Active: true, Stock: models.NewQuantity(50)})
	f.repo.AddProduct(models.Product{Key: "S", Name: "Mil (salam)", UnitPrice: 5000, IsSalam: true, Active: true, Stock: models.NewQuantity(100)})
	f.repo.AddProduct(models.Product{Key: "OLD", Name: "Retired", UnitPrice: 100, Active: false})

	f.carts = NewCartService(f.repo)
	f.addresses = NewAddressService(f.repo)
	f.inventory = NewInventoryClient(f.repo, f.redis)
	f.registry = NewPaymentMethodRegistry(f.card, f.wallet, NewCashOnDeliveryBackend())
	f.checkout = NewCheckoutOrchestrator(f.repo, f.carts, f.registry, f.inventory, f.notifier, "XOF")
	f.payments = NewPaymentService(f.repo, f.registry, f.inventory, nil, f.notifier)
	f.orders = NewOrderService(f.repo, f.inventory, f.notifier)

	require.NoError(t, f.inventory.SyncInventory(f.ctx))
	return f
}

func (f *fixture) addToCart(t *testing.T, userID int64, key, qty string) {
	t.Helper()
	q, err := models.ParseQuantity(qty)
	require.NoError(t, err)
	require.NoError(t, f.carts.Add(f.ctx, userID, key, q))
}

func (f *fixture) defaultAddress(t *testing.T, userID int64) {
	t.Helper()
	_, err := f.addresses.Create(f.ctx, userID, AddressInput{
		FullName:  "Awa Traoré",
		Phone:     "+223 70 00 00 00",
		Quarter:   "Hamdallaye",
		City:      "BKO",
		IsDefault: true,
	})
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, class, key string) (int64, int64) {
	t.Helper()
	available, reserved, err := f.redis.GetInventory(f.ctx, class, key)
	require.NoError(t, err)
	return available, reserved
}

func (f *fixture) walletCheckout(t *testing.T, userID int64, key string) *CheckoutResult {
	t.Helper()
	res, err := f.checkout.Checkout(f.ctx, CheckoutRequest{
		UserID:         userID,
		Method:         models.PaymentMethodMobileWallet,
		AddressChoice:  AddressDefault,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) notification(number, status string) []byte {
	return []byte(fmt.Sprintf(`{"status":%q,"notif_token":"notif-%s","txnid":"MP123","order_id":%q}`, status, number, number))
}

var errBoom = errors.New("boom")
