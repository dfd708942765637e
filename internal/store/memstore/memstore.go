// Package memstore is an in-memory store.Repository. Transactions are
// serialized and applied to a private copy that replaces the shared state on
// commit, so a failing transaction leaves no trace.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"
)

var errDuplicateKey = errors.New("duplicate key value violates unique constraint")

type state struct {
	seq       int64
	products  map[string]models.Product
	carts     map[int64]models.Cart
	cartLines map[int64]map[string]models.CartLine
	addresses map[int64]models.ShippingAddress
	orders    map[string]models.Order
	lines     map[int64][]models.OrderLine
	history   map[int64][]models.StatusHistory
	intents   map[int64][]models.PaymentIntent
}

func newState() *state {
	return &state{
		products:  map[string]models.Product{},
		carts:     map[int64]models.Cart{},
		cartLines: map[int64]map[string]models.CartLine{},
		addresses: map[int64]models.ShippingAddress{},
		orders:    map[string]models.Order{},
		lines:     map[int64][]models.OrderLine{},
		history:   map[int64][]models.StatusHistory{},
		intents:   map[int64][]models.PaymentIntent{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartLines {
		m := make(map[string]models.CartLine, len(v))
		for kk, vv := range v {
			m[kk] = vv
		}
		c.cartLines[k] = m
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]models.OrderLine(nil), v...)
	}
	for k, v := range s.history {
		c.history[k] = append([]models.StatusHistory(nil), v...)
	}
	for k, v := range s.intents {
		c.intents[k] = append([]models.PaymentIntent(nil), v...)
	}
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store is a concurrency-safe in-memory repository.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
	Now  func() time.Time
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), Now: time.Now}
}

// AddProduct seeds the catalog.
func (s *Store) AddProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.Key] = p
}

// SetOrderCreatedAt backdates an order.
func (s *Store) SetOrderCreatedAt(number string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.st.orders[number]
	o.CreatedAt = at
	s.st.orders[number] = o
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.orders)
}

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&tx{st: work, now: s.Now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *Store) read() (*state, func()) {
	s.mu.RLock()
	return s.st, s.mu.RUnlock
}

func (s *Store) GetProduct(ctx context.Context, key string) (*models.Product, error) {
	st, done := s.read()
	defer done()
	p, ok := st.products[key]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", key, store.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) GetProductsByKeys(ctx context.Context, keys []string) ([]models.Product, error) {
	st, done := s.read()
	defer done()
	out := []models.Product{}
	for _, k := range keys {
		if p, ok := st.products[k]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	st, done := s.read()
	defer done()
	out := make([]models.Product, 0, len(st.products))
	for _, p := range st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	st, done := s.read()
	defer done()
	return cartLines(st, userID), nil
}

func cartLines(st *state, userID int64) []models.CartLine {
	cart, ok := st.carts[userID]
	if !ok {
		return nil
	}
	var out []models.CartLine
	for _, l := range st.cartLines[cart.ID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListAddresses(ctx context.Context, userID int64) ([]models.ShippingAddress, error) {
	st, done := s.read()
	defer done()
	var out []models.ShippingAddress
	for _, a := range st.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetAddress(ctx context.Context, userID, addressID int64) (*models.ShippingAddress, error) {
	st, done := s.read()
	defer done()
	a, ok := st.addresses[addressID]
	if !ok || a.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) GetDefaultAddress(ctx context.Context, userID int64) (*models.ShippingAddress, error) {
	st, done := s.read()
	defer done()
	for _, a := range st.addresses {
		if a.UserID == userID && a.IsDefault {
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	st, done := s.read()
	defer done()
	o, ok := st.orders[number]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", number, store.ErrNotFound)
	}
	return &o, nil
}

func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	st, done := s.read()
	defer done()
	return append([]models.OrderLine(nil), st.lines[orderID]...), nil
}

func (s *Store) GetOrderHistory(ctx context.Context, orderID int64) ([]models.StatusHistory, error) {
	st, done := s.read()
	defer done()
	return append([]models.StatusHistory(nil), st.history[orderID]...), nil
}

func (s *Store) GetLatestIntent(ctx context.Context, orderID int64) (*models.PaymentIntent, error) {
	st, done := s.read()
	defer done()
	return latestIntent(st, orderID)
}

func latestIntent(st *state, orderID int64) (*models.PaymentIntent, error) {
	intents := st.intents[orderID]
	if len(intents) == 0 {
		return nil, store.ErrNotFound
	}
	in := intents[len(intents)-1]
	return &in, nil
}

func (s *Store) ListDraftsOlderThan(ctx context.Context, cutoff time.Time) ([]models.StaleDraft, error) {
	st, done := s.read()
	defer done()
	var out []models.StaleDraft
	for _, o := range st.orders {
		if o.Status == models.OrderStatusDraft && o.CreatedAt.Before(cutoff) {
			out = append(out, models.StaleDraft{
				OrderID:     o.ID,
				OrderNumber: o.Number,
				UserID:      o.UserID,
				CreatedAt:   o.CreatedAt,
				Total:       o.Total,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
