package memstore

import (
	"context"
	"fmt"
	"time"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"
)

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) LockUser(ctx context.Context, userID int64) error { return nil }

func (t *tx) LockOrder(ctx context.Context, number string) (*models.Order, error) {
	o, ok := t.st.orders[number]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", number, store.ErrNotFound)
	}
	return &o, nil
}

func (t *tx) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	return append([]models.OrderLine(nil), t.st.lines[orderID]...), nil
}

func (t *tx) FindOpenOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	for _, o := range t.st.orders {
		if o.UserID == userID && o.IdempotencyKey == key && !o.Status.Terminal() {
			return &o, nil
		}
	}
	return nil, nil
}

func (t *tx) CreateOrder(ctx context.Context, order *models.Order) error {
	if _, ok := t.st.orders[order.Number]; ok {
		return fmt.Errorf("order number %s: %w", order.Number, errDuplicateKey)
	}
	if existing, _ := t.FindOpenOrderByIdempotencyKey(ctx, order.UserID, order.IdempotencyKey); existing != nil {
		return fmt.Errorf("idempotency key %s: %w", order.IdempotencyKey, errDuplicateKey)
	}
	order.ID = t.st.next()
	order.CreatedAt = t.now()
	order.UpdatedAt = order.CreatedAt
	t.st.orders[order.Number] = *order
	return nil
}

func (t *tx) CreateOrderLines(ctx context.Context, lines []models.OrderLine) error {
	for i := range lines {
		lines[i].ID = t.st.next()
		t.st.lines[lines[i].OrderID] = append(t.st.lines[lines[i].OrderID], lines[i])
	}
	return nil
}

func (t *tx) updateOrder(orderID int64, fn func(o *models.Order)) error {
	for k, o := range t.st.orders {
		if o.ID == orderID {
			fn(&o)
			o.UpdatedAt = t.now()
			t.st.orders[k] = o
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	return t.updateOrder(orderID, func(o *models.Order) { o.Status = status })
}

func (t *tx) SetExternalPaymentRef(ctx context.Context, orderID int64, ref string) error {
	return t.updateOrder(orderID, func(o *models.Order) { o.ExternalPaymentRef = &ref })
}

func (t *tx) AppendHistory(ctx context.Context, h *models.StatusHistory) (bool, error) {
	for _, existing := range t.st.history[h.OrderID] {
		if existing.NewStatus == h.NewStatus {
			return false, nil
		}
	}
	h.ID = t.st.next()
	h.At = t.now()
	t.st.history[h.OrderID] = append(t.st.history[h.OrderID], *h)
	return true, nil
}

func (t *tx) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	for _, existing := range t.st.intents[intent.OrderID] {
		if existing.LastStatus == models.PaymentPending {
			return fmt.Errorf("open intent for order %d: %w", intent.OrderID, errDuplicateKey)
		}
	}
	intent.ID = t.st.next()
	intent.CreatedAt = t.now()
	intent.UpdatedAt = intent.CreatedAt
	t.st.intents[intent.OrderID] = append(t.st.intents[intent.OrderID], *intent)
	return nil
}

func (t *tx) UpdatePaymentIntent(ctx context.Context, intentID int64, status models.PaymentOutcome, payloadHash string) error {
	for orderID, intents := range t.st.intents {
		for i := range intents {
			if intents[i].ID != intentID {
				continue
			}
			intents[i].LastStatus = status
			if payloadHash != "" {
				intents[i].RawPayloadHash = payloadHash
			}
			intents[i].UpdatedAt = t.now()
			t.st.intents[orderID] = intents
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) GetLatestIntent(ctx context.Context, orderID int64) (*models.PaymentIntent, error) {
	return latestIntent(t.st, orderID)
}

func (t *tx) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, ok := t.st.carts[userID]
	if !ok {
		cart = models.Cart{ID: t.st.next(), UserID: userID, CreatedAt: t.now()}
	}
	cart.UpdatedAt = t.now()
	t.st.carts[userID] = cart
	return &cart, nil
}

func (t *tx) GetCartLine(ctx context.Context, cartID int64, productKey string) (*models.CartLine, error) {
	l, ok := t.st.cartLines[cartID][productKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (t *tx) SaveCartLine(ctx context.Context, cartID int64, productKey string, qty models.Quantity) error {
	if qty < models.MinQuantity {
		return fmt.Errorf("quantity check constraint violated for %s", productKey)
	}
	lines := t.st.cartLines[cartID]
	if lines == nil {
		lines = map[string]models.CartLine{}
		t.st.cartLines[cartID] = lines
	}
	l, ok := lines[productKey]
	if !ok {
		l = models.CartLine{ID: t.st.next(), CartID: cartID, ProductKey: productKey, CreatedAt: t.now()}
	}
	l.Quantity = qty
	l.UpdatedAt = t.now()
	lines[productKey] = l
	return nil
}

func (t *tx) DeleteCartLine(ctx context.Context, cartID int64, productKey string) error {
	delete(t.st.cartLines[cartID], productKey)
	return nil
}

func (t *tx) ClearCart(ctx context.Context, userID int64) (int64, error) {
	cart, ok := t.st.carts[userID]
	if !ok {
		return 0, nil
	}
	n := int64(len(t.st.cartLines[cart.ID]))
	delete(t.st.cartLines, cart.ID)
	return n, nil
}

func (t *tx) InsertAddress(ctx context.Context, addr *models.ShippingAddress) error {
	if addr.IsDefault {
		for _, a := range t.st.addresses {
			if a.UserID == addr.UserID && a.IsDefault {
				return fmt.Errorf("second default address for user %d: %w", addr.UserID, errDuplicateKey)
			}
		}
	}
	addr.ID = t.st.next()
	addr.CreatedAt = t.now()
	t.st.addresses[addr.ID] = *addr
	return nil
}

func (t *tx) ClearDefaultAddress(ctx context.Context, userID int64) error {
	for id, a := range t.st.addresses {
		if a.UserID == userID && a.IsDefault {
			a.IsDefault = false
			t.st.addresses[id] = a
		}
	}
	return nil
}

func (t *tx) SetDefaultAddress(ctx context.Context, userID, addressID int64) error {
	a, ok := t.st.addresses[addressID]
	if !ok || a.UserID != userID {
		return store.ErrNotFound
	}
	if err := t.ClearDefaultAddress(ctx, userID); err != nil {
		return err
	}
	a.IsDefault = true
	t.st.addresses[addressID] = a
	return nil
}
