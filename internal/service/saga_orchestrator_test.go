package service

import (
	"testing"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutWalletRedirect(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "2")
	f.addToCart(t, 1, "B", "1.5")
	f.defaultAddress(t, 1)

	res := f.walletCheckout(t, 1, "k1")

	assert.Equal(t, models.OrderStatusDraft, res.Order.Status)
	assert.Equal(t, models.Money(3200), res.Order.Total)
	assert.Equal(t, "XOF", res.Order.Currency)
	assert.Equal(t, models.ProductClassClassic, res.Order.ProductClass)
	assert.Equal(t, "BKO", res.Order.ShippingAddress.City)
	assert.Equal(t, NextActionRedirect, res.Next.Kind)
	assert.Equal(t, "https://pay.example/"+res.Order.Number, res.Next.URL)
	require.Len(t, res.Lines, 2)

	total, err := models.LinesTotal(res.Lines)
	require.NoError(t, err)
	assert.Equal(t, res.Order.Total, total)

	intent, err := f.repo.GetLatestIntent(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, intent.LastStatus)
	assert.Equal(t, "ref-"+res.Order.Number, intent.ExternalRef)

	stored, err := f.repo.GetOrderByNumber(f.ctx, res.Order.Number)
	require.NoError(t, err)
	require.NotNil(t, stored.ExternalPaymentRef)
	assert.Equal(t, intent.ExternalRef, *stored.ExternalPaymentRef)

	available, reserved := f.stock(t, "classic", "A")
	assert.Equal(t, int64(48000), available)
	assert.Equal(t, int64(2000), reserved)

	lines, err := f.repo.GetCartLines(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, lines, 2, "cart is kept until payment succeeds")

	assert.Equal(t, 1, f.notifier.count(models.EventTypeOrderCreated))
	assert.Equal(t, 1, f.notifier.count(models.EventTypePaymentInitiated))
}

func TestCheckoutIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")
	f.defaultAddress(t, 1)

	first := f.walletCheckout(t, 1, "same-key")
	for i := 0; i < 3; i++ {
		again := f.walletCheckout(t, 1, "same-key")
		assert.True(t, again.Replayed)
		assert.Equal(t, first.Order.ID, again.Order.ID)
		assert.Equal(t, first.Next, again.Next)
	}

	assert.Equal(t, 1, f.repo.OrderCount())
	assert.Equal(t, 1, f.wallet.initCalls)

	other := f.walletCheckout(t, 1, "other-key")
	assert.NotEqual(t, first.Order.ID, other.Order.ID)
}

func TestCheckoutCashOnDelivery(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "2")
	f.defaultAddress(t, 1)

	res, err := f.checkout.Checkout(f.ctx, CheckoutRequest{
		UserID: 1,
		Method: models.PaymentMethodCashOnDelivery,
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, NextActionDone, res.Next.Kind)

	lines, err := f.repo.GetCartLines(f.ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, lines)

	history, err := f.repo.GetOrderHistory(f.ctx, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.OrderStatusDraft, history[0].NewStatus)
	assert.Equal(t, models.OrderStatusConfirmed, history[1].NewStatus)

	available, reserved := f.stock(t, "classic", "A")
	assert.Equal(t, int64(48000), available)
	assert.Equal(t, int64(0), reserved)

	assert.Equal(t, 1, f.notifier.count(models.EventTypeOrderConfirmed))
	assert.Equal(t, 0, f.wallet.initCalls)

	replay, err := f.checkout.Checkout(f.ctx, CheckoutRequest{
		UserID:         1,
		Method:         models.PaymentMethodCashOnDelivery,
		IdempotencyKey: res.Order.IdempotencyKey,
	})
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, replay.Order.ID)
	assert.Equal(t, NextActionDone, replay.Next.Kind)
}

func TestCheckoutInitiationFailureCancelsOrder(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "2")
	f.defaultAddress(t, 1)
	f.wallet.initErr = &wallet.InitiationError{HTTPStatus: 200, Code: "60019", Message: "refused"}

	_, err := f.checkout.Checkout(f.ctx, CheckoutRequest{UserID: 1, Method: models.PaymentMethodMobileWallet})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentInitiationFailed)
	assert.ErrorIs(t, err, wallet.ErrInitiationFailed)

	order, err := f.repo.GetOrderByNumber(f.ctx, f.wallet.lastOrder)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	history, err := f.repo.GetOrderHistory(f.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.OrderStatusCancelled, history[1].NewStatus)
	assert.Contains(t, history[1].Note, "60019")

	lines, err := f.repo.GetCartLines(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, lines, 1, "cart preserved")

	available, reserved := f.stock(t, "classic", "A")
	assert.Equal(t, int64(50000), available)
	assert.Equal(t, int64(0), reserved)
	assert.Equal(t, 1, f.notifier.count(models.EventTypeOrderCancelled))
}

func TestCheckoutWalletUnavailable(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")
	f.defaultAddress(t, 1)
	f.wallet.initErr = wallet.ErrUnavailable

	_, err := f.checkout.Checkout(f.ctx, CheckoutRequest{UserID: 1, Method: models.PaymentMethodMobileWallet})
	assert.ErrorIs(t, err, wallet.ErrUnavailable)

	order, err := f.repo.GetOrderByNumber(f.ctx, f.wallet.lastOrder)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestCheckoutMethodGating(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "S", "1")
	f.defaultAddress(t, 1)

	_, err := f.checkout.Checkout(f.ctx, CheckoutRequest{UserID: 1, Method: models.PaymentMethodCashOnDelivery})
	assert.ErrorIs(t, err, ErrMethodUnavailable)
	assert.Equal(t, 0, f.repo.OrderCount())

	available, reserved := f.stock(t, "salam", "S")
	assert.Equal(t, int64(100000), available)
	assert.Equal(t, int64(0), reserved)
}

func TestCheckoutMixedCart(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")
	f.addToCart(t, 1, "S", "1")
	f.defaultAddress(t, 1)

	_, err := f.checkout.Checkout(f.ctx, CheckoutRequest{UserID: 1, Method: models.PaymentMethodCashOnDelivery})
	assert.ErrorIs(t, err, ErrMethodUnavailable)

	res := f.walletCheckout(t, 1, "")
	assert.Equal(t, models.ProductClassMixed, res.Order.ProductClass)

	_, reserved := f.stock(t, "salam", "S")
	assert.Equal(t, int64(1000), reserved)
}

func TestCheckoutRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		req     CheckoutRequest
		wantErr error
	}{
		{
			name:    "empty cart",
			setup:   func(t *testing.T, f *fixture) { f.defaultAddress(t, 1) },
			req:     CheckoutRequest{UserID: 1, Method: models.PaymentMethodCard},
			wantErr: ErrCartEmpty,
		},
		{
			name:    "no default address",
			setup:   func(t *testing.T, f *fixture) { f.addToCart(t, 1, "A", "1") },
			req:     CheckoutRequest{UserID: 1, Method: models.PaymentMethodCard},
			wantErr: ErrAddressRequired,
		},
		{
			name:  "invalid new address",
			setup: func(t *testing.T, f *fixture) { f.addToCart(t, 1, "A", "1") },
			req: CheckoutRequest{
				UserID:        1,
				Method:        models.PaymentMethodCard,
				AddressChoice: AddressNew,
				NewAddress:    &AddressInput{FullName: "Awa"},
			},
			wantErr: ErrAddressInvalid,
		},
		{
			name: "unknown method",
			setup: func(t *testing.T, f *fixture) {
				f.addToCart(t, 1, "A", "1")
				f.defaultAddress(t, 1)
			},
			req:     CheckoutRequest{UserID: 1, Method: "bitcoin"},
			wantErr: ErrMethodUnavailable,
		},
		{
			name: "backend not ready",
			setup: func(t *testing.T, f *fixture) {
				f.addToCart(t, 1, "A", "1")
				f.defaultAddress(t, 1)
				f.card.ready = false
			},
			req:     CheckoutRequest{UserID: 1, Method: models.PaymentMethodCard},
			wantErr: ErrMethodUnavailable,
		},
		{
			name: "insufficient stock",
			setup: func(t *testing.T, f *fixture) {
				f.addToCart(t, 1, "B", "1")
				f.addToCart(t, 1, "A", "60")
				f.defaultAddress(t, 1)
			},
			req:     CheckoutRequest{UserID: 1, Method: models.PaymentMethodCard},
			wantErr: ErrStockRefused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)

			_, err := f.checkout.Checkout(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.repo.OrderCount())

			_, reserved := f.stock(t, "classic", "B")
			assert.Equal(t, int64(0), reserved, "no reservation survives a rejection")
		})
	}
}

func TestCheckoutNewAddressSaved(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")

	res, err := f.checkout.Checkout(f.ctx, CheckoutRequest{
		UserID:        1,
		Method:        models.PaymentMethodCard,
		AddressChoice: AddressNew,
		NewAddress:    &AddressInput{FullName: " Moussa Keita ", Quarter: "Badalabougou", City: "Bamako", IsDefault: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Moussa Keita", res.Order.ShippingAddress.FullName)

	def, err := f.repo.GetDefaultAddress(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Badalabougou", def.Quarter)
}
