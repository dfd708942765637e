package service

import (
	"context"
	"testing"

	"sugu-checkout/config"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWalletAPI struct {
	got wallet.InitiationRequest
}

func (w *fakeWalletAPI) Ready() bool { return true }

func (w *fakeWalletAPI) Initiate(ctx context.Context, req wallet.InitiationRequest) (*wallet.Initiation, error) {
	w.got = req
	return &wallet.Initiation{PayToken: "pt", PaymentURL: "https://om.example/pay/pt", NotifToken: "nt"}, nil
}

func (w *fakeWalletAPI) Status(ctx context.Context, payToken string) (models.PaymentOutcome, error) {
	return models.PaymentSuccess, nil
}

func TestWalletBackendInitiate(t *testing.T) {
	api := &fakeWalletAPI{}
	b := NewWalletBackend(api, config.WalletConfig{
		ReturnURL: "https://shop.example/payment/wallet/return",
		CancelURL: "https://shop.example/payment/wallet/cancel?src=om",
		NotifURL:  "https://shop.example/payment/wallet/notify",
		Lang:      "fr",
	})

	in, err := b.Initiate(context.Background(), &models.Order{Number: "SG-240320-ABCD1234", Total: 3200, Currency: "XOF"})
	require.NoError(t, err)
	assert.Equal(t, &Initiation{ExternalRef: "pt", RedirectURL: "https://om.example/pay/pt", NotifToken: "nt"}, in)

	assert.Equal(t, models.Money(3200), api.got.Amount)
	assert.Equal(t, "SG-240320-ABCD1234", api.got.OrderNumber)
	assert.Equal(t, "https://shop.example/payment/wallet/return?order=SG-240320-ABCD1234", api.got.ReturnURL)
	assert.Equal(t, "https://shop.example/payment/wallet/cancel?order=SG-240320-ABCD1234&src=om", api.got.CancelURL)
	assert.Equal(t, "https://shop.example/payment/wallet/notify?order=SG-240320-ABCD1234", api.got.NotifURL)
	assert.Equal(t, "fr", api.got.Lang)
	assert.True(t, b.AvailableFor(models.ProductClassMixed))
	assert.False(t, b.Offline())
}

func TestCashOnDeliveryBackend(t *testing.T) {
	b := NewCashOnDeliveryBackend()
	assert.True(t, b.Ready())
	assert.True(t, b.Offline())
	assert.True(t, b.AvailableFor(models.ProductClassClassic))
	assert.False(t, b.AvailableFor(models.ProductClassSalam))
	assert.False(t, b.AvailableFor(models.ProductClassMixed))

	_, err := b.Status(context.Background(), "")
	assert.Error(t, err)
}
