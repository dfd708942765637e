package service

import (
	"context"
	"fmt"
	"net/url"

	"sugu-checkout/config"
	"sugu-checkout/internal/cardgateway"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/wallet"
)

// WalletAPI is the subset of the wallet client used by checkout.
type WalletAPI interface {
	Ready() bool
	Initiate(ctx context.Context, req wallet.InitiationRequest) (*wallet.Initiation, error)
	Status(ctx context.Context, payToken string) (models.PaymentOutcome, error)
}

// CardGateway is the card-gateway contract used by checkout and reconciliation.
type CardGateway interface {
	Ready() bool
	CreateSession(ctx context.Context, order *models.Order, successURL, cancelURL string) (*cardgateway.Session, error)
	SessionStatus(ctx context.Context, sessionID string) (models.PaymentOutcome, error)
	VerifyWebhook(raw []byte, header string) (*cardgateway.WebhookEvent, error)
}

type walletBackend struct {
	api WalletAPI
	cfg config.WalletConfig
}

// NewWalletBackend offers the mobile wallet for every product class.
func NewWalletBackend(api WalletAPI, cfg config.WalletConfig) PaymentBackend {
	return &walletBackend{api: api, cfg: cfg}
}

func (b *walletBackend) Method() models.PaymentMethod { return models.PaymentMethodMobileWallet }
func (b *walletBackend) Ready() bool { return b.api.Ready() }
func (b *walletBackend) AvailableFor(class models.ProductClass) bool { return true }
func (b *walletBackend) Offline() bool { return false }

func (b *walletBackend) Initiate(ctx context.Context, order *models.Order) (*Initiation, error) {
	in, err := b.api.Initiate(ctx, wallet.InitiationRequest{
		Amount:      order.Total,
		Currency:    order.Currency,
		OrderNumber: order.Number,
		Reference:   "Sugu " + order.Number,
		ReturnURL:   withOrder(b.cfg.ReturnURL, order.Number),
		CancelURL:   withOrder(b.cfg.CancelURL, order.Number),
		NotifURL:    withOrder(b.cfg.NotifURL, order.Number),
		Lang:        b.cfg.Lang,
	})
	if err != nil {
		return nil, err
	}
	return &Initiation{
		ExternalRef: in.PayToken,
		RedirectURL: in.PaymentURL,
		NotifToken:  in.NotifToken,
	}, nil
}

func (b *walletBackend) Status(ctx context.Context, payToken string) (models.PaymentOutcome, error) {
	return b.api.Status(ctx, payToken)
}

type cardBackend struct {
	gw  CardGateway
	cfg config.CardConfig
}

// NewCardBackend offers hosted card checkout for every product class.
func NewCardBackend(gw CardGateway, cfg config.CardConfig) PaymentBackend {
	return &cardBackend{gw: gw, cfg: cfg}
}

func (b *cardBackend) Method() models.PaymentMethod { return models.PaymentMethodCard }
func (b *cardBackend) Ready() bool { return b.gw.Ready() }
func (b *cardBackend) AvailableFor(class models.ProductClass) bool { return true }
func (b *cardBackend) Offline() bool { return false }

func (b *cardBackend) Initiate(ctx context.Context, order *models.Order) (*Initiation, error) {
	s, err := b.gw.CreateSession(ctx, order,
		withOrder(b.cfg.SuccessURL, order.Number), withOrder(b.cfg.CancelURL, order.Number))
	if err != nil {
		return nil, err
	}
	return &Initiation{ExternalRef: s.ID, RedirectURL: s.URL}, nil
}

func (b *cardBackend) Status(ctx context.Context, sessionID string) (models.PaymentOutcome, error) {
	return b.gw.SessionStatus(ctx, sessionID)
}

type cashOnDeliveryBackend struct{}

// NewCashOnDeliveryBackend offers payment at delivery for classic products only;
// salam products are paid up front.
func NewCashOnDeliveryBackend() PaymentBackend {
	return cashOnDeliveryBackend{}
}

func (cashOnDeliveryBackend) Method() models.PaymentMethod { return models.PaymentMethodCashOnDelivery }
func (cashOnDeliveryBackend) Ready() bool { return true }
func (cashOnDeliveryBackend) AvailableFor(class models.ProductClass) bool {
	return class == models.ProductClassClassic
}
func (cashOnDeliveryBackend) Offline() bool { return true }

func (cashOnDeliveryBackend) Initiate(ctx context.Context, order *models.Order) (*Initiation, error) {
	return &Initiation{}, nil
}

func (cashOnDeliveryBackend) Status(ctx context.Context, externalRef string) (models.PaymentOutcome, error) {
	return "", fmt.Errorf("cash on delivery has no provider status")
}

// withOrder appends the order number to a callback URL.
func withOrder(raw, number string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("order", number)
	u.RawQuery = q.Encode()
	return u.String()
}
