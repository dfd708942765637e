package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ProductClass partitions products by delivery semantics.
type ProductClass string

const (
	ProductClassClassic ProductClass = "classic"
	ProductClassSalam   ProductClass = "salam"
	ProductClassMixed   ProductClass = "mixed"
)

// PaymentMethod identifies a checkout payment method.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodMobileWallet   PaymentMethod = "mobile_wallet"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// PaymentOutcome is the authoritative status reported by a payment provider.
type PaymentOutcome string

const (
	PaymentPending PaymentOutcome = "PENDING"
	PaymentSuccess PaymentOutcome = "SUCCESS"
	PaymentFailed  PaymentOutcome = "FAILED"
	PaymentExpired PaymentOutcome = "EXPIRED"
)

// Terminal reports whether the provider will not change the outcome anymore.
func (o PaymentOutcome) Terminal() bool {
	return o == PaymentSuccess || o == PaymentFailed || o == PaymentExpired
}

// Product is a read-only catalog entry.
type Product struct {
	Key             string         `db:"product_key" json:"product_key"`
	Name            string         `db:"name" json:"name"`
	UnitPrice       Money          `db:"unit_price" json:"unit_price"`
	IsSalam         bool           `db:"is_salam" json:"is_salam"`
	Active          bool           `db:"active" json:"active"`
	ShippingMethods pq.StringArray `db:"shipping_methods" json:"shipping_methods"`
	Stock           Quantity       `db:"stock" json:"stock"`
}

// Class returns the product class of a single product.
func (p *Product) Class() ProductClass {
	if p.IsSalam {
		return ProductClassSalam
	}
	return ProductClassClassic
}

// Cart is the per-user cart header.
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine is one product in a cart.
type CartLine struct {
	ID         int64     `db:"id" json:"id"`
	CartID     int64     `db:"cart_id" json:"cart_id"`
	ProductKey string    `db:"product_key" json:"product_key"`
	Quantity   Quantity  `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ShippingAddress is a delivery address owned by a user.
type ShippingAddress struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone"`
	Quarter   string    `db:"quarter" json:"quarter"`
	Street    string    `db:"street" json:"street"`
	City      string    `db:"city" json:"city"`
	Extra     string    `db:"extra" json:"extra"`
	IsDefault bool      `db:"is_default" json:"is_default"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Snapshot copies the address fields frozen into an order.
func (a *ShippingAddress) Snapshot() AddressSnapshot {
	return AddressSnapshot{
		FullName: a.FullName,
		Phone:    a.Phone,
		Quarter:  a.Quarter,
		Street:   a.Street,
		City:     a.City,
		Extra:    a.Extra,
	}
}

// AddressSnapshot is stored as JSONB on the order.
type AddressSnapshot struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Quarter  string `json:"quarter"`
	Street   string `json:"street"`
	City     string `json:"city"`
	Extra    string `json:"extra,omitempty"`
}

// Value encodes the snapshot as JSON text; lib/pq would send raw bytes as bytea.
func (s AddressSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *AddressSnapshot) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = AddressSnapshot{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return fmt.Errorf("unsupported address snapshot type %T", src)
}

// Order is the order aggregate root. Lines, history and intents reference it by ID.
type Order struct {
	ID                 int64           `db:"id" json:"id"`
	Number             string          `db:"order_number" json:"order_number"`
	UserID             int64           `db:"user_id" json:"user_id"`
	Status             OrderStatus     `db:"status" json:"status"`
	Total              Money           `db:"total" json:"total"`
	Currency           string          `db:"currency" json:"currency"`
	PaymentMethod      PaymentMethod   `db:"payment_method" json:"payment_method"`
	ProductClass       ProductClass    `db:"product_class" json:"product_class"`
	ShippingAddress    AddressSnapshot `db:"shipping_address" json:"shipping_address"`
	ExternalPaymentRef *string         `db:"external_payment_ref" json:"external_payment_ref,omitempty"`
	IdempotencyKey     string          `db:"idempotency_key" json:"-"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderLine is a priced line frozen at checkout.
type OrderLine struct {
	ID           int64        `db:"id" json:"id"`
	OrderID      int64        `db:"order_id" json:"order_id"`
	ProductKey   string       `db:"product_key" json:"product_key"`
	UnitPrice    Money        `db:"unit_price" json:"unit_price"`
	Quantity     Quantity     `db:"quantity" json:"quantity"`
	ProductClass ProductClass `db:"product_class" json:"product_class"`
}

// Total returns unit_price × quantity rounded half-up.
func (l *OrderLine) Total() (Money, error) {
	return l.UnitPrice.MulQty(l.Quantity)
}

// LinesTotal sums line totals.
func LinesTotal(lines []OrderLine) (Money, error) {
	var total Money
	for i := range lines {
		lt, err := lines[i].Total()
		if err != nil {
			return 0, err
		}
		if total, err = total.Add(lt); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ClassOf derives the class of a set of lines: salam if all are salam,
// classic if none are, mixed otherwise. Empty sets are classic.
func ClassOf(classes []ProductClass) ProductClass {
	var salam, classic int
	for _, c := range classes {
		if c == ProductClassSalam {
			salam++
		} else {
			classic++
		}
	}
	switch {
	case salam > 0 && classic == 0:
		return ProductClassSalam
	case salam > 0:
		return ProductClassMixed
	}
	return ProductClassClassic
}

// StatusHistory is an append-only log row of an order transition.
type StatusHistory struct {
	ID        int64       `db:"id" json:"id"`
	OrderID   int64       `db:"order_id" json:"order_id"`
	OldStatus OrderStatus `db:"old_status" json:"old_status"`
	NewStatus OrderStatus `db:"new_status" json:"new_status"`
	At        time.Time   `db:"at" json:"at"`
	Source    string      `db:"source" json:"source"`
	Note      string      `db:"note" json:"note"`
}

// History sources.
const (
	SourceOrchestrator = "orchestrator"
	SourceReconciler   = "reconciler"
	SourceOperator     = "operator"
)

// PaymentIntent tracks one payment attempt at an external provider.
type PaymentIntent struct {
	ID             int64          `db:"id" json:"id"`
	OrderID        int64          `db:"order_id" json:"order_id"`
	Provider       PaymentMethod  `db:"provider" json:"provider"`
	ExternalRef    string         `db:"external_ref" json:"external_ref"`
	NotifToken     string         `db:"notif_token" json:"-"`
	RedirectURL    string         `db:"redirect_url" json:"redirect_url"`
	LastStatus     PaymentOutcome `db:"last_status" json:"last_status"`
	RawPayloadHash string         `db:"raw_payload_hash" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ErrInvalidTransition is returned for any move outside the order FSM.
var ErrInvalidTransition = errors.New("invalid order status transition")
