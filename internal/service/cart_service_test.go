package service

import (
	"errors"
	"strings"
	"testing"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartAddIncrementsLine(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")
	f.addToCart(t, 1, "A", "0.5")
	f.addToCart(t, 1, "B", "2")

	snap, err := f.carts.Snapshot(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 2)
	assert.Equal(t, "1.500", snap.Lines[0].Quantity.String())
	assert.Equal(t, models.Money(1500), snap.Lines[0].LineTotal)
	assert.Equal(t, models.Money(3100), snap.Total)
	assert.Equal(t, models.ProductClassClassic, snap.Class)
}

func TestCartValidation(t *testing.T) {
	f := newFixture(t)

	err := f.carts.Add(f.ctx, 1, "A", 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	err = f.carts.Add(f.ctx, 1, "missing", models.NewQuantity(1))
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = f.carts.Add(f.ctx, 1, "OLD", models.NewQuantity(1))
	assert.ErrorIs(t, err, ErrStockRefused)

	err = f.carts.SetQuantity(f.ctx, 1, "A", models.NewQuantity(2))
	assert.ErrorIs(t, err, store.ErrNotFound, "setting a quantity needs an existing line")
}

func TestCartSetQuantityAndRemove(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")
	f.addToCart(t, 1, "B", "1")

	require.NoError(t, f.carts.SetQuantity(f.ctx, 1, "A", models.NewQuantity(3)))
	snap, err := f.carts.Snapshot(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.Money(3800), snap.Total)

	require.NoError(t, f.carts.SetQuantity(f.ctx, 1, "A", 0))
	require.NoError(t, f.carts.Remove(f.ctx, 1, "does-not-exist"))
	snap, err = f.carts.Snapshot(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "B", snap.Lines[0].ProductKey)

	require.NoError(t, f.carts.Clear(f.ctx, 1))
	snap, err = f.carts.Snapshot(f.ctx, 1)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestCartSnapshotFlagsRetiredProducts(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")
	f.repo.AddProduct(models.Product{Key: "A", Name: "Riz local", UnitPrice: 1000, Active: false})

	snap, err := f.carts.Snapshot(f.ctx, 1)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.Equal(t, []string{"A"}, snap.Unavailable)

	f.defaultAddress(t, 1)
	_, err = f.checkout.Checkout(f.ctx, CheckoutRequest{UserID: 1, Method: models.PaymentMethodCard})
	assert.ErrorIs(t, err, ErrStockRefused)
}

func TestCartsAreIsolatedPerUser(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, 1, "A", "1")
	f.addToCart(t, 2, "S", "1")

	one, err := f.carts.Snapshot(f.ctx, 1)
	require.NoError(t, err)
	two, err := f.carts.Snapshot(f.ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.ProductClassClassic, one.Class)
	assert.Equal(t, models.ProductClassSalam, two.Class)
}

func TestAddressValidation(t *testing.T) {
	tests := []struct {
		name   string
		input  AddressInput
		fields []string
	}{
		{"valid", AddressInput{FullName: "Awa", Quarter: "ACI 2000", City: "Bamako", Phone: "+223 76 12 34 56"}, nil},
		{"missing required", AddressInput{Street: "Rue 12"}, []string{"city", "full_name", "quarter"}},
		{"blank is missing", AddressInput{FullName: "  ", Quarter: "ACI", City: "Bamako"}, []string{"full_name"}},
		{"bad phone", AddressInput{FullName: "Awa", Quarter: "ACI", City: "Bamako", Phone: "76-12-34"}, []string{"phone"}},
		{"too long", AddressInput{FullName: strings.Repeat("x", 201), Quarter: "ACI", City: "Bamako"}, []string{"full_name"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var addrErr *AddressError
			require.True(t, errors.As(err, &addrErr))
			assert.ErrorIs(t, err, ErrAddressInvalid)
			got := make([]string, 0, len(addrErr.Fields))
			for k := range addrErr.Fields {
				got = append(got, k)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestSingleDefaultAddress(t *testing.T) {
	f := newFixture(t)
	f.defaultAddress(t, 1)
	second, err := f.addresses.Create(f.ctx, 1, AddressInput{FullName: "Awa", Quarter: "Kalaban", City: "Bamako", IsDefault: true})
	require.NoError(t, err)
	third, err := f.addresses.Create(f.ctx, 1, AddressInput{FullName: "Awa", Quarter: "Sogoniko", City: "Bamako"})
	require.NoError(t, err)

	countDefaults := func() int {
		list, err := f.addresses.List(f.ctx, 1)
		require.NoError(t, err)
		n := 0
		for _, a := range list {
			if a.IsDefault {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, countDefaults())

	def, err := f.repo.GetDefaultAddress(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	require.NoError(t, f.addresses.SetDefault(f.ctx, 1, third.ID))
	assert.Equal(t, 1, countDefaults())
	def, err = f.repo.GetDefaultAddress(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, third.ID, def.ID)

	err = f.addresses.SetDefault(f.ctx, 2, third.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "addresses of other users cannot be selected")
}

func TestRegistryAvailability(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []models.PaymentMethod{
		models.PaymentMethodCard,
		models.PaymentMethodMobileWallet,
		models.PaymentMethodCashOnDelivery,
	}, f.registry.Available(models.ProductClassClassic))
	assert.Equal(t, []models.PaymentMethod{
		models.PaymentMethodCard,
		models.PaymentMethodMobileWallet,
	}, f.registry.Available(models.ProductClassSalam))
	assert.Equal(t, []models.PaymentMethod{
		models.PaymentMethodCard,
		models.PaymentMethodMobileWallet,
	}, f.registry.Available(models.ProductClassMixed))

	f.wallet.ready = false
	assert.Equal(t, []models.PaymentMethod{models.PaymentMethodCard}, f.registry.Available(models.ProductClassSalam))

	_, err := f.registry.Lookup(models.PaymentMethodMobileWallet, models.ProductClassSalam)
	assert.ErrorIs(t, err, ErrMethodUnavailable)

	b, err := f.registry.Lookup(models.PaymentMethodCashOnDelivery, models.ProductClassClassic)
	require.NoError(t, err)
	assert.True(t, b.Offline())
}
