package service

import (
	"context"
	"strings"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"
)

// AddressInput is a shipping address submitted by the user.
type AddressInput struct {
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	Quarter   string `json:"quarter"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Extra     string `json:"extra"`
	IsDefault bool   `json:"is_default"`
}

const maxAddressField = 200

// Validate trims the input and reports every invalid field.
func (in *AddressInput) Validate() error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Quarter = strings.TrimSpace(in.Quarter)
	in.Street = strings.TrimSpace(in.Street)
	in.City = strings.TrimSpace(in.City)
	in.Extra = strings.TrimSpace(in.Extra)

	fields := map[string]string{}
	for name, v := range map[string]string{"full_name": in.FullName, "quarter": in.Quarter, "city": in.City} {
		if v == "" {
			fields[name] = "required"
		}
	}
	for name, v := range map[string]string{
		"full_name": in.FullName, "phone": in.Phone, "quarter": in.Quarter,
		"street": in.Street, "city": in.City, "extra": in.Extra,
	} {
		if len(v) > maxAddressField {
			fields[name] = "too long"
		}
	}
	if in.Phone != "" && strings.Trim(in.Phone, "+0123456789 ") != "" {
		fields["phone"] = "digits only"
	}
	if len(fields) > 0 {
		return &AddressError{Fields: fields}
	}
	return nil
}

func (in *AddressInput) toModel(userID int64) *models.ShippingAddress {
	return &models.ShippingAddress{
		UserID:    userID,
		FullName:  in.FullName,
		Phone:     in.Phone,
		Quarter:   in.Quarter,
		Street:    in.Street,
		City:      in.City,
		Extra:     in.Extra,
		IsDefault: in.IsDefault,
	}
}

// insertAddress stores addr, clearing sibling defaults first when needed.
func insertAddress(ctx context.Context, tx store.Tx, addr *models.ShippingAddress) error {
	if addr.IsDefault {
		if err := tx.ClearDefaultAddress(ctx, addr.UserID); err != nil {
			return err
		}
	}
	return tx.InsertAddress(ctx, addr)
}

// AddressService manages the user's address book.
type AddressService struct {
	repo store.Repository
}

func NewAddressService(repo store.Repository) *AddressService {
	return &AddressService{repo: repo}
}

func (s *AddressService) List(ctx context.Context, userID int64) ([]models.ShippingAddress, error) {
	return s.repo.ListAddresses(ctx, userID)
}

// Create validates and stores a new address.
func (s *AddressService) Create(ctx context.Context, userID int64, in AddressInput) (*models.ShippingAddress, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	addr := in.toModel(userID)
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		return insertAddress(ctx, tx, addr)
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// SetDefault marks one of the user's addresses as default.
func (s *AddressService) SetDefault(ctx context.Context, userID, addressID int64) error {
	return s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		return tx.SetDefaultAddress(ctx, userID, addressID)
	})
}
