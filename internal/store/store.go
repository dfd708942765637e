package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"sugu-checkout/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Tx is the set of operations available inside a database transaction.
type Tx interface {
	LockUser(ctx context.Context, userID int64) error
	LockOrder(ctx context.Context, number string) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	FindOpenOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderLines(ctx context.Context, lines []models.OrderLine) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
	SetExternalPaymentRef(ctx context.Context, orderID int64, ref string) error
	AppendHistory(ctx context.Context, h *models.StatusHistory) (bool, error)
	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	UpdatePaymentIntent(ctx context.Context, intentID int64, status models.PaymentOutcome, payloadHash string) error
	GetLatestIntent(ctx context.Context, orderID int64) (*models.PaymentIntent, error)
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartLine(ctx context.Context, cartID int64, productKey string) (*models.CartLine, error)
	SaveCartLine(ctx context.Context, cartID int64, productKey string, qty models.Quantity) error
	DeleteCartLine(ctx context.Context, cartID int64, productKey string) error
	ClearCart(ctx context.Context, userID int64) (int64, error)
	InsertAddress(ctx context.Context, addr *models.ShippingAddress) error
	ClearDefaultAddress(ctx context.Context, userID int64) error
	SetDefaultAddress(ctx context.Context, userID, addressID int64) error
}

// Repository is the persistence surface used by the services.
type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	GetProduct(ctx context.Context, key string) (*models.Product, error)
	GetProductsByKeys(ctx context.Context, keys []string) ([]models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
	ListAddresses(ctx context.Context, userID int64) ([]models.ShippingAddress, error)
	GetAddress(ctx context.Context, userID, addressID int64) (*models.ShippingAddress, error)
	GetDefaultAddress(ctx context.Context, userID int64) (*models.ShippingAddress, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]models.StatusHistory, error)
	GetLatestIntent(ctx context.Context, orderID int64) (*models.PaymentIntent, error)
	ListDraftsOlderThan(ctx context.Context, cutoff time.Time) ([]models.StaleDraft, error)
}

var (
	_ Repository = (*Store)(nil)
	_ Tx         = (*sqlTx)(nil)
)

// queries runs statements against either the pool or an open transaction.
type queries struct {
	q sqlx.ExtContext
}

type Store struct {
	queries
	db *sqlx.DB
}

type sqlTx struct {
	queries
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{queries: queries{q: db}, db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a transaction, committing only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{queries{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockUser takes a transaction-scoped advisory lock keyed on the user id.
func (t *sqlTx) LockUser(ctx context.Context, userID int64) error {
	if _, err := t.q.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", userID); err != nil {
		return fmt.Errorf("failed to lock user %d: %w", userID, err)
	}
	return nil
}

// RunMigrations applies embedded SQL files in lexical order, once each.
func (s *Store) RunMigrations(ctx context.Context, files fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var applied bool
		if err := s.db.GetContext(ctx, &applied,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", entry.Name()); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		sqlBytes, err := fs.ReadFile(files, entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)", entry.Name()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
