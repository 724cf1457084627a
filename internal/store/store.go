package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pizzeria-service/internal/models"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPizzaNotFound    = errors.New("pizza not found")

	// ErrInsufficientBalance means a guarded balance decrement would have taken
	// the customer below zero. The statement does not apply in that case.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientPoints is the loyalty counterpart of ErrInsufficientBalance.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")

	// ErrStatusConflict means a conditional status update matched no row
	// because the order moved to a different status concurrently.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

type Store struct {
	db *sqlx.DB
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

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetCustomer retrieves a customer by ID
func (s *Store) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, "SELECT * FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrCustomerNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateCustomer creates a new customer
func (s *Store) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (first_name, last_name, address, phone, balance, loyalty_points)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, customer, query,
		customer.FirstName, customer.LastName, customer.Address, customer.Phone,
		customer.Balance, customer.LoyaltyPoints)
}

// AdjustBalance atomically adds delta to a customer's balance. The non-negative
// guard lives in the statement itself, so there is no read-modify-write window
// and no need to re-read afterwards.
func (s *Store) AdjustBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error {
	return adjustBalance(ctx, s.db, customerID, delta)
}

// AdjustLoyalty atomically adds delta to a customer's loyalty point counter.
func (s *Store) AdjustLoyalty(ctx context.Context, customerID int64, delta int64) error {
	return adjustLoyalty(ctx, s.db, customerID, delta)
}

func adjustBalance(ctx context.Context, ext sqlx.ExtContext, customerID int64, delta decimal.Decimal) error {
	res, err := ext.ExecContext(ctx,
		"UPDATE customers SET balance = balance + $1 WHERE id = $2 AND balance + $1 >= 0",
		delta, customerID)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return guardFailure(ctx, ext, customerID, ErrInsufficientBalance)
	}
	return nil
}

func adjustLoyalty(ctx context.Context, ext sqlx.ExtContext, customerID int64, delta int64) error {
	res, err := ext.ExecContext(ctx,
		"UPDATE customers SET loyalty_points = loyalty_points + $1 WHERE id = $2 AND loyalty_points + $1 >= 0",
		delta, customerID)
	if err != nil {
		return fmt.Errorf("failed to adjust loyalty points: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return guardFailure(ctx, ext, customerID, ErrInsufficientPoints)
	}
	return nil
}

// guardFailure tells a missing customer apart from a guard rejection.
func guardFailure(ctx context.Context, ext sqlx.ExtContext, customerID int64, insufficient error) error {
	var exists bool
	err := sqlx.GetContext(ctx, ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)", customerID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrCustomerNotFound, customerID)
	}
	return insufficient
}

// GetPizzaByID retrieves a catalog pizza by ID
func (s *Store) GetPizzaByID(ctx context.Context, id int64) (*models.Pizza, error) {
	var pizza models.Pizza
	err := s.db.GetContext(ctx, &pizza, "SELECT * FROM pizzas WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrPizzaNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &pizza, nil
}

// GetPizzas retrieves the whole catalog
func (s *Store) GetPizzas(ctx context.Context) ([]models.Pizza, error) {
	var pizzas []models.Pizza
	err := s.db.SelectContext(ctx, &pizzas, "SELECT * FROM pizzas ORDER BY id")
	return pizzas, err
}

// GetPizzasByIDs retrieves multiple catalog pizzas by IDs
func (s *Store) GetPizzasByIDs(ctx context.Context, ids []int64) ([]models.Pizza, error) {
	if len(ids) == 0 {
		return []models.Pizza{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM pizzas WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var pizzas []models.Pizza
	err = s.db.SelectContext(ctx, &pizzas, query, args...)
	return pizzas, err
}
