package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
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

// NewStoreWithDB wraps an existing connection (used by tests).
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a single transaction and commits only if fn returns
// nil. Every settlement and every balance mutation goes through here: the
// transaction is the only safety net against partial application.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all active products ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE active = true ORDER BY id")
	return products, err
}

// RefreshProductStock recomputes the denormalized stock column from the live
// available-unit count instead of trusting an incrementally maintained
// counter, and bumps sold_count by soldDelta.
func (s *Store) RefreshProductStock(ctx context.Context, q sqlx.ExtContext, productID int64, soldDelta int) (int, error) {
	available, err := s.CountAvailable(ctx, q, productID)
	if err != nil {
		return 0, fmt.Errorf("count available units: %w", err)
	}

	_, err = q.ExecContext(ctx,
		"UPDATE products SET stock = $1, sold_count = sold_count + $2, updated_at = NOW() WHERE id = $3",
		available, soldDelta, productID)
	if err != nil {
		return 0, fmt.Errorf("refresh product stock: %w", err)
	}

	return available, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, q, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetSettings retrieves all settings rows.
func (s *Store) GetSettings(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	err := s.db.SelectContext(ctx, &settings, `SELECT * FROM settings ORDER BY "key"`)
	return settings, err
}

// UpsertSetting writes one settings key and returns the stored row.
func (s *Store) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings ("key", value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT ("key") DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	return err
}
