// Package db implements the durable account store: funds, holdings and the
// append-only transaction log, backed by PostgreSQL.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/finlearn/papertrade/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store-level conditions callers branch on.
var (
	ErrNoFunds            = errors.New("no funds record for user")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoHolding          = errors.New("no holding for user and symbol")
	ErrInsufficientShares = errors.New("insufficient holding quantity")
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// DepositFunds adds to the user's funds record, creating it on first
// deposit. The amount is rounded to two decimal places before accumulation.
// Returns the funds record id.
func (db *DB) DepositFunds(ctx context.Context, userID int, amount decimal.Decimal) (int, error) {
	var id int
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO funds (user_id, amount) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET amount = round(funds.amount + EXCLUDED.amount, 2)
		RETURNING id`,
		userID, amount.Round(2)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to deposit funds: %w", err)
	}
	return id, nil
}

// GetFundsByUserID returns the user's funds record, or ErrNoFunds when the
// user has never deposited.
func (db *DB) GetFundsByUserID(ctx context.Context, userID int) (*models.Funds, error) {
	funds := &models.Funds{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, user_id, amount FROM funds WHERE user_id = $1",
		userID).Scan(&funds.ID, &funds.UserID, &funds.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoFunds
		}
		return nil, fmt.Errorf("failed to get funds: %w", err)
	}
	return funds, nil
}

// DeductFunds subtracts from the user's funds record. It fails with
// ErrNoFunds when no record exists and ErrInsufficientFunds when the amount
// exceeds the balance; no mutation happens in either case.
func (db *DB) DeductFunds(ctx context.Context, userID int, amount decimal.Decimal) error {
	amount = amount.Round(2)

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row so concurrent deductions observe a consistent balance.
	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT amount FROM funds WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoFunds
		}
		return fmt.Errorf("failed to get funds: %w", err)
	}
	if balance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		"UPDATE funds SET amount = round(amount - $1, 2) WHERE user_id = $2",
		amount, userID)
	if err != nil {
		return fmt.Errorf("failed to deduct funds: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithdrawFunds moves cash out of the user's funds record. The operation is
// the same as DeductFunds; it exists as a separate entry point so callers
// signal intent and the audit trail distinguishes withdrawals from trade
// settlement.
func (db *DB) WithdrawFunds(ctx context.Context, userID int, amount decimal.Decimal) error {
	return db.DeductFunds(ctx, userID, amount)
}

// BuyStock upserts the user's holding for a symbol: the quantity is
// incremented when a row exists, otherwise a new row is created. The price
// recorded is the latest trade price. Returns the holding id.
func (db *DB) BuyStock(ctx context.Context, userID int, symbol string, price decimal.Decimal, quantity int64) (int, error) {
	var id int
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO holdings (user_id, symbol, price, quantity) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, symbol)
		DO UPDATE SET quantity = holdings.quantity + EXCLUDED.quantity, price = EXCLUDED.price
		RETURNING id`,
		userID, symbol, price.Round(2), quantity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to buy stock: %w", err)
	}
	return id, nil
}

// SellStock decrements the user's holding for a symbol, deleting the row
// when the quantity reaches exactly zero. It fails with ErrNoHolding when
// the user holds none of the symbol and ErrInsufficientShares when quantity
// exceeds the holding.
func (db *DB) SellStock(ctx context.Context, userID int, symbol string, quantity int64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx,
		"SELECT quantity FROM holdings WHERE user_id = $1 AND symbol = $2 FOR UPDATE",
		userID, symbol).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoHolding
		}
		return fmt.Errorf("failed to get holding: %w", err)
	}
	if quantity > existing {
		return ErrInsufficientShares
	}

	if quantity == existing {
		_, err = tx.Exec(ctx,
			"DELETE FROM holdings WHERE user_id = $1 AND symbol = $2",
			userID, symbol)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE holdings SET quantity = quantity - $1 WHERE user_id = $2 AND symbol = $3",
			quantity, userID, symbol)
	}
	if err != nil {
		return fmt.Errorf("failed to sell stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPurchasePrice returns the most recently recorded trade price for a
// symbol, for P&L against the current quote. A symbol nobody holds yields
// zero, not an error.
func (db *DB) GetPurchasePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := db.Pool.QueryRow(ctx,
		"SELECT price FROM holdings WHERE symbol = $1 ORDER BY id DESC LIMIT 1",
		symbol).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get purchase price: %w", err)
	}
	return price, nil
}

// GetStocksByUserID returns all of the user's holdings. A user with no
// holdings gets an empty slice.
func (db *DB) GetStocksByUserID(ctx context.Context, userID int) ([]models.Holding, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, symbol, price, quantity FROM holdings WHERE user_id = $1 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	holdings := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Price, &h.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holdings, nil
}

// RecordTransaction appends one row to the audit log. Fields the transaction
// type does not use are stored as zero / empty string. Rows are never
// updated or deleted.
func (db *DB) RecordTransaction(ctx context.Context, t models.Transaction) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO transactions (user_id, transaction_type, amount, stock_symbol, quantity, price, bank)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.UserID, t.Type, t.Amount.Round(2), t.StockSymbol, t.Quantity, t.Price.Round(2), t.Bank)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// GetTransactionsByUserID returns the user's transactions, most recent
// first.
func (db *DB) GetTransactionsByUserID(ctx context.Context, userID int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, transaction_type, amount, stock_symbol, quantity, price, bank, created_at
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.StockSymbol, &t.Quantity, &t.Price, &t.Bank, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
