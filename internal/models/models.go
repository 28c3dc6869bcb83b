package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Funds is a user's durable cash record. One row per user, mutated by every
// deposit, withdrawal and trade settlement. Amounts are rounded to two
// decimal places at the persistence boundary.
type Funds struct {
	ID     int             `json:"id"`
	UserID int             `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Holding is a user's durable position in one symbol. One row per
// (user, symbol): created on first buy, quantity adjusted by later trades,
// deleted when quantity reaches exactly zero. Price is the last trade price
// and serves as the reference price for P&L.
type Holding struct {
	ID       int             `json:"id"`
	UserID   int             `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}
