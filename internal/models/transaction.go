package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifies what kind of account activity a transaction
// records.
type TransactionType string

const (
	TxBuy        TransactionType = "buy"
	TxSell       TransactionType = "sell"
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
)

// Transaction is one row of the append-only audit log. Rows are never
// updated or deleted. Fields that do not apply to the transaction type are
// stored as zero / empty string, never NULL.
type Transaction struct {
	ID          int             `json:"id"`
	UserID      int             `json:"user_id"`
	Type        TransactionType `json:"transaction_type"`
	Amount      decimal.Decimal `json:"amount"`
	StockSymbol string          `json:"stock_symbol"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Bank        string          `json:"bank"`
	CreatedAt   time.Time       `json:"timestamp"`
}

// TransactionDetail is the tagged payload for one transaction type. Each
// variant carries exactly the fields that apply to it; Flatten maps a
// variant onto the flat audit row, filling the unused columns with zero
// values.
type TransactionDetail interface {
	flatten(userID int) Transaction
}

// Deposit records cash added to the user's funds.
type Deposit struct {
	Amount decimal.Decimal
}

func (d Deposit) flatten(userID int) Transaction {
	return Transaction{UserID: userID, Type: TxDeposit, Amount: d.Amount}
}

// Withdrawal records cash moved out of the user's funds to a bank.
type Withdrawal struct {
	Amount decimal.Decimal
	Bank   string
}

func (w Withdrawal) flatten(userID int) Transaction {
	return Transaction{UserID: userID, Type: TxWithdrawal, Amount: w.Amount, Bank: w.Bank}
}

// StockBuy records shares bought at a price.
type StockBuy struct {
	Symbol   string
	Quantity int64
	Price    decimal.Decimal
}

func (b StockBuy) flatten(userID int) Transaction {
	return Transaction{
		UserID:      userID,
		Type:        TxBuy,
		StockSymbol: b.Symbol,
		Quantity:    b.Quantity,
		Price:       b.Price,
		Amount:      b.Price.Mul(decimal.NewFromInt(b.Quantity)),
	}
}

// StockSale records shares sold at a price.
type StockSale struct {
	Symbol   string
	Quantity int64
	Price    decimal.Decimal
}

func (s StockSale) flatten(userID int) Transaction {
	return Transaction{
		UserID:      userID,
		Type:        TxSell,
		StockSymbol: s.Symbol,
		Quantity:    s.Quantity,
		Price:       s.Price,
		Amount:      s.Price.Mul(decimal.NewFromInt(s.Quantity)),
	}
}

// NewTransaction builds the flat audit row for a detail variant.
func NewTransaction(userID int, detail TransactionDetail) Transaction {
	return detail.flatten(userID)
}
