package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/finlearn/papertrade/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var testDB *DB

func TestMain(m *testing.M) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		// No database available; individual tests skip themselves.
		os.Exit(m.Run())
	}

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Apply migration if not already applied
	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read migration: %v\n", err)
		os.Exit(1)
	}
	_, err = pool.Exec(context.Background(), string(migration))
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}

	testDB = &DB{Pool: pool}
	// Truncate tables before running tests
	_, err = pool.Exec(context.Background(), "TRUNCATE TABLE users, funds, holdings, transactions RESTART IDENTITY CASCADE")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to truncate tables: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
}

func createTestUser(t *testing.T, username string) int {
	t.Helper()
	user, err := testDB.CreateUser(context.Background(), username, "hash")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user.ID
}

func TestDB_DepositFundsRoundsAndAccumulates(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	uid := createTestUser(t, "deposit_user")

	// 100.005 rounds to 100.01 at write time.
	if _, err := testDB.DepositFunds(ctx, uid, decimal.RequireFromString("100.005")); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	funds, err := testDB.GetFundsByUserID(ctx, uid)
	if err != nil {
		t.Fatalf("get funds failed: %v", err)
	}
	if want := decimal.RequireFromString("100.01"); !funds.Amount.Equal(want) {
		t.Errorf("balance = %s, want %s", funds.Amount, want)
	}

	// Second deposit accumulates on the same record.
	id1, _ := testDB.DepositFunds(ctx, uid, decimal.NewFromInt(50))
	funds, _ = testDB.GetFundsByUserID(ctx, uid)
	if want := decimal.RequireFromString("150.01"); !funds.Amount.Equal(want) {
		t.Errorf("balance = %s, want %s", funds.Amount, want)
	}
	if id1 != funds.ID {
		t.Errorf("deposit returned id %d, record id %d", id1, funds.ID)
	}
}

func TestDB_DeductFunds(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	uid := createTestUser(t, "deduct_user")

	if err := testDB.DeductFunds(ctx, uid, decimal.NewFromInt(10)); !errors.Is(err, ErrNoFunds) {
		t.Errorf("expected ErrNoFunds, got %v", err)
	}

	testDB.DepositFunds(ctx, uid, decimal.NewFromInt(100))

	if err := testDB.DeductFunds(ctx, uid, decimal.NewFromInt(150)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	// Rejected deduction left the balance alone.
	funds, _ := testDB.GetFundsByUserID(ctx, uid)
	if !funds.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance changed by rejected deduction: %s", funds.Amount)
	}

	if err := testDB.DeductFunds(ctx, uid, decimal.RequireFromString("40.50")); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	funds, _ = testDB.GetFundsByUserID(ctx, uid)
	if want := decimal.RequireFromString("59.50"); !funds.Amount.Equal(want) {
		t.Errorf("balance = %s, want %s", funds.Amount, want)
	}

	// WithdrawFunds shares the same semantics.
	if err := testDB.WithdrawFunds(ctx, uid, decimal.NewFromInt(1000)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds from withdraw, got %v", err)
	}
}

func TestDB_BuyStockUpserts(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	uid := createTestUser(t, "buy_user")

	if _, err := testDB.BuyStock(ctx, uid, "AAPL", decimal.NewFromInt(170), 5); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	if _, err := testDB.BuyStock(ctx, uid, "AAPL", decimal.NewFromInt(180), 3); err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	holdings, err := testDB.GetStocksByUserID(ctx, uid)
	if err != nil {
		t.Fatalf("get holdings failed: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("expected one holding row, got %d", len(holdings))
	}
	if holdings[0].Quantity != 8 {
		t.Errorf("quantity = %d, want 8", holdings[0].Quantity)
	}
	// Price reflects the latest trade.
	if !holdings[0].Price.Equal(decimal.NewFromInt(180)) {
		t.Errorf("price = %s, want 180", holdings[0].Price)
	}
}

func TestDB_SellStock(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	uid := createTestUser(t, "sell_user")

	if err := testDB.SellStock(ctx, uid, "MSFT", 1); !errors.Is(err, ErrNoHolding) {
		t.Errorf("expected ErrNoHolding, got %v", err)
	}

	testDB.BuyStock(ctx, uid, "MSFT", decimal.NewFromInt(325), 10)

	if err := testDB.SellStock(ctx, uid, "MSFT", 11); !errors.Is(err, ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}

	// Partial sale decrements.
	if err := testDB.SellStock(ctx, uid, "MSFT", 4); err != nil {
		t.Fatalf("partial sale failed: %v", err)
	}
	holdings, _ := testDB.GetStocksByUserID(ctx, uid)
	if len(holdings) != 1 || holdings[0].Quantity != 6 {
		t.Fatalf("expected 6 remaining, got %+v", holdings)
	}

	// Selling the rest removes the row entirely.
	if err := testDB.SellStock(ctx, uid, "MSFT", 6); err != nil {
		t.Fatalf("full sale failed: %v", err)
	}
	holdings, err := testDB.GetStocksByUserID(ctx, uid)
	if err != nil {
		t.Fatalf("get holdings failed: %v", err)
	}
	if len(holdings) != 0 {
		t.Errorf("expected holding deleted at zero, got %+v", holdings)
	}
}

func TestDB_GetStocksByUserIDEmpty(t *testing.T) {
	requireDB(t)
	uid := createTestUser(t, "empty_user")

	holdings, err := testDB.GetStocksByUserID(context.Background(), uid)
	if err != nil {
		t.Fatalf("expected no error for empty portfolio, got %v", err)
	}
	if holdings == nil || len(holdings) != 0 {
		t.Errorf("expected empty slice, got %v", holdings)
	}
}

func TestDB_GetPurchasePrice(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	// Unknown symbol yields zero, not an error.
	price, err := testDB.GetPurchasePrice(ctx, "UNKNOWN")
	if err != nil {
		t.Fatalf("expected silent zero, got %v", err)
	}
	if !price.IsZero() {
		t.Errorf("price = %s, want 0", price)
	}

	uid := createTestUser(t, "price_user")
	testDB.BuyStock(ctx, uid, "GOOGL", decimal.RequireFromString("132.45"), 2)

	price, err = testDB.GetPurchasePrice(ctx, "GOOGL")
	if err != nil {
		t.Fatalf("get purchase price failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("132.45")) {
		t.Errorf("price = %s", price)
	}
}

func TestDB_Transactions(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	uid := createTestUser(t, "tx_user")

	deposit := models.NewTransaction(uid, models.Deposit{Amount: decimal.NewFromInt(500)})
	buy := models.NewTransaction(uid, models.StockBuy{Symbol: "AMZN", Quantity: 2, Price: decimal.RequireFromString("128.91")})

	if err := testDB.RecordTransaction(ctx, deposit); err != nil {
		t.Fatalf("record deposit failed: %v", err)
	}
	if err := testDB.RecordTransaction(ctx, buy); err != nil {
		t.Fatalf("record buy failed: %v", err)
	}

	txs, err := testDB.GetTransactionsByUserID(ctx, uid)
	if err != nil {
		t.Fatalf("get transactions failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	// Most recent first.
	if txs[0].Type != models.TxBuy || txs[1].Type != models.TxDeposit {
		t.Errorf("order wrong: %s then %s", txs[0].Type, txs[1].Type)
	}
	// Unused fields stored as zero values, never NULL.
	if txs[1].StockSymbol != "" || txs[1].Quantity != 0 || !txs[1].Price.IsZero() || txs[1].Bank != "" {
		t.Errorf("deposit row carries stock fields: %+v", txs[1])
	}
	if !txs[0].Amount.Equal(decimal.RequireFromString("257.82")) {
		t.Errorf("buy amount = %s", txs[0].Amount)
	}
}
