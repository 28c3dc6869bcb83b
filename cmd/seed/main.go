// Seed the database with demo accounts, starting funds and sample activity.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/finlearn/papertrade/internal/config"
	"github.com/finlearn/papertrade/internal/db"
	"github.com/finlearn/papertrade/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Don't reseed a populated database.
	var users int
	if err := database.Pool.QueryRow(ctx, "SELECT count(*) FROM users").Scan(&users); err != nil {
		log.Fatalf("Failed to check users: %v", err)
	}
	if users > 0 {
		fmt.Printf("Database already has %d users. No need to seed.\n", users)
		os.Exit(0)
	}

	demo := []struct {
		username string
		password string
		deposit  decimal.Decimal
	}{
		{"trader1", "password123", decimal.NewFromInt(10000)},
		{"trader2", "password123", decimal.NewFromInt(25000)},
	}

	for _, d := range demo {
		hashed, err := bcrypt.GenerateFromPassword([]byte(d.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		user, err := database.CreateUser(ctx, d.username, string(hashed))
		if err != nil {
			log.Fatalf("Failed to create %s: %v", d.username, err)
		}

		if _, err := database.DepositFunds(ctx, user.ID, d.deposit); err != nil {
			log.Fatalf("Failed to deposit funds for %s: %v", d.username, err)
		}
		if err := database.RecordTransaction(ctx, models.NewTransaction(user.ID, models.Deposit{Amount: d.deposit})); err != nil {
			log.Fatalf("Failed to record deposit for %s: %v", d.username, err)
		}
		fmt.Printf("Created %s (id %d) with $%s\n", d.username, user.ID, d.deposit.StringFixed(2))
	}

	// Give trader1 a starter position so the portfolio page has content.
	var trader1 models.User
	if err := database.Pool.QueryRow(ctx, "SELECT id FROM users WHERE username = 'trader1'").Scan(&trader1.ID); err != nil {
		log.Fatalf("Failed to look up trader1: %v", err)
	}
	price := decimal.NewFromFloat(175.23)
	if err := database.DeductFunds(ctx, trader1.ID, price.Mul(decimal.NewFromInt(10))); err != nil {
		log.Fatalf("Failed to settle starter buy: %v", err)
	}
	if _, err := database.BuyStock(ctx, trader1.ID, "AAPL", price, 10); err != nil {
		log.Fatalf("Failed to create starter holding: %v", err)
	}
	if err := database.RecordTransaction(ctx, models.NewTransaction(trader1.ID, models.StockBuy{Symbol: "AAPL", Quantity: 10, Price: price})); err != nil {
		log.Fatalf("Failed to record starter buy: %v", err)
	}

	fmt.Println("Seeding complete.")
}
