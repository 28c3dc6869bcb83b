// Main entry point: wires config, logger, database, market feed, session
// hub, outbox and the HTTP server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finlearn/papertrade/internal/api"
	"github.com/finlearn/papertrade/internal/auth"
	"github.com/finlearn/papertrade/internal/config"
	"github.com/finlearn/papertrade/internal/db"
	"github.com/finlearn/papertrade/internal/feed"
	"github.com/finlearn/papertrade/internal/logging"
	"github.com/finlearn/papertrade/internal/outbox"
	"github.com/finlearn/papertrade/internal/sim"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	marketFeed := feed.New(cfg.Feed.StartPrice, cfg.Feed.Volatility, cfg.Feed.TickInterval())
	hub := sim.NewHub(decimal.NewFromFloat(cfg.Sim.StartingCash))

	queue := outbox.New(log, cfg.Outbox.MaxAttempts, cfg.Outbox.BaseDelay(), func(m outbox.Mutation, err error) {
		log.Warn().
			Err(err).
			Int("user_id", m.UserID).
			Str("kind", m.Kind).
			Msg("durable record lags local state")
	})

	authService := auth.NewService(database, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	handler := api.NewHandler(database, hub, marketFeed, authService, queue, cfg.Sim.Symbol, log)
	stream := api.NewStream()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/market", handler.GetMarket)
	r.Get("/ws", handler.ServeWS(stream))

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)

		r.Post("/funds/deposit", handler.DepositFunds)
		r.Post("/funds/withdraw", handler.WithdrawFunds)
		r.Get("/funds", handler.GetFunds)

		r.Post("/stocks/buy", handler.BuyStock)
		r.Post("/stocks/sell", handler.SellStock)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Get("/transactions", handler.GetTransactions)

		r.Post("/sim/orders", handler.PlaceSimOrder)
		r.Get("/sim/orders", handler.GetSimOrders)
		r.Delete("/sim/orders/{id}", handler.CancelSimOrder)
		r.Get("/sim/trades", handler.GetSimTrades)
		r.Get("/sim/portfolio", handler.GetSimPortfolio)
		r.Put("/sim/leverage", handler.SetSimLeverage)
		r.Post("/sim/reset", handler.ResetSimSession)
		r.Put("/sim/market", handler.SetMarket)
	})

	go queue.Run(ctx)
	go marketFeed.Run(ctx)
	go handler.RunTicks(ctx, stream)

	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Server.Addr()).Msg("starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}

	// Flush whatever the outbox still holds before exiting.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queue.Drain(flushCtx)
}
