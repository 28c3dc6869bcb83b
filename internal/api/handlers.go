// Package api exposes the HTTP surface: auth, funds, stock trading,
// transaction history and the simulator session endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finlearn/papertrade/internal/auth"
	"github.com/finlearn/papertrade/internal/db"
	"github.com/finlearn/papertrade/internal/feed"
	"github.com/finlearn/papertrade/internal/models"
	"github.com/finlearn/papertrade/internal/outbox"
	"github.com/finlearn/papertrade/internal/sim"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB     *db.DB
	Hub    *sim.Hub
	Feed   *feed.Feed
	Auth   *auth.Service
	Outbox *outbox.Queue
	Symbol string
	Log    zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, hub *sim.Hub, f *feed.Feed, authService *auth.Service, q *outbox.Queue, symbol string, log zerolog.Logger) *Handler {
	return &Handler{
		DB:     database,
		Hub:    hub,
		Feed:   f,
		Auth:   authService,
		Outbox: q,
		Symbol: symbol,
		Log:    log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// userID extracts the authenticated user from the request context.
func userID(r *http.Request) (int, bool) {
	id, ok := r.Context().Value(userIDKey).(int)
	return id, ok
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.Log.Error().Err(err).Str("username", req.Username).Msg("registration failed")
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and stores the user id in the
// request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		id, err := h.Auth.UserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DepositFunds adds cash to the user's durable balance and records the
// deposit in the audit log.
func (h *Handler) DepositFunds(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if _, err := h.DB.DepositFunds(r.Context(), uid, req.Amount); err != nil {
		h.Log.Error().Err(err).Int("user_id", uid).Msg("deposit failed")
		writeError(w, http.StatusInternalServerError, "failed to deposit funds")
		return
	}

	h.recordTransaction(uid, models.Deposit{Amount: req.Amount.Round(2)})

	funds, err := h.DB.GetFundsByUserID(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, funds)
}

// WithdrawFunds moves cash out of the user's balance to a bank.
func (h *Handler) WithdrawFunds(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Bank   string          `json:"bank"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	err := h.DB.WithdrawFunds(r.Context(), uid, req.Amount)
	switch {
	case errors.Is(err, db.ErrNoFunds), errors.Is(err, db.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.Log.Error().Err(err).Int("user_id", uid).Msg("withdrawal failed")
		writeError(w, http.StatusInternalServerError, "failed to withdraw funds")
		return
	}

	h.recordTransaction(uid, models.Withdrawal{Amount: req.Amount.Round(2), Bank: req.Bank})
	writeJSON(w, http.StatusOK, map[string]string{"message": "withdrawal complete"})
}

// GetFunds returns the user's balance; a user who never deposited sees zero.
func (h *Handler) GetFunds(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	funds, err := h.DB.GetFundsByUserID(r.Context(), uid)
	if errors.Is(err, db.ErrNoFunds) {
		funds = &models.Funds{UserID: uid, Amount: decimal.Zero}
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, funds)
}

// BuyStock settles a purchase against durable funds and holdings.
func (h *Handler) BuyStock(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Symbol   string          `json:"symbol"`
		Price    decimal.Decimal `json:"price"`
		Quantity int64           `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" || req.Quantity <= 0 || !req.Price.IsPositive() {
		writeError(w, http.StatusBadRequest, "symbol, positive price and positive quantity required")
		return
	}

	cost := req.Price.Mul(decimal.NewFromInt(req.Quantity)).Round(2)
	err := h.DB.DeductFunds(r.Context(), uid, cost)
	switch {
	case errors.Is(err, db.ErrNoFunds), errors.Is(err, db.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.Log.Error().Err(err).Int("user_id", uid).Msg("buy settlement failed")
		writeError(w, http.StatusInternalServerError, "failed to settle purchase")
		return
	}

	if _, err := h.DB.BuyStock(r.Context(), uid, req.Symbol, req.Price, req.Quantity); err != nil {
		h.Log.Error().Err(err).Int("user_id", uid).Str("symbol", req.Symbol).Msg("holding update failed")
		writeError(w, http.StatusInternalServerError, "failed to update holding")
		return
	}

	h.recordTransaction(uid, models.StockBuy{Symbol: req.Symbol, Quantity: req.Quantity, Price: req.Price})
	writeJSON(w, http.StatusCreated, map[string]string{"message": "purchase complete"})
}

// SellStock settles a sale: the holding is decremented (removed at zero) and
// the proceeds credited to funds.
func (h *Handler) SellStock(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Symbol   string          `json:"symbol"`
		Price    decimal.Decimal `json:"price"`
		Quantity int64           `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" || req.Quantity <= 0 || !req.Price.IsPositive() {
		writeError(w, http.StatusBadRequest, "symbol, positive price and positive quantity required")
		return
	}

	err := h.DB.SellStock(r.Context(), uid, req.Symbol, req.Quantity)
	switch {
	case errors.Is(err, db.ErrNoHolding), errors.Is(err, db.ErrInsufficientShares):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.Log.Error().Err(err).Int("user_id", uid).Str("symbol", req.Symbol).Msg("sale failed")
		writeError(w, http.StatusInternalServerError, "failed to sell stock")
		return
	}

	proceeds := req.Price.Mul(decimal.NewFromInt(req.Quantity)).Round(2)
	if _, err := h.DB.DepositFunds(r.Context(), uid, proceeds); err != nil {
		h.Log.Error().Err(err).Int("user_id", uid).Msg("sale settlement failed")
		writeError(w, http.StatusInternalServerError, "failed to settle sale")
		return
	}

	h.recordTransaction(uid, models.StockSale{Symbol: req.Symbol, Quantity: req.Quantity, Price: req.Price})
	writeJSON(w, http.StatusOK, map[string]string{"message": "sale complete"})
}

// GetPortfolio returns the user's funds and holdings, each holding enriched
// with the latest reference price for the symbol.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	holdings, err := h.DB.GetStocksByUserID(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read holdings")
		return
	}

	type holdingView struct {
		models.Holding
		LastPrice decimal.Decimal `json:"last_price"`
		Value     decimal.Decimal `json:"value"`
	}
	views := make([]holdingView, 0, len(holdings))
	for _, holding := range holdings {
		last, err := h.DB.GetPurchasePrice(r.Context(), holding.Symbol)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read reference price")
			return
		}
		if last.IsZero() {
			last = holding.Price
		}
		views = append(views, holdingView{
			Holding:   holding,
			LastPrice: last,
			Value:     last.Mul(decimal.NewFromInt(holding.Quantity)).Round(2),
		})
	}

	balance := decimal.Zero
	if funds, err := h.DB.GetFundsByUserID(r.Context(), uid); err == nil {
		balance = funds.Amount
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cash_balance": balance,
		"holdings":     views,
	})
}

// GetTransactions returns the user's audit log, most recent first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	txs, err := h.DB.GetTransactionsByUserID(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read transactions")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// recordTransaction appends to the audit log through the outbox so the
// request does not block on the write and transient store failures retry in
// the background.
func (h *Handler) recordTransaction(uid int, detail models.TransactionDetail) {
	record := models.NewTransaction(uid, detail)
	h.Outbox.Enqueue(outbox.Mutation{
		UserID: uid,
		Kind:   "record_transaction:" + string(record.Type),
		Apply: func(ctx context.Context) error {
			return h.DB.RecordTransaction(ctx, record)
		},
	})
}
