package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finlearn/papertrade/internal/models"
	"github.com/finlearn/papertrade/internal/outbox"
	"github.com/finlearn/papertrade/internal/sim"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// session returns the caller's trading session, creating one at the current
// market price on first use.
func (h *Handler) session(r *http.Request) (*sim.Session, int, bool) {
	uid, ok := userID(r)
	if !ok {
		return nil, 0, false
	}
	return h.Hub.Session(uid, h.Feed.CurrentPrice()), uid, true
}

// PlaceSimOrder submits an order to the caller's session. Market orders fill
// immediately at the current price; limit and stop orders rest until a tick
// triggers them.
func (h *Handler) PlaceSimOrder(w http.ResponseWriter, r *http.Request) {
	sess, uid, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Side        sim.Side        `json:"side"`
		Kind        sim.OrderKind   `json:"kind"`
		Shares      int64           `json:"shares"`
		TargetPrice decimal.Decimal `json:"target_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Side != sim.Buy && req.Side != sim.Sell {
		writeError(w, http.StatusBadRequest, "side must be 'buy' or 'sell'")
		return
	}

	order, trade, err := sess.Submit(req.Side, req.Kind, req.Shares, req.TargetPrice)
	switch {
	case errors.Is(err, sim.ErrInvalidShares), errors.Is(err, sim.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, sim.ErrInsufficientFunds), errors.Is(err, sim.ErrInsufficientShares):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to submit order")
		return
	}

	// A market order has already filled; mirror the fill returned by Submit.
	// Reading the trade history here instead would race the tick goroutine,
	// whose fills land in the same list and are mirrored by the tick pipeline.
	if trade != nil {
		h.syncFills(uid, []*sim.Trade{trade})
	}

	writeJSON(w, http.StatusCreated, order)
}

// CancelSimOrder cancels a pending order.
func (h *Handler) CancelSimOrder(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := sess.Cancel(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, sim.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, sim.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
}

// GetSimOrders returns the session's order list.
func (h *Handler) GetSimOrders(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, sess.Orders())
}

// GetSimTrades returns the session's trade history, most recent first.
func (h *Handler) GetSimTrades(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, sess.Trades())
}

// GetSimPortfolio returns the session's ledger snapshot.
func (h *Handler) GetSimPortfolio(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// SetSimLeverage changes the multiplier applied to the session's future
// fills.
func (h *Handler) SetSimLeverage(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Leverage int64 `json:"leverage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sess.SetLeverage(req.Leverage); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"leverage": req.Leverage})
}

// ResetSimSession discards the caller's session; the next request starts a
// fresh one at the current price.
func (h *Handler) ResetSimSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.Hub.Reset(uid)
	writeJSON(w, http.StatusOK, map[string]string{"message": "session reset"})
}

// SetMarket opens or closes the simulated market and optionally adjusts its
// volatility.
func (h *Handler) SetMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Open       *bool    `json:"open"`
		Volatility *float64 `json:"volatility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Open != nil {
		h.Feed.SetOpen(*req.Open)
	}
	if req.Volatility != nil {
		h.Feed.SetVolatility(*req.Volatility)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"open": h.Feed.IsOpen()})
}

// GetMarket returns the current market state and retained price history.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  h.Symbol,
		"open":    h.Feed.IsOpen(),
		"price":   h.Feed.CurrentPrice().Round(2),
		"history": h.Feed.History(),
	})
}

// syncFills mirrors session fills into the durable store, best-effort. Each
// fill settles the same two legs as a direct stock trade: a buy debits funds
// and upserts the holding, a sell decrements the holding and credits the
// proceeds, so mirrored trades never create durable value the user did not
// pay for. A failure is retried by the outbox and reported if it sticks; the
// in-memory ledger is never rolled back.
func (h *Handler) syncFills(uid int, trades []*sim.Trade) {
	for _, trade := range trades {
		trade := trade
		total := trade.Total.Round(2)
		if trade.Side == sim.Buy {
			h.Outbox.Enqueue(outbox.Mutation{
				UserID: uid,
				Kind:   "sim_buy_settlement",
				Apply: func(ctx context.Context) error {
					if err := h.DB.DeductFunds(ctx, uid, total); err != nil {
						return err
					}
					_, err := h.DB.BuyStock(ctx, uid, h.Symbol, trade.Price, trade.Shares)
					return err
				},
			})
			h.recordTransaction(uid, models.StockBuy{Symbol: h.Symbol, Quantity: trade.Shares, Price: trade.Price})
		} else {
			h.Outbox.Enqueue(outbox.Mutation{
				UserID: uid,
				Kind:   "sim_sell_settlement",
				Apply: func(ctx context.Context) error {
					if err := h.DB.SellStock(ctx, uid, h.Symbol, trade.Shares); err != nil {
						return err
					}
					_, err := h.DB.DepositFunds(ctx, uid, total)
					return err
				},
			})
			h.recordTransaction(uid, models.StockSale{Symbol: h.Symbol, Quantity: trade.Shares, Price: trade.Price})
		}
	}
}
