// Package sim implements the paper-trading core: an order lifecycle engine
// that evaluates pending market, limit and stop orders against price ticks,
// and a portfolio ledger that applies fills to cash and position.
package sim

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderKind selects the fill rule for an order.
type OrderKind string

const (
	Market OrderKind = "market"
	Limit  OrderKind = "limit"
	Stop   OrderKind = "stop"
)

// OrderStatus is the lifecycle state of an order. The only transitions are
// Pending -> Filled and Pending -> Cancelled; terminal states are immutable.
type OrderStatus string

const (
	Pending   OrderStatus = "pending"
	Filled    OrderStatus = "filled"
	Cancelled OrderStatus = "cancelled"
)

// Order is a user's buy or sell request. ReferencePrice is the market price
// at submission; TargetPrice is the trigger level for limit and stop orders
// and zero for market orders.
type Order struct {
	ID             string          `json:"id"`
	Side           Side            `json:"side"`
	Kind           OrderKind       `json:"kind"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	TargetPrice    decimal.Decimal `json:"target_price"`
	Shares         int64           `json:"shares"`
	Status         OrderStatus     `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Trade is the immutable record of one fill. Total is
// shares * execution price * leverage at fill time.
type Trade struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Shares     int64           `json:"shares"`
	Leverage   int64           `json:"leverage"`
	Total      decimal.Decimal `json:"total"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Session owns one user's simulated trading state: the order list, the trade
// history and the portfolio ledger. All methods are safe for concurrent use;
// price ticks and user requests may arrive from different goroutines.
type Session struct {
	mu sync.Mutex

	orders []*Order
	trades []*Trade // most recent first

	cash     decimal.Decimal
	shares   int64
	leverage int64
	price    decimal.Decimal

	startingCash decimal.Decimal
}

// NewSession creates a session with the given starting cash, 1x leverage and
// an empty position.
func NewSession(startingCash, startPrice decimal.Decimal) *Session {
	return &Session{
		cash:         startingCash,
		startingCash: startingCash,
		leverage:     1,
		price:        startPrice,
	}
}

// Submit validates and records an order. Market orders fill synchronously at
// the current price; limit and stop orders rest as pending until a tick
// satisfies their trigger. No order is constructed when validation fails.
// The returned trade is the market fill, captured while the lock is still
// held; ticks from other goroutines cannot interleave another fill into it.
// It is nil for limit and stop orders.
func (s *Session) Submit(side Side, kind OrderKind, shares int64, targetPrice decimal.Decimal) (*Order, *Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shares <= 0 {
		return nil, nil, ErrInvalidShares
	}
	switch kind {
	case Market:
		targetPrice = decimal.Zero
	case Limit, Stop:
		if !targetPrice.IsPositive() {
			return nil, nil, ErrInvalidPrice
		}
	default:
		return nil, nil, ErrInvalidPrice
	}

	// Market orders are checked against the ledger before construction so
	// that a rejected submission leaves no partial state behind.
	if kind == Market {
		if err := s.checkPreconditions(side, shares, s.price); err != nil {
			return nil, nil, err
		}
	}

	order := &Order{
		ID:             uuid.NewString(),
		Side:           side,
		Kind:           kind,
		ReferencePrice: s.price,
		TargetPrice:    targetPrice,
		Shares:         shares,
		Status:         Pending,
		CreatedAt:      time.Now(),
	}
	s.orders = append(s.orders, order)

	var trade *Trade
	if kind == Market {
		trade = s.fill(order, s.price)
	}
	return order, trade, nil
}

// OnPriceTick records the new price and evaluates every pending order
// against it, in insertion order. Each eligible order is re-validated
// against the ledger immediately before it is applied; an order whose
// preconditions no longer hold is cancelled with the violation recorded
// rather than filled. Returns the trades produced by this tick.
func (s *Session) OnPriceTick(price decimal.Decimal) []*Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.price = price

	var fills []*Trade
	for _, order := range s.orders {
		if order.Status != Pending {
			continue
		}
		if !triggered(order, price) {
			continue
		}
		if err := s.checkPreconditions(order.Side, order.Shares, price); err != nil {
			order.Status = Cancelled
			order.Reason = err.Error()
			continue
		}
		fills = append(fills, s.fill(order, price))
	}
	return fills
}

// triggered reports whether a pending order's fill condition holds at price.
func triggered(order *Order, price decimal.Decimal) bool {
	switch order.Kind {
	case Market:
		return true
	case Limit:
		// Buy at target or better (price fell to target); sell at target
		// or better (price rose to target).
		if order.Side == Buy {
			return price.LessThanOrEqual(order.TargetPrice)
		}
		return price.GreaterThanOrEqual(order.TargetPrice)
	case Stop:
		// Stop triggers when price crosses the level against the holder.
		if order.Side == Buy {
			return price.GreaterThanOrEqual(order.TargetPrice)
		}
		return price.LessThanOrEqual(order.TargetPrice)
	}
	return false
}

// checkPreconditions verifies the ledger can absorb the order at the given
// execution price: buys need cash for shares*price*leverage, sells need the
// shares on hand.
func (s *Session) checkPreconditions(side Side, shares int64, price decimal.Decimal) error {
	switch side {
	case Buy:
		cost := price.Mul(decimal.NewFromInt(shares)).Mul(decimal.NewFromInt(s.leverage))
		if cost.GreaterThan(s.cash) {
			return ErrInsufficientFunds
		}
	case Sell:
		if shares > s.shares {
			return ErrInsufficientShares
		}
	}
	return nil
}

// fill applies the order's economic effect to the ledger and appends the
// resulting trade. Callers must hold the lock and have already verified
// preconditions; the mutation is all-or-nothing.
func (s *Session) fill(order *Order, price decimal.Decimal) *Trade {
	total := price.Mul(decimal.NewFromInt(order.Shares)).Mul(decimal.NewFromInt(s.leverage))

	if order.Side == Buy {
		s.cash = s.cash.Sub(total)
		s.shares += order.Shares
	} else {
		s.cash = s.cash.Add(total)
		s.shares -= order.Shares
	}
	order.Status = Filled

	trade := &Trade{
		ID:         uuid.NewString(),
		Side:       order.Side,
		Price:      price,
		Shares:     order.Shares,
		Leverage:   s.leverage,
		Total:      total,
		ExecutedAt: time.Now(),
	}
	s.trades = append([]*Trade{trade}, s.trades...)
	return trade
}

// Cancel transitions a pending order to cancelled. Orders already filled or
// cancelled are terminal and cannot be cancelled again.
func (s *Session) Cancel(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.ID != orderID {
			continue
		}
		if order.Status != Pending {
			return ErrNotPending
		}
		order.Status = Cancelled
		return nil
	}
	return ErrOrderNotFound
}

// SetLeverage changes the multiplier applied to future fills. Open positions
// and past trades are not repriced.
func (s *Session) SetLeverage(multiplier int64) error {
	switch multiplier {
	case 1, 2, 5, 10:
	default:
		return ErrInvalidLeverage
	}
	s.mu.Lock()
	s.leverage = multiplier
	s.mu.Unlock()
	return nil
}

// PortfolioValue is cash plus the position marked at the current price under
// the current leverage.
func (s *Session) PortfolioValue() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolioValue()
}

func (s *Session) portfolioValue() decimal.Decimal {
	position := s.price.Mul(decimal.NewFromInt(s.shares)).Mul(decimal.NewFromInt(s.leverage))
	return s.cash.Add(position)
}

// PnL is the portfolio value relative to the session's starting cash. It is
// total profit and loss, realized and unrealized together; the open position
// is marked at the current price rather than excluded.
func (s *Session) PnL() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolioValue().Sub(s.startingCash)
}

// CashBalance returns the current cash balance.
func (s *Session) CashBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// SharesOwned returns the current position size.
func (s *Session) SharesOwned() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shares
}

// Orders returns a copy of the order list, newest last.
func (s *Session) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	return orders
}

// Trades returns a copy of the trade history, most recent first.
func (s *Session) Trades() []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades := make([]Trade, 0, len(s.trades))
	for _, t := range s.trades {
		trades = append(trades, *t)
	}
	return trades
}

// Snapshot is a point-in-time view of the ledger for rendering.
type Snapshot struct {
	CashBalance    decimal.Decimal `json:"cash_balance"`
	SharesOwned    int64           `json:"shares_owned"`
	Leverage       int64           `json:"leverage"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	PositionValue  decimal.Decimal `json:"position_value"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	PnL            decimal.Decimal `json:"pnl"`
	PnLPercent     decimal.Decimal `json:"pnl_percent"`
}

// Snapshot returns the current ledger state and derived metrics. Currency
// values are rounded to two decimal places for display; the ledger itself
// keeps full precision.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	position := s.price.Mul(decimal.NewFromInt(s.shares)).Mul(decimal.NewFromInt(s.leverage))
	value := s.cash.Add(position)
	pnl := value.Sub(s.startingCash)
	pct := decimal.Zero
	if s.startingCash.IsPositive() {
		pct = pnl.Div(s.startingCash).Mul(decimal.NewFromInt(100))
	}

	return Snapshot{
		CashBalance:    s.cash.Round(2),
		SharesOwned:    s.shares,
		Leverage:       s.leverage,
		CurrentPrice:   s.price.Round(2),
		PositionValue:  position.Round(2),
		PortfolioValue: value.Round(2),
		PnL:            pnl.Round(2),
		PnLPercent:     pct.Round(2),
	}
}
