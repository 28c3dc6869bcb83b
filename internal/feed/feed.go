// Package feed generates the simulated market data stream: a random-walk
// price series published to subscribers on a recurring timer.
package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// floorPrice is the lowest price the walk can reach.
const floorPrice = 10.0

// historySize bounds the retained tick history.
const historySize = 100

// Tick is one step of the simulated market.
type Tick struct {
	Price  decimal.Decimal `json:"price"`
	Volume int64           `json:"volume"`
	At     time.Time       `json:"at"`
}

// Feed is a single-symbol simulated quote source. While the market is open,
// each timer interval produces one tick: the previous price plus a uniform
// random step scaled by volatility, floored at $10. Ticks fan out to
// subscriber channels without blocking; a subscriber that falls behind
// misses ticks instead of stalling the generator.
type Feed struct {
	mu         sync.Mutex
	price      float64
	volatility float64
	open       bool
	history    []Tick
	subs       map[chan Tick]struct{}
	rng        *rand.Rand

	interval time.Duration
}

// New creates a feed at the given start price and volatility, pre-filled
// with a backdated history so charts have data immediately.
func New(startPrice float64, volatility float64, interval time.Duration) *Feed {
	f := &Feed{
		price:      startPrice,
		volatility: volatility,
		open:       true,
		subs:       make(map[chan Tick]struct{}),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		interval:   interval,
	}
	f.backfill()
	return f
}

// backfill seeds the history with historySize synthetic points ending at the
// current price, spaced one interval apart into the past.
func (f *Feed) backfill() {
	now := time.Now()
	f.history = make([]Tick, 0, historySize)
	price := f.price
	for i := historySize - 1; i >= 0; i-- {
		f.history = append(f.history, Tick{
			Price:  decimal.NewFromFloat(price),
			Volume: f.rng.Int63n(5000) + 500,
			At:     now.Add(-time.Duration(i) * f.interval),
		})
		step := (f.rng.Float64() - 0.5) * 2 * f.volatility
		price = max(price+step, floorPrice)
	}
	f.price = f.history[len(f.history)-1].Price.InexactFloat64()
}

// Run drives the feed until the context is cancelled. A tick's synchronous
// work, including subscriber fan-out, completes before the next interval
// fires.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Step()
		}
	}
}

// Step advances the walk by one tick and publishes it. A closed market does
// not move. The new tick is returned for callers driving the feed manually.
func (f *Feed) Step() (Tick, bool) {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return Tick{}, false
	}

	step := (f.rng.Float64() - 0.5) * 2 * f.volatility
	f.price = max(f.price+step, floorPrice)

	tick := Tick{
		Price:  decimal.NewFromFloat(f.price),
		Volume: f.rng.Int63n(5000) + 500,
		At:     time.Now(),
	}
	f.history = append(f.history, tick)
	if len(f.history) > historySize {
		f.history = f.history[len(f.history)-historySize:]
	}

	for ch := range f.subs {
		select {
		case ch <- tick:
		default:
			// Subscriber is behind; drop the tick for it.
		}
	}
	f.mu.Unlock()
	return tick, true
}

// Subscribe registers a tick channel and returns it with an unsubscribe
// function. The channel is buffered; missed ticks are not replayed.
func (f *Feed) Subscribe() (<-chan Tick, func()) {
	ch := make(chan Tick, 16)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
	return ch, cancel
}

// CurrentPrice returns the latest price.
func (f *Feed) CurrentPrice() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return decimal.NewFromFloat(f.price)
}

// History returns a copy of the retained ticks, oldest first.
func (f *Feed) History() []Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := make([]Tick, len(f.history))
	copy(history, f.history)
	return history
}

// SetOpen opens or closes the market. A closed market emits no ticks.
func (f *Feed) SetOpen(open bool) {
	f.mu.Lock()
	f.open = open
	f.mu.Unlock()
}

// IsOpen reports whether the market is open.
func (f *Feed) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// SetVolatility changes the magnitude of future price steps.
func (f *Feed) SetVolatility(v float64) {
	if v <= 0 {
		return
	}
	f.mu.Lock()
	f.volatility = v
	f.mu.Unlock()
}
