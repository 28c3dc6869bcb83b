package sim

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Hub holds one Session per user, created lazily on first use. Sessions are
// in-memory only and disappear with the process; the durable account store
// is synced separately.
type Hub struct {
	mu           sync.Mutex
	sessions     map[int]*Session
	startingCash decimal.Decimal
}

// NewHub creates a hub whose sessions all start with the given cash balance.
func NewHub(startingCash decimal.Decimal) *Hub {
	return &Hub{
		sessions:     make(map[int]*Session),
		startingCash: startingCash,
	}
}

// Session returns the user's session, creating it at the given price when
// the user has none yet.
func (h *Hub) Session(userID int, price decimal.Decimal) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[userID]
	if !ok {
		sess = NewSession(h.startingCash, price)
		h.sessions[userID] = sess
	}
	return sess
}

// Reset discards the user's session; the next access starts fresh.
func (h *Hub) Reset(userID int) {
	h.mu.Lock()
	delete(h.sessions, userID)
	h.mu.Unlock()
}

// Broadcast delivers a price tick to every session and returns the fills it
// produced, keyed by user. Each session finishes its tick before the next
// session is evaluated.
func (h *Hub) Broadcast(price decimal.Decimal) map[int][]*Trade {
	h.mu.Lock()
	sessions := make(map[int]*Session, len(h.sessions))
	for id, sess := range h.sessions {
		sessions[id] = sess
	}
	h.mu.Unlock()

	fills := make(map[int][]*Trade)
	for id, sess := range sessions {
		if trades := sess.OnPriceTick(price); len(trades) > 0 {
			fills[id] = trades
		}
	}
	return fills
}
