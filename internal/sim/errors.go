package sim

import "errors"

var (
	// ErrInvalidShares is returned when an order's share count does not
	// parse to a positive integer.
	ErrInvalidShares = errors.New("shares must be a positive integer")

	// ErrInvalidPrice is returned when a limit or stop order carries a
	// missing or non-positive target price.
	ErrInvalidPrice = errors.New("target price must be positive")

	// ErrInvalidLeverage is returned for a multiplier outside the offered set.
	ErrInvalidLeverage = errors.New("leverage must be 1, 2, 5 or 10")

	// ErrInsufficientFunds is returned when a buy's total cost exceeds the
	// cash balance at evaluation time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is returned when a sell's share count exceeds
	// the position at evaluation time.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrOrderNotFound is returned when no order with the given id exists
	// in the session.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotPending is returned when cancelling an order that has already
	// reached a terminal state.
	ErrNotPending = errors.New("order is not pending")
)
