package intercept

import "errors"

var (
	// ErrExchangeDone reports a body write or end after the exchange
	// already reached a terminal state.
	ErrExchangeDone = errors.New("exchange already completed")
)
