package api

import "errors"

var (
	// ErrNetConnectBlocked is returned when no expectation matches a
	// request and policy denies real network access. The wrapped detail
	// names the blocked host.
	ErrNetConnectBlocked = errors.New("real network connection disallowed")

	// ErrEngineClosed is returned for requests started after Close.
	ErrEngineClosed = errors.New("engine closed")
)
