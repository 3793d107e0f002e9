package recorder

import "errors"

var (
	// ErrDuplicateSession is returned by Start while a recording session
	// is already active.
	ErrDuplicateSession = errors.New("recording session already active")
)
