package exception

import "errors"

var (
	ErrFillStream        = errors.New("fill: stream failure")
	ErrFillStreamTimeout = errors.New("fill: subscription not confirmed in time")
	ErrQueueClosed       = errors.New("fill: event queue closed")
)

var (
	ErrUnknownOrder      = errors.New("fill: order not tracked")
	ErrInvalidTransition = errors.New("fill: invalid order state transition")
	ErrInvalidFill       = errors.New("fill: invalid fill quantity")
)
