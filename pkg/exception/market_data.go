package exception

import "errors"

var (
	ErrInvalidBook  = errors.New("market data: invalid order book")
	ErrUnknownTopic = errors.New("market data: unknown market")
)
