package exception

import "errors"

var (
	ErrInvalidStrategyParams = errors.New("strategy: invalid params")
	ErrUnknownStrategy       = errors.New("strategy: unknown strategy")
)

var (
	ErrReconciliation            = errors.New("order: reconciliation action failed")
	ErrOrderInvalidRequest       = errors.New("order: invalid request")
	ErrOrderEmptyResponseOrderID = errors.New("order: empty response order id")
	ErrOrderRiskDenied           = errors.New("order: denied by risk limits")
)
