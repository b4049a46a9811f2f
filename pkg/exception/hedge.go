package exception

import "errors"

var (
	ErrHedgeSubmission = errors.New("hedge: submission failed")
	ErrHedgeRejected   = errors.New("hedge: rejected by venue")
	ErrHedgeNoSymbol   = errors.New("hedge: symbol map missing market")
)
