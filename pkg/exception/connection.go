package exception

import "errors"

var (
	ErrInResponseError   = errors.New("there is an error in response error field")
	ErrConnectionClose   = errors.New("connection closed")
	ErrVenueAuth         = errors.New("venue: authentication failed")
	ErrVenueUnavailable  = errors.New("venue: unavailable")
	ErrUnexpectedStatus  = errors.New("venue: unexpected http status")
	ErrUnknownWallet     = errors.New("venue: unknown wallet")
	ErrPoolClosed        = errors.New("venue: pool closed")
	ErrUnsupportedVenue  = errors.New("venue: unsupported exchange")
	ErrLeaseReleased     = errors.New("venue: lease already released")
	ErrMissingCredential = errors.New("venue: missing credential")
)
