package domain

import "errors"

var (
	ErrAlreadyListed                = errors.New("asset already listed")
	ErrNotFound                     = errors.New("not found")
	ErrUnauthorized                 = errors.New("unauthorized")
	ErrInvalidState                 = errors.New("invalid listing state")
	ErrNotExpired                   = errors.New("listing not expired")
	ErrTransferFailed               = errors.New("asset transfer failed")
	ErrNoEscrow                     = errors.New("no escrow record")
	ErrInsufficientPayment          = errors.New("insufficient payment")
	ErrInvalidBps                   = errors.New("invalid basis points")
	ErrPaymentFailed                = errors.New("payment failed")
	ErrInvalidListing               = errors.New("invalid listing parameters")
	ErrCollectionVerificationFailed = errors.New("collection verification failed")
	ErrLockHeld                     = errors.New("lock already held")
)

// ErrorCode returns the stable wire code for a domain error, or "internal"
// when err does not wrap one of the sentinels above.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyListed):
		return "already_listed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotExpired):
		return "not_expired"
	case errors.Is(err, ErrNoEscrow):
		return "no_escrow"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrInvalidBps):
		return "invalid_bps"
	case errors.Is(err, ErrCollectionVerificationFailed):
		return "collection_verification_failed"
	case errors.Is(err, ErrInvalidListing):
		return "invalid_listing"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal"
	}
}
