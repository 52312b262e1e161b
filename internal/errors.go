package llmsim

import "errors"

// Sentinel errors for the simulator domain. Wrapped with fmt.Errorf("%w: ...")
// at the point of failure and matched with errors.Is at the HTTP boundary.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrBadRequest       = errors.New("bad request")
	ErrOperationMismatch = errors.New("operation not supported for this deployment")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrUpstream         = errors.New("upstream error")
	ErrNoRecording      = errors.New("no recording found")
	ErrInternal         = errors.New("internal error")
)
