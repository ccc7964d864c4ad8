package picks

import "errors"

// Transition errors. A manager returning any of these has left its state
// unchanged and queued no persistence work.
var (
	ErrUnknownMarket    = errors.New("picks: unknown market")
	ErrInvalidSide      = errors.New("picks: invalid side")
	ErrNoDraft          = errors.New("picks: no drafted side")
	ErrAlreadySubmitted = errors.New("picks: already submitted")
	ErrNotSubmitted     = errors.New("picks: not submitted")
	ErrTimeLocked       = errors.New("picks: meet is locked")
	ErrSettled          = errors.New("picks: market is settled")
	ErrClosed           = errors.New("picks: manager closed")
	ErrLoading          = errors.New("picks: state is loading")
)
