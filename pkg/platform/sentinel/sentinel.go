package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Platform adapters and store
// backends return these (optionally wrapped) so services can translate them
// into domain errors.
//
// - ErrNotFound: the guild, channel, message, role or backing document does not exist
// - ErrForbidden: the platform refused the call (missing access or permission)
// - ErrUnavailable: the platform or backend is temporarily unreachable
// - ErrRateLimited: the platform asked us to slow down
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrRateLimited  = errors.New("rate limited")
)
