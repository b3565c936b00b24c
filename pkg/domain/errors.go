package domain

import "errors"

// Error taxonomy shared by every component. Policy denials and client input
// errors are surfaced to the caller and never retried; ErrStoreUnavailable is
// transient and may be retried by the caller with backoff.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientRole     = errors.New("insufficient role")
	ErrNotOwner             = errors.New("not owner")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrSchemaViolation      = errors.New("schema violation")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrNotFound             = errors.New("not found")
	ErrStoreUnavailable     = errors.New("store unavailable")
)
