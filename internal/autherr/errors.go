// Package autherr defines the error taxonomy shared by every auth
// capability. Services return these sentinels (usually wrapped with
// context); the HTTP layer maps them onto status codes in one place.
package autherr

import "errors"

var (
	// ErrUnauthenticated means no session, or an invalid/expired/revoked one.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the caller is known but lacks the role or membership.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers absent resources and grants/invitations past expiry.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the target state is already terminal: a device code
	// exchanged twice, an invitation already accepted.
	ErrConflict = errors.New("conflict")
	// ErrInvalid covers malformed input and wrong one-time codes.
	ErrInvalid = errors.New("invalid")
	// ErrRateLimited tells a device caller to slow down between polls.
	ErrRateLimited = errors.New("rate limited")
)

// Device-flow poll outcomes. AuthorizationPending is not a failure from the
// device's point of view, but modelling it as an error keeps Poll's contract
// a single (session, error) pair.
var (
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrGrantExpired         = errors.New("grant expired")
)

// Code returns the wire-level error code for err, or "INTERNAL" when the
// error does not belong to the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrGrantExpired):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInvalid):
		return "INVALID"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrAuthorizationPending):
		return "AUTHORIZATION_PENDING"
	default:
		return "INTERNAL"
	}
}
