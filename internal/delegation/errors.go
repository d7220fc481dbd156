package delegation

import "errors"

var (
	// ErrExpired is returned when a signed authorization is submitted after
	// its deadline.
	ErrExpired = errors.New("authorization expired")
	// ErrInvalidSignature is returned when signature recovery fails, recovers
	// the zero address, or recovers an address other than the claimed holder.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUnauthorized is the error external collaborators should surface when
	// IsAuthorized answers false. The registry itself never returns it.
	ErrUnauthorized = errors.New("caller not authorized for holder")
)
