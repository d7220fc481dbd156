package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists the grant relation and the per-holder nonce ledger.
// Implementations must be safe for concurrent use; the registry additionally
// serializes the verify/consume/apply pipeline above this interface.
type Store interface {
	// Granted reports whether (holder, delegate) is an active grant.
	Granted(ctx context.Context, holder, delegate common.Address) (bool, error)

	// SetGrant activates or clears the (holder, delegate) relation. It
	// returns true when the stored value actually changed, so callers can
	// keep grant and revoke idempotent at the event level.
	SetGrant(ctx context.Context, holder, delegate common.Address, enabled bool) (bool, error)

	// Nonce returns the holder's current authorization nonce, zero if the
	// holder has never been seen.
	Nonce(ctx context.Context, holder common.Address) (uint64, error)

	// ConsumeNonce atomically advances the holder's nonce by one and returns
	// the pre-increment value.
	ConsumeNonce(ctx context.Context, holder common.Address) (uint64, error)

	// Close releases any underlying resources.
	Close()
}
