package delegation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyphera/delegation-registry/internal/eip712"
	"github.com/cyphera/delegation-registry/internal/logger"
	"github.com/cyphera/delegation-registry/internal/store"
)

// Registry holds the grant relation and the nonce ledger, and verifies
// signed authorizations against this deployment's domain separator.
//
// A single mutex serializes every operation that touches shared state. That
// is what makes nonce consumption replay-safe: of two submissions carrying
// the same nonce, the first to run advances the ledger and the second's
// digest no longer matches the holder's signature.
type Registry struct {
	mu        sync.Mutex
	store     store.Store
	separator common.Hash
	domain    eip712.Domain
	feed      *EventFeed
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistry creates a registry bound to the given domain. The domain
// separator is computed once here and never recomputed.
func NewRegistry(domain eip712.Domain, st store.Store) *Registry {
	return &Registry{
		store:     st,
		separator: domain.Separator(),
		domain:    domain,
		feed:      NewEventFeed(0),
		logger:    logger.Log,
		now:       time.Now,
	}
}

// DomainSeparator returns the deployment-unique separator baked in at
// construction.
func (r *Registry) DomainSeparator() common.Hash {
	return r.separator
}

// Domain returns the domain the registry was constructed with.
func (r *Registry) Domain() eip712.Domain {
	return r.domain
}

// Events returns the registry's delegation-changed event feed.
func (r *Registry) Events() *EventFeed {
	return r.feed
}

// IsAuthorized reports whether caller may act on behalf of holder: true iff
// caller is the holder itself or holds an active grant. Pure query, no side
// effects.
func (r *Registry) IsAuthorized(ctx context.Context, holder, caller common.Address) (bool, error) {
	if holder == caller {
		return true, nil
	}

	granted, err := r.store.Granted(ctx, holder, caller)
	if err != nil {
		return false, fmt.Errorf("failed to read grant: %w", err)
	}
	return granted, nil
}

// Nonce returns the holder's current authorization nonce. A wallet must
// embed this value in its next signed authorization.
func (r *Registry) Nonce(ctx context.Context, holder common.Address) (uint64, error) {
	nonce, err := r.store.Nonce(ctx, holder)
	if err != nil {
		return 0, fmt.Errorf("failed to read nonce: %w", err)
	}
	return nonce, nil
}

// Grant activates the (holder, delegate) relation. Re-granting an active
// relation is a no-op and emits no event.
func (r *Registry) Grant(ctx context.Context, holder, delegate common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setGrant(ctx, holder, delegate, true)
}

// Revoke clears the (holder, delegate) relation on behalf of the holder.
// Revoking an inactive relation is a no-op and emits no event.
func (r *Registry) Revoke(ctx context.Context, holder, delegate common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setGrant(ctx, holder, delegate, false)
}

// Renounce clears the (holder, delegate) relation on behalf of the delegate,
// letting a delegate unilaterally drop a grant it no longer wants. Like
// Revoke, it is a silent no-op when the grant was never active.
func (r *Registry) Renounce(ctx context.Context, delegate, holder common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setGrant(ctx, holder, delegate, false)
}

// GrantBySignature verifies an off-line signed authorization and, on
// success, applies the same grant semantics as Grant on behalf of the
// holder and advances the holder's nonce by one.
//
// Verification order matters: the deadline and signature checks complete
// before any state is touched, so a failed call leaves both the registry and
// the ledger unchanged.
func (r *Registry) GrantBySignature(ctx context.Context, holder, delegate common.Address, deadline uint64, signature []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint64(r.now().Unix()) > deadline {
		return ErrExpired
	}

	nonce, err := r.store.Nonce(ctx, holder)
	if err != nil {
		return fmt.Errorf("failed to read nonce: %w", err)
	}

	auth := Authorization{
		Holder:   holder,
		Delegate: delegate,
		Nonce:    nonce,
		Deadline: deadline,
	}

	signer, err := RecoverSigner(auth.SigningHash(r.separator), signature)
	if err != nil {
		return err
	}
	if signer != holder {
		return ErrInvalidSignature
	}

	if _, err := r.store.ConsumeNonce(ctx, holder); err != nil {
		return fmt.Errorf("failed to consume nonce: %w", err)
	}

	if err := r.setGrant(ctx, holder, delegate, true); err != nil {
		return err
	}

	r.logger.Info("Signed authorization accepted",
		zap.String("holder", holder.Hex()),
		zap.String("delegate", delegate.Hex()),
		zap.Uint64("nonce", nonce))

	return nil
}

// setGrant applies a grant mutation and publishes an event only when the
// stored relation actually changed. Callers hold r.mu.
func (r *Registry) setGrant(ctx context.Context, holder, delegate common.Address, enabled bool) error {
	changed, err := r.store.SetGrant(ctx, holder, delegate, enabled)
	if err != nil {
		return fmt.Errorf("failed to update grant: %w", err)
	}
	if !changed {
		return nil
	}

	r.feed.Publish(Event{
		ID:       uuid.New(),
		Holder:   holder,
		Delegate: delegate,
		Enabled:  enabled,
		At:       r.now(),
	})

	r.logger.Info("Delegation changed",
		zap.String("holder", holder.Hex()),
		zap.String("delegate", delegate.Hex()),
		zap.Bool("enabled", enabled))

	return nil
}
