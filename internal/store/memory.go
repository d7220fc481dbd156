package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is the in-process Store used for the local stage and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[common.Address]map[common.Address]bool
	nonces map[common.Address]uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[common.Address]map[common.Address]bool),
		nonces: make(map[common.Address]uint64),
	}
}

// Granted reports whether (holder, delegate) is an active grant.
func (s *MemoryStore) Granted(_ context.Context, holder, delegate common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[holder][delegate], nil
}

// SetGrant activates or clears the relation, reporting whether it changed.
func (s *MemoryStore) SetGrant(_ context.Context, holder, delegate common.Address, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.grants[holder][delegate]
	if current == enabled {
		return false, nil
	}

	if enabled {
		if s.grants[holder] == nil {
			s.grants[holder] = make(map[common.Address]bool)
		}
		s.grants[holder][delegate] = true
	} else {
		delete(s.grants[holder], delegate)
		if len(s.grants[holder]) == 0 {
			delete(s.grants, holder)
		}
	}

	return true, nil
}

// Nonce returns the holder's current nonce, zero if never used.
func (s *MemoryStore) Nonce(_ context.Context, holder common.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[holder], nil
}

// ConsumeNonce advances the holder's nonce and returns the previous value.
func (s *MemoryStore) ConsumeNonce(_ context.Context, holder common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.nonces[holder]
	s.nonces[holder] = current + 1
	return current, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
