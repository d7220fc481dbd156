package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cyphera/delegation-registry/internal/delegation"
	"github.com/cyphera/delegation-registry/internal/logger"
)

var (
	// ErrUnknownNonce is returned when no login nonce was issued for the
	// address, or it was already consumed.
	ErrUnknownNonce = errors.New("no login nonce issued for address")
	// ErrInvalidLoginSignature is returned when the login signature does not
	// recover to the claimed address.
	ErrInvalidLoginSignature = errors.New("invalid login signature")
)

// Service issues one-time login nonces and verifies wallet signatures over
// them. These nonces are unrelated to the registry's authorization ledger:
// they only prove control of an address to the HTTP layer.
type Service struct {
	mu     sync.Mutex
	nonces map[common.Address]string
	logger *zap.Logger
}

// NewService creates an auth service with an empty nonce table.
func NewService() *Service {
	return &Service{
		nonces: make(map[common.Address]string),
		logger: logger.Log,
	}
}

// IssueNonce generates and records a fresh login nonce for the address,
// replacing any previously issued one.
func (s *Service) IssueNonce(address common.Address) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	s.mu.Lock()
	s.nonces[address] = nonce
	s.mu.Unlock()

	return nonce, nil
}

// LoginMessage is the exact text a wallet must personal-sign to
// authenticate, bound to both the address and its issued nonce.
func LoginMessage(address common.Address, nonce string) string {
	return fmt.Sprintf("delegation-registry login\nAddress: %s\nNonce: %s", address.Hex(), nonce)
}

// VerifyAndConsume checks an EIP-191 personal-sign signature over the login
// message for the address's outstanding nonce. The nonce is consumed only on
// success, so a client may retry a botched signature without re-requesting.
func (s *Service) VerifyAndConsume(address common.Address, signature []byte) error {
	s.mu.Lock()
	nonce, ok := s.nonces[address]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownNonce
	}

	digest := common.BytesToHash(accounts.TextHash([]byte(LoginMessage(address, nonce))))
	signer, err := delegation.RecoverSigner(digest, signature)
	if err != nil {
		return ErrInvalidLoginSignature
	}
	if signer != address {
		s.logger.Warn("Login signature recovered wrong address",
			zap.String("claimed", address.Hex()),
			zap.String("recovered", signer.Hex()))
		return ErrInvalidLoginSignature
	}

	// The nonce may have been consumed or replaced while the signature was
	// being checked; only a request whose verified nonce is still current
	// may consume it.
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.nonces[address]; !ok || current != nonce {
		return ErrUnknownNonce
	}
	delete(s.nonces, address)

	return nil
}
