package delegation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cyphera/delegation-registry/internal/eip712"
)

// approvalTypeHash is the keccak256 of the typed-data descriptor for a
// signed delegation approval.
var approvalTypeHash = crypto.Keccak256Hash(
	[]byte("DelegationApproval(address holder,address delegate,uint256 nonce,uint256 deadline)"),
)

// Authorization is the message a holder signs off-line to approve a
// delegate. It is never stored: a successful verification consumes it by
// advancing the holder's nonce past the value embedded in the signature.
type Authorization struct {
	Holder   common.Address
	Delegate common.Address
	Nonce    uint64
	Deadline uint64
}

// StructHash computes the EIP-712 struct hash of the authorization. Each
// field is encoded as a 32-byte word, addresses left-padded, integers
// big-endian.
func (a Authorization) StructHash() common.Hash {
	return crypto.Keccak256Hash(
		approvalTypeHash.Bytes(),
		common.BytesToHash(a.Holder.Bytes()).Bytes(),
		common.BytesToHash(a.Delegate.Bytes()).Bytes(),
		common.BigToHash(new(big.Int).SetUint64(a.Nonce)).Bytes(),
		common.BigToHash(new(big.Int).SetUint64(a.Deadline)).Bytes(),
	)
}

// SigningHash is the final digest the holder signs: the struct hash nested
// inside the deployment's domain envelope.
func (a Authorization) SigningHash(separator common.Hash) common.Hash {
	return eip712.SigningHash(separator, a.StructHash())
}

// RecoverSigner recovers the address that produced signature over digest.
// Accepts 65-byte r||s||v signatures with v in {0,1} or {27,28}. Returns
// ErrInvalidSignature for malformed input, failed recovery, or a zero
// recovered address.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}

	addr := crypto.PubkeyToAddress(*pub)
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidSignature
	}

	return addr, nil
}
