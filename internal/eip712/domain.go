package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// domainTypeHash is the keccak256 of the canonical EIP-712 domain type
// descriptor. It binds the separator to the field layout below.
var domainTypeHash = crypto.Keccak256Hash(
	[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
)

// Domain identifies one deployment of the registry. A signature produced
// against one domain never verifies against another: the chain id and
// verifying address are mixed into every signing digest.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator computes the EIP-712 domain separator for this domain. The
// result is fixed for the lifetime of a deployment; callers compute it once
// at construction and reuse it.
func (d Domain) Separator() common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		common.BigToHash(d.ChainID).Bytes(),
		common.BytesToHash(d.VerifyingContract.Bytes()).Bytes(),
	)
}

// SigningHash wraps a struct hash in the EIP-712 envelope: the \x19\x01
// prefix followed by the domain separator and the message-specific hash.
func SigningHash(separator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		separator.Bytes(),
		structHash.Bytes(),
	)
}
