package eip712_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"

	"github.com/cyphera/delegation-registry/internal/eip712"
)

func baseDomain() eip712.Domain {
	return eip712.Domain{
		Name:              "DelegationRegistry",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
	}
}

func TestDomain_Separator_Deterministic(t *testing.T) {
	assert.Equal(t, baseDomain().Separator(), baseDomain().Separator())
}

func TestDomain_Separator_FieldSensitivity(t *testing.T) {
	base := baseDomain()

	tests := []struct {
		name   string
		mutate func(d *eip712.Domain)
	}{
		{name: "name", mutate: func(d *eip712.Domain) { d.Name = "OtherProtocol" }},
		{name: "version", mutate: func(d *eip712.Domain) { d.Version = "2" }},
		{name: "chain id", mutate: func(d *eip712.Domain) { d.ChainID = big.NewInt(137) }},
		{name: "verifying contract", mutate: func(d *eip712.Domain) {
			d.VerifyingContract = common.HexToAddress("0x0000000000000000000000000000000000000001")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := baseDomain()
			tt.mutate(&mutated)
			assert.NotEqual(t, base.Separator(), mutated.Separator(),
				"separator must bind every domain field")
		})
	}
}

func TestSigningHash_EnvelopeFormat(t *testing.T) {
	separator := baseDomain().Separator()
	structHash := crypto.Keccak256Hash([]byte("message"))

	expected := crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		separator.Bytes(),
		structHash.Bytes(),
	)
	assert.Equal(t, expected, eip712.SigningHash(separator, structHash))

	// Distinct struct hashes yield distinct digests under the same domain.
	other := crypto.Keccak256Hash([]byte("other message"))
	assert.NotEqual(t, eip712.SigningHash(separator, structHash), eip712.SigningHash(separator, other))
}
