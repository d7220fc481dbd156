package auth_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/delegation-registry/internal/auth"
	"github.com/cyphera/delegation-registry/internal/logger"
)

func init() {
	logger.InitLogger("test")
}

func TestService_IssueAndVerify(t *testing.T) {
	service := auth.NewService()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := service.IssueNonce(address)
	require.NoError(t, err)
	require.NotEmpty(t, nonce)

	message := auth.LoginMessage(address, nonce)
	signature, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)

	assert.NoError(t, service.VerifyAndConsume(address, signature))

	// The nonce is single-use.
	assert.ErrorIs(t, service.VerifyAndConsume(address, signature), auth.ErrUnknownNonce)
}

func TestService_ConcurrentVerifyConsumesOnce(t *testing.T) {
	service := auth.NewService()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := service.IssueNonce(address)
	require.NoError(t, err)

	message := auth.LoginMessage(address, nonce)
	signature, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)

	const attempts = 64

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := service.VerifyAndConsume(address, signature)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, auth.ErrUnknownNonce)
		}()
	}
	wg.Wait()

	// Exactly one of the racing requests may spend the nonce.
	assert.Equal(t, int64(1), successes.Load())
}

func TestService_VerifyWithoutNonce(t *testing.T) {
	service := auth.NewService()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	err = service.VerifyAndConsume(address, make([]byte, 65))
	assert.ErrorIs(t, err, auth.ErrUnknownNonce)
}

func TestService_WrongSigner(t *testing.T) {
	service := auth.NewService()

	holderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(holderKey.PublicKey)

	attackerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	nonce, err := service.IssueNonce(address)
	require.NoError(t, err)

	message := auth.LoginMessage(address, nonce)
	signature, err := crypto.Sign(accounts.TextHash([]byte(message)), attackerKey)
	require.NoError(t, err)

	assert.ErrorIs(t, service.VerifyAndConsume(address, signature), auth.ErrInvalidLoginSignature)

	// A failed attempt does not consume the nonce; the real wallet can still
	// sign in.
	signature, err = crypto.Sign(accounts.TextHash([]byte(message)), holderKey)
	require.NoError(t, err)
	assert.NoError(t, service.VerifyAndConsume(address, signature))
}

func TestService_ReissueReplacesNonce(t *testing.T) {
	service := auth.NewService()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	first, err := service.IssueNonce(address)
	require.NoError(t, err)
	second, err := service.IssueNonce(address)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Signature over the stale nonce fails.
	signature, err := crypto.Sign(accounts.TextHash([]byte(auth.LoginMessage(address, first))), key)
	require.NoError(t, err)
	assert.ErrorIs(t, service.VerifyAndConsume(address, signature), auth.ErrInvalidLoginSignature)

	signature, err = crypto.Sign(accounts.TextHash([]byte(auth.LoginMessage(address, second))), key)
	require.NoError(t, err)
	assert.NoError(t, service.VerifyAndConsume(address, signature))
}
