package ethereum

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cyphera/delegation-registry/internal/logger"
)

// ChainIDFromRPC dials the execution-layer RPC endpoint and reads the chain
// identifier the registry's domain separator must be bound to. Called once
// at startup; the connection is not kept.
func ChainIDFromRPC(ctx context.Context, rpcURL string) (*big.Int, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to RPC endpoint")
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain ID")
	}

	logger.Log.Info("Resolved chain ID from RPC",
		zap.String("rpc_url", rpcURL),
		zap.String("chain_id", chainID.String()),
	)

	return chainID, nil
}
