package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cyphera/delegation-registry/internal/logger"
)

// Schema expected by PostgresStore. Applied by Migrate for fresh databases;
// deployed environments manage it through their own migration tooling.
const schema = `
CREATE TABLE IF NOT EXISTS delegation_grants (
    holder   BYTEA NOT NULL,
    delegate BYTEA NOT NULL,
    PRIMARY KEY (holder, delegate)
);

CREATE TABLE IF NOT EXISTS delegation_nonces (
    holder BYTEA PRIMARY KEY,
    nonce  BIGINT NOT NULL DEFAULT 0
);
`

// PostgresStore is the durable Store backed by a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to the database identified by dsn and verifies
// the connection with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger.Log,
	}, nil
}

// Migrate applies the registry schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

// Granted reports whether (holder, delegate) is an active grant.
func (s *PostgresStore) Granted(ctx context.Context, holder, delegate common.Address) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM delegation_grants WHERE holder = $1 AND delegate = $2)`,
		holder.Bytes(), delegate.Bytes(),
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to query grant")
	}
	return exists, nil
}

// SetGrant activates or clears the relation, reporting whether a row was
// actually inserted or deleted.
func (s *PostgresStore) SetGrant(ctx context.Context, holder, delegate common.Address, enabled bool) (bool, error) {
	if enabled {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO delegation_grants (holder, delegate) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			holder.Bytes(), delegate.Bytes(),
		)
		if err != nil {
			return false, errors.Wrap(err, "failed to insert grant")
		}
		return tag.RowsAffected() > 0, nil
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM delegation_grants WHERE holder = $1 AND delegate = $2`,
		holder.Bytes(), delegate.Bytes(),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete grant")
	}
	return tag.RowsAffected() > 0, nil
}

// Nonce returns the holder's current nonce, zero if the holder has no row.
func (s *PostgresStore) Nonce(ctx context.Context, holder common.Address) (uint64, error) {
	var nonce int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT nonce FROM delegation_nonces WHERE holder = $1), 0)`,
		holder.Bytes(),
	).Scan(&nonce)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query nonce")
	}
	return uint64(nonce), nil
}

// ConsumeNonce advances the holder's nonce in a single statement and returns
// the pre-increment value.
func (s *PostgresStore) ConsumeNonce(ctx context.Context, holder common.Address) (uint64, error) {
	var next int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO delegation_nonces (holder, nonce) VALUES ($1, 1)
		 ON CONFLICT (holder) DO UPDATE SET nonce = delegation_nonces.nonce + 1
		 RETURNING nonce`,
		holder.Bytes(),
	).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, "failed to consume nonce")
	}
	return uint64(next) - 1, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
	s.logger.Info("Closed database connection pool")
}
