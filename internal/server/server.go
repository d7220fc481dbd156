package server

import (
	"context"
	"log"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	awsclient "github.com/cyphera/delegation-registry/internal/client/aws"
	ethclient "github.com/cyphera/delegation-registry/internal/client/ethereum"

	"github.com/cyphera/delegation-registry/internal/auth"
	"github.com/cyphera/delegation-registry/internal/delegation"
	"github.com/cyphera/delegation-registry/internal/eip712"
	"github.com/cyphera/delegation-registry/internal/handlers"
	"github.com/cyphera/delegation-registry/internal/logger"
	"github.com/cyphera/delegation-registry/internal/middleware"
	"github.com/cyphera/delegation-registry/internal/store"
)

// Deployment stages
const (
	StageProd  = "prod"
	StageDev   = "dev"
	StageLocal = "local"
)

// Protocol identity baked into the domain separator. Changing either value
// invalidates every outstanding signed authorization.
const (
	protocolName    = "DelegationRegistry"
	protocolVersion = "1"
)

// Handler Definitions
var (
	delegationHandler *handlers.DelegationHandler
	authHandler       *handlers.AuthHandler

	authService *auth.Service
	registry    *delegation.Registry
	dataStore   store.Store
)

// InitializeHandlers wires configuration, storage, and the registry, and
// constructs the HTTP handlers.
func InitializeHandlers() {
	// Load environment variables from .env file for local development
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	stage := os.Getenv("STAGE")
	if stage == "" {
		stage = StageLocal
		log.Printf("Warning: STAGE environment variable not set, defaulting to '%s'", stage)
	}
	if stage != StageProd && stage != StageDev && stage != StageLocal {
		log.Fatalf("Invalid STAGE environment variable: '%s'. Must be one of: %s, %s, %s",
			stage, StageProd, StageDev, StageLocal)
	}

	logger.InitLogger(stage)
	logger.Info("Initializing handlers for stage", zap.String("stage", stage))

	ctx := context.Background()

	// --- Domain configuration ---
	domain, err := resolveDomain(ctx)
	if err != nil {
		logger.Fatal("Failed to resolve signing domain", zap.Error(err))
	}
	logger.Info("Signing domain resolved",
		zap.String("name", domain.Name),
		zap.String("version", domain.Version),
		zap.String("chain_id", domain.ChainID.String()),
		zap.String("instance", domain.VerifyingContract.Hex()),
	)

	// --- Storage ---
	dataStore, err = resolveStore(ctx, stage)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	// --- Registry and services ---
	registry = delegation.NewRegistry(domain, dataStore)
	authService = auth.NewService()

	delegationHandler = handlers.NewDelegationHandler(registry)
	authHandler = handlers.NewAuthHandler(authService)
}

// resolveDomain builds the deployment's signing domain. The chain id comes
// from the RPC endpoint when one is configured, otherwise from CHAIN_ID.
func resolveDomain(ctx context.Context) (eip712.Domain, error) {
	var chainID *big.Int

	if rpcURL := os.Getenv("RPC_URL"); rpcURL != "" {
		resolved, err := ethclient.ChainIDFromRPC(ctx, rpcURL)
		if err != nil {
			return eip712.Domain{}, err
		}
		chainID = resolved
	} else {
		raw := os.Getenv("CHAIN_ID")
		if raw == "" {
			raw = "1"
			logger.Warn("Neither RPC_URL nor CHAIN_ID set, defaulting chain id to 1")
		}
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			logger.Fatal("Invalid CHAIN_ID value", zap.String("chain_id", raw))
		}
		chainID = parsed
	}

	instance := os.Getenv("INSTANCE_ADDRESS")
	if !common.IsHexAddress(instance) {
		logger.Fatal("INSTANCE_ADDRESS must be a valid hex address", zap.String("instance_address", instance))
	}

	return eip712.Domain{
		Name:              protocolName,
		Version:           protocolVersion,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(instance),
	}, nil
}

// resolveStore selects the Postgres store when a DSN is available (directly
// or via Secrets Manager in deployed stages), otherwise the in-memory store.
func resolveStore(ctx context.Context, stage string) (store.Store, error) {
	dsn := os.Getenv("DATABASE_URL")

	if dsn == "" && (stage == StageProd || stage == StageDev) {
		secretsClient, err := awsclient.NewSecretsManagerClient(ctx)
		if err != nil {
			return nil, err
		}
		dsn, err = secretsClient.GetSecretString(ctx, "DATABASE_SECRET_ARN", "DATABASE_URL")
		if err != nil {
			return nil, err
		}
	}

	if dsn == "" {
		logger.Info("No database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	pg, err := store.NewPostgresStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	logger.Info("Connected to Postgres store")
	return pg, nil
}

// InitializeRoutes registers middleware and the API routes on the router.
func InitializeRoutes(router *gin.Engine) {
	router.Use(configureCORS())
	router.Use(middleware.CorrelationIDMiddleware())

	router.GET("/health", handlers.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/auth/nonce", authHandler.GetNonce)

		delegations := v1.Group("/delegations")
		{
			delegations.GET("/authorized", delegationHandler.GetAuthorized)
			delegations.GET("/nonce", delegationHandler.GetNonce)
			delegations.GET("/events", delegationHandler.ListEvents)
			delegations.POST("/grant-by-signature", delegationHandler.GrantBySignature)

			authed := delegations.Group("")
			authed.Use(auth.WalletAuthMiddleware(authService))
			{
				authed.POST("/grant", delegationHandler.GrantDelegate)
				authed.POST("/revoke", delegationHandler.RevokeDelegate)
				authed.POST("/renounce", delegationHandler.RenounceDelegation)
			}
		}
	}
}

// Shutdown releases server-owned resources.
func Shutdown() {
	if dataStore != nil {
		dataStore.Close()
	}
}

// configureCORS returns a configured CORS middleware
func configureCORS() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()

	originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS")
	if originsEnv == "" {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	} else {
		origins := strings.Split(originsEnv, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		corsConfig.AllowOrigins = origins
	}

	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Accept",
		auth.WalletAddressHeader, auth.WalletSignatureHeader,
		middleware.CorrelationIDHeader,
	}
	corsConfig.ExposeHeaders = []string{middleware.CorrelationIDHeader}

	return cors.New(corsConfig)
}
