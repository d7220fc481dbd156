package handlers_test

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/delegation-registry/internal/auth"
	"github.com/cyphera/delegation-registry/internal/delegation"
	"github.com/cyphera/delegation-registry/internal/eip712"
	"github.com/cyphera/delegation-registry/internal/handlers"
	"github.com/cyphera/delegation-registry/internal/logger"
	"github.com/cyphera/delegation-registry/internal/store"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	registry *delegation.Registry
	auth     *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	domain := eip712.Domain{
		Name:              "DelegationRegistry",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
	}
	registry := delegation.NewRegistry(domain, store.NewMemoryStore())
	authService := auth.NewService()

	delegationHandler := handlers.NewDelegationHandler(registry)
	authHandler := handlers.NewAuthHandler(authService)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/auth/nonce", authHandler.GetNonce)

	delegations := v1.Group("/delegations")
	delegations.GET("/authorized", delegationHandler.GetAuthorized)
	delegations.GET("/nonce", delegationHandler.GetNonce)
	delegations.GET("/events", delegationHandler.ListEvents)
	delegations.POST("/grant-by-signature", delegationHandler.GrantBySignature)

	authed := delegations.Group("")
	authed.Use(auth.WalletAuthMiddleware(authService))
	authed.POST("/grant", delegationHandler.GrantDelegate)
	authed.POST("/revoke", delegationHandler.RevokeDelegate)
	authed.POST("/renounce", delegationHandler.RenounceDelegation)

	return &testServer{router: router, registry: registry, auth: authService}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// authHeaders performs the login flow for key and returns the wallet auth
// headers for one authenticated request.
func (ts *testServer) authHeaders(t *testing.T, key *ecdsa.PrivateKey) map[string]string {
	t.Helper()

	address := crypto.PubkeyToAddress(key.PublicKey)

	w := ts.do(t, http.MethodGet, "/api/v1/auth/nonce?address="+address.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Nonce   string `json:"nonce"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	signature, err := crypto.Sign(accounts.TextHash([]byte(body.Message)), key)
	require.NoError(t, err)

	return map[string]string{
		auth.WalletAddressHeader:   address.Hex(),
		auth.WalletSignatureHeader: hexutil.Encode(signature),
	}
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func TestGetAuthorized(t *testing.T) {
	ts := newTestServer(t)
	_, holder := newKey(t)
	_, caller := newKey(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "self is always authorized",
			query:      fmt.Sprintf("holder=%s&caller=%s", holder.Hex(), holder.Hex()),
			wantStatus: http.StatusOK,
			wantBody:   `"authorized":true`,
		},
		{
			name:       "stranger is not authorized",
			query:      fmt.Sprintf("holder=%s&caller=%s", holder.Hex(), caller.Hex()),
			wantStatus: http.StatusOK,
			wantBody:   `"authorized":false`,
		},
		{
			name:       "invalid holder address",
			query:      fmt.Sprintf("holder=nonsense&caller=%s", caller.Hex()),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing caller address",
			query:      fmt.Sprintf("holder=%s", holder.Hex()),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, "/api/v1/delegations/authorized?"+tt.query, nil, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestGrantRevokeOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	holderKey, holder := newKey(t)
	_, delegate := newKey(t)

	// Grant requires wallet auth.
	w := ts.do(t, http.MethodPost, "/api/v1/delegations/grant",
		handlers.GrantRequest{Delegate: delegate.Hex()}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/delegations/grant",
		handlers.GrantRequest{Delegate: delegate.Hex()}, ts.authHeaders(t, holderKey))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/delegations/authorized?holder=%s&caller=%s", holder.Hex(), delegate.Hex()), nil, nil)
	assert.Contains(t, w.Body.String(), `"authorized":true`)

	// Each authenticated request needs a fresh login nonce.
	w = ts.do(t, http.MethodPost, "/api/v1/delegations/revoke",
		handlers.GrantRequest{Delegate: delegate.Hex()}, ts.authHeaders(t, holderKey))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/delegations/authorized?holder=%s&caller=%s", holder.Hex(), delegate.Hex()), nil, nil)
	assert.Contains(t, w.Body.String(), `"authorized":false`)
}

func TestRenounceOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	holderKey, holder := newKey(t)
	delegateKey, delegate := newKey(t)

	w := ts.do(t, http.MethodPost, "/api/v1/delegations/grant",
		handlers.GrantRequest{Delegate: delegate.Hex()}, ts.authHeaders(t, holderKey))
	require.Equal(t, http.StatusOK, w.Code)

	// The delegate drops the grant itself.
	w = ts.do(t, http.MethodPost, "/api/v1/delegations/renounce",
		handlers.RenounceRequest{Holder: holder.Hex()}, ts.authHeaders(t, delegateKey))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/delegations/authorized?holder=%s&caller=%s", holder.Hex(), delegate.Hex()), nil, nil)
	assert.Contains(t, w.Body.String(), `"authorized":false`)
}

func TestGrantBySignatureOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	holderKey, holder := newKey(t)
	_, delegate := newKey(t)

	deadline := uint64(time.Now().Add(time.Hour).Unix())
	authz := delegation.Authorization{
		Holder:   holder,
		Delegate: delegate,
		Nonce:    0,
		Deadline: deadline,
	}
	signature, err := crypto.Sign(authz.SigningHash(ts.registry.DomainSeparator()).Bytes(), holderKey)
	require.NoError(t, err)

	request := handlers.GrantBySignatureRequest{
		Holder:    holder.Hex(),
		Delegate:  delegate.Hex(),
		Deadline:  deadline,
		Signature: hexutil.Encode(signature),
	}

	// Anyone may relay the signed authorization, no wallet auth headers.
	w := ts.do(t, http.MethodPost, "/api/v1/delegations/grant-by-signature", request, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/delegations/authorized?holder=%s&caller=%s", holder.Hex(), delegate.Hex()), nil, nil)
	assert.Contains(t, w.Body.String(), `"authorized":true`)

	w = ts.do(t, http.MethodGet, "/api/v1/delegations/nonce?holder="+holder.Hex(), nil, nil)
	assert.Contains(t, w.Body.String(), `"nonce":1`)

	// Replaying the same signature fails and changes nothing.
	w = ts.do(t, http.MethodPost, "/api/v1/delegations/grant-by-signature", request, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGrantBySignatureOverHTTP_Expired(t *testing.T) {
	ts := newTestServer(t)

	holderKey, holder := newKey(t)
	_, delegate := newKey(t)

	deadline := uint64(time.Now().Add(-time.Minute).Unix())
	authz := delegation.Authorization{
		Holder:   holder,
		Delegate: delegate,
		Nonce:    0,
		Deadline: deadline,
	}
	signature, err := crypto.Sign(authz.SigningHash(ts.registry.DomainSeparator()).Bytes(), holderKey)
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/api/v1/delegations/grant-by-signature", handlers.GrantBySignatureRequest{
		Holder:    holder.Hex(),
		Delegate:  delegate.Hex(),
		Deadline:  deadline,
		Signature: hexutil.Encode(signature),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestListEvents(t *testing.T) {
	ts := newTestServer(t)

	holderKey, holder := newKey(t)
	_, delegate := newKey(t)

	w := ts.do(t, http.MethodPost, "/api/v1/delegations/grant",
		handlers.GrantRequest{Delegate: delegate.Hex()}, ts.authHeaders(t, holderKey))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/delegations/events", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":true`)
	// Addresses serialize as lowercase hex.
	assert.Contains(t, strings.ToLower(w.Body.String()), strings.ToLower(holder.Hex()))
}
