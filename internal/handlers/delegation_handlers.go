package handlers

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyphera/delegation-registry/internal/auth"
	"github.com/cyphera/delegation-registry/internal/delegation"
	"github.com/cyphera/delegation-registry/internal/logger"
)

// DelegationHandler exposes the registry over HTTP.
type DelegationHandler struct {
	registry *delegation.Registry
	logger   *zap.Logger
}

// NewDelegationHandler creates a new DelegationHandler instance
func NewDelegationHandler(registry *delegation.Registry) *DelegationHandler {
	return &DelegationHandler{
		registry: registry,
		logger:   logger.Log,
	}
}

// GrantRequest is the body for grant and revoke calls; the acting holder is
// the authenticated wallet.
type GrantRequest struct {
	Delegate string `json:"delegate" binding:"required"`
}

// RenounceRequest is the body for renounce calls; the acting delegate is the
// authenticated wallet.
type RenounceRequest struct {
	Holder string `json:"holder" binding:"required"`
}

// GrantBySignatureRequest carries an off-line signed authorization. Anyone
// may relay it; the signature itself proves the holder's intent.
type GrantBySignatureRequest struct {
	Holder    string `json:"holder" binding:"required"`
	Delegate  string `json:"delegate" binding:"required"`
	Deadline  uint64 `json:"deadline" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// GetAuthorized godoc
// @Summary      Check delegation authorization
// @Description  Reports whether caller may act on behalf of holder
// @Tags         delegations
// @Produce      json
// @Param        holder  query  string  true  "Holder address"
// @Param        caller  query  string  true  "Caller address"
// @Success      200  {object}  map[string]bool
// @Failure      400  {object}  ErrorResponse
// @Router       /delegations/authorized [get]
func (h *DelegationHandler) GetAuthorized(c *gin.Context) {
	holder, ok := parseAddress(c.Query("holder"))
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid holder address", nil)
		return
	}
	caller, ok := parseAddress(c.Query("caller"))
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid caller address", nil)
		return
	}

	authorized, err := h.registry.IsAuthorized(c.Request.Context(), holder, caller)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to check authorization", err)
		return
	}

	sendSuccess(c, http.StatusOK, gin.H{"authorized": authorized})
}

// GetNonce godoc
// @Summary      Get authorization nonce
// @Description  Returns the holder's current nonce, the value the next signed authorization must embed
// @Tags         delegations
// @Produce      json
// @Param        holder  query  string  true  "Holder address"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Router       /delegations/nonce [get]
func (h *DelegationHandler) GetNonce(c *gin.Context) {
	holder, ok := parseAddress(c.Query("holder"))
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid holder address", nil)
		return
	}

	nonce, err := h.registry.Nonce(c.Request.Context(), holder)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to read nonce", err)
		return
	}

	sendSuccess(c, http.StatusOK, gin.H{
		"holder": holder.Hex(),
		"nonce":  nonce,
	})
}

// GrantDelegate godoc
// @Summary      Grant delegation
// @Description  Activates a grant from the authenticated holder to the delegate
// @Tags         delegations
// @Accept       json
// @Produce      json
// @Param        request  body  GrantRequest  true  "Grant request"
// @Success      200  {object}  SuccessResponse
// @Failure      400  {object}  ErrorResponse
// @Security     WalletAuth
// @Router       /delegations/grant [post]
func (h *DelegationHandler) GrantDelegate(c *gin.Context) {
	holder, ok := auth.CallerAddress(c)
	if !ok {
		sendError(c, http.StatusUnauthorized, "Wallet authentication required", nil)
		return
	}

	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	delegate, ok := parseAddress(req.Delegate)
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid delegate address", nil)
		return
	}

	if err := h.registry.Grant(c.Request.Context(), holder, delegate); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to grant delegation", err)
		return
	}

	sendSuccessMessage(c, http.StatusOK, "Delegation granted")
}

// RevokeDelegate godoc
// @Summary      Revoke delegation
// @Description  Clears a grant from the authenticated holder to the delegate
// @Tags         delegations
// @Accept       json
// @Produce      json
// @Param        request  body  GrantRequest  true  "Revoke request"
// @Success      200  {object}  SuccessResponse
// @Failure      400  {object}  ErrorResponse
// @Security     WalletAuth
// @Router       /delegations/revoke [post]
func (h *DelegationHandler) RevokeDelegate(c *gin.Context) {
	holder, ok := auth.CallerAddress(c)
	if !ok {
		sendError(c, http.StatusUnauthorized, "Wallet authentication required", nil)
		return
	}

	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	delegate, ok := parseAddress(req.Delegate)
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid delegate address", nil)
		return
	}

	if err := h.registry.Revoke(c.Request.Context(), holder, delegate); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to revoke delegation", err)
		return
	}

	sendSuccessMessage(c, http.StatusOK, "Delegation revoked")
}

// RenounceDelegation godoc
// @Summary      Renounce delegation
// @Description  Lets the authenticated delegate drop a grant it no longer wants
// @Tags         delegations
// @Accept       json
// @Produce      json
// @Param        request  body  RenounceRequest  true  "Renounce request"
// @Success      200  {object}  SuccessResponse
// @Failure      400  {object}  ErrorResponse
// @Security     WalletAuth
// @Router       /delegations/renounce [post]
func (h *DelegationHandler) RenounceDelegation(c *gin.Context) {
	delegate, ok := auth.CallerAddress(c)
	if !ok {
		sendError(c, http.StatusUnauthorized, "Wallet authentication required", nil)
		return
	}

	var req RenounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	holder, ok := parseAddress(req.Holder)
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid holder address", nil)
		return
	}

	if err := h.registry.Renounce(c.Request.Context(), delegate, holder); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to renounce delegation", err)
		return
	}

	sendSuccessMessage(c, http.StatusOK, "Delegation renounced")
}

// GrantBySignature godoc
// @Summary      Submit a signed authorization
// @Description  Verifies an off-line signed delegation approval and applies the grant
// @Tags         delegations
// @Accept       json
// @Produce      json
// @Param        request  body  GrantBySignatureRequest  true  "Signed authorization"
// @Success      200  {object}  SuccessResponse
// @Failure      400  {object}  ErrorResponse  "Malformed request or expired authorization"
// @Failure      401  {object}  ErrorResponse  "Signature verification failed"
// @Router       /delegations/grant-by-signature [post]
func (h *DelegationHandler) GrantBySignature(c *gin.Context) {
	var req GrantBySignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	holder, ok := parseAddress(req.Holder)
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid holder address", nil)
		return
	}
	delegate, ok := parseAddress(req.Delegate)
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid delegate address", nil)
		return
	}
	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid signature encoding", err)
		return
	}

	err = h.registry.GrantBySignature(c.Request.Context(), holder, delegate, req.Deadline, signature)
	switch {
	case errors.Is(err, delegation.ErrExpired):
		sendError(c, http.StatusBadRequest, "Authorization expired", err)
	case errors.Is(err, delegation.ErrInvalidSignature):
		sendError(c, http.StatusUnauthorized, "Invalid signature", err)
	case err != nil:
		sendError(c, http.StatusInternalServerError, "Failed to apply authorization", err)
	default:
		sendSuccessMessage(c, http.StatusOK, "Delegation granted")
	}
}

// ListEvents godoc
// @Summary      List recent delegation-changed events
// @Description  Returns the retained ring of delegation-changed events, oldest first
// @Tags         delegations
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /delegations/events [get]
func (h *DelegationHandler) ListEvents(c *gin.Context) {
	events := h.registry.Events().Recent()
	sendSuccess(c, http.StatusOK, gin.H{
		"object": "list",
		"data":   events,
	})
}
