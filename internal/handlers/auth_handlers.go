package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyphera/delegation-registry/internal/auth"
	"github.com/cyphera/delegation-registry/internal/logger"
)

// AuthHandler issues login nonces for wallet-based authentication.
type AuthHandler struct {
	service *auth.Service
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger.Log,
	}
}

// GetNonce godoc
// @Summary      Get authentication nonce
// @Description  Issues a one-time nonce the wallet must personal-sign to authenticate
// @Tags         authentication
// @Produce      json
// @Param        address  query  string  true  "Wallet address"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  ErrorResponse
// @Router       /auth/nonce [get]
func (h *AuthHandler) GetNonce(c *gin.Context) {
	address, ok := parseAddress(c.Query("address"))
	if !ok {
		sendError(c, http.StatusBadRequest, "Invalid wallet address", nil)
		return
	}

	nonce, err := h.service.IssueNonce(address)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to issue nonce", err)
		return
	}

	sendSuccess(c, http.StatusOK, gin.H{
		"nonce":   nonce,
		"message": auth.LoginMessage(address, nonce),
	})
}
