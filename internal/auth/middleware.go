package auth

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

const (
	// WalletAddressHeader carries the claimed account address.
	WalletAddressHeader = "X-Wallet-Address"
	// WalletSignatureHeader carries the personal-sign signature over the
	// issued login nonce message.
	WalletSignatureHeader = "X-Wallet-Signature"

	// WalletAddressKey is the gin context key the verified address is stored
	// under.
	WalletAddressKey = "walletAddress"
)

// WalletAuthMiddleware authenticates requests by wallet signature. On
// success the verified address is available via CallerAddress.
func WalletAuthMiddleware(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawAddress := c.GetHeader(WalletAddressHeader)
		if !common.IsHexAddress(rawAddress) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid wallet address header"})
			return
		}
		address := common.HexToAddress(rawAddress)

		signature, err := hexutil.Decode(c.GetHeader(WalletSignatureHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid wallet signature header"})
			return
		}

		if err := service.VerifyAndConsume(address, signature); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(WalletAddressKey, address)
		c.Next()
	}
}

// CallerAddress returns the wallet address verified by the middleware.
func CallerAddress(c *gin.Context) (common.Address, bool) {
	value, exists := c.Get(WalletAddressKey)
	if !exists {
		return common.Address{}, false
	}
	address, ok := value.(common.Address)
	return address, ok
}
