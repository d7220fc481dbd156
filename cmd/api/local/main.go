//go:build !lambda
// +build !lambda

package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/cyphera/delegation-registry/internal/logger"
	"github.com/cyphera/delegation-registry/internal/server"
)

func main() {
	r := gin.Default()
	server.InitializeHandlers()
	server.InitializeRoutes(r)
	defer server.Shutdown()
	defer logger.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	log.Printf("Server starting on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Error starting server: %v", err)
	}
}
