package main

import (
	"log"
	"os"

	"go.uber.org/zap"

	approuters "github.com/vanneszias/Safe-Chat/internal/app_routers"
	"github.com/vanneszias/Safe-Chat/internal/configuration"
)

func main() {
	configPath := os.Getenv("SAFECHAT_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}

	container, err := configuration.BuildContainer(configPath)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer func() {
		if err := container.Close(); err != nil {
			container.Logger.Error("shutdown", zap.Error(err))
		}
	}()

	// Setup routers
	approuters.StartServer(container)
}
