package main

import (
	"context"
	"fmt"
	"os"

	"github.com/doctalk/doctalk-backend/internal/app"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/observability"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	cfg, err := app.LoadConfig(log)
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}

	shutdownOTel := observability.InitOTel(ctx, log, observability.Config{
		ServiceName: "doctalk-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	if shutdownOTel != nil {
		defer func() {
			if err := shutdownOTel(context.Background()); err != nil {
				log.Warn("OTel shutdown failed", "error", err)
			}
		}()
	}

	application, err := app.New(ctx, log, cfg)
	if err != nil {
		log.Fatal("App init failed", "error", err)
	}
	defer application.Close()

	log.Info("Server listening", "port", cfg.Port)
	if err := application.Router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
