package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"herald/service/config"
	"herald/service/server"
	"herald/service/util"
	"herald/service/vapid"

	"github.com/joho/godotenv"
)

var (
	version = "dev"
)

func init() {
	_ = godotenv.Load() //nolint:errcheck
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("Herald %s\n", version)
			return
		case "keygen":
			if err := runKeygen(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to generate keys: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.VerboseLogging)
	logger.Info("Starting Herald", "version", version)

	if err := runServer(cfg, logger); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, logger *slog.Logger) error {
	srv, err := server.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}

// runKeygen prints a fresh VAPID key pair in .env form. The public key
// goes to browsers; the private key must stay on this server.
func runKeygen() error {
	keys, err := vapid.GenerateKeyPair()
	if err != nil {
		return err
	}

	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", keys.PublicKey)
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", keys.PrivateKey)
	return nil
}
