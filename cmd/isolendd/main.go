package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"isolend/config"
	"isolend/core"
	"isolend/observability/logging"
	"isolend/rpc"
	"isolend/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis manifest (overrides config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ISOLEND_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *genesisFlag != "" {
		cfg.GenesisFile = *genesisFlag
	}

	logger := logging.Setup("isolendd", env, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, cfg, logger)
	if err != nil {
		logger.Error("Failed to start node", slog.Any("error", err))
		os.Exit(1)
	}

	auth := rpc.NewAuthenticator(os.Getenv(cfg.Auth.SecretEnv), cfg.Auth.Issuer, logger)
	if !auth.Enabled() {
		logger.Warn("admin secret not set; admin RPC disabled", "env", cfg.Auth.SecretEnv)
	}
	limiter := rpc.NewRateLimiter(cfg.Limit.RequestsPerSecond, cfg.Limit.Burst)

	server := rpc.NewServer(node, logger, auth, limiter)
	if err := server.Serve(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
