package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/cache"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/credentials"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/email"
)

var (
	version = "dev"

	configPath  = flag.String("config", "", "Path to the configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("tuimail sync daemon version %s\n", version)
		os.Exit(0)
	}

	// A .env file may carry TUIMAIL_* overrides and passwords; its absence
	// is not an error.
	_ = godotenv.Load()

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithField("version", version).Info("Starting tuimail sync daemon")

	// Initialize cache
	emailCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer emailCache.Close()

	store := cache.NewStore(emailCache, logger)
	creds := credentials.NewKeyringStore()

	client := email.NewClient(cfg, store, creds, logger)
	defer client.Close()

	// Periodic sync in the background, plus an IDLE watcher per account so
	// new inbox mail lands in the cache without waiting for the next pass.
	client.StartBackgroundCoordinator()
	for i := range cfg.Accounts {
		account := &cfg.Accounts[i]
		if err := client.StartIdleWatcher(account.Name, "INBOX"); err != nil {
			logger.WithError(err).WithField("account", account.Name).
				Warn("Failed to start IDLE watcher")
		}
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithField("signal", sig).Info("Received shutdown signal")

	logger.Info("Shutting down tuimail sync daemon")
}
