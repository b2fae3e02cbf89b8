package main

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/config"
	"github.com/cardbin/ebay-lister/internal/database"
	"github.com/cardbin/ebay-lister/internal/ebay"
	"github.com/cardbin/ebay-lister/internal/handlers"
	"github.com/cardbin/ebay-lister/internal/inventory"
	"github.com/cardbin/ebay-lister/internal/logging"
	"github.com/cardbin/ebay-lister/internal/policy"
	"github.com/cardbin/ebay-lister/internal/publisher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("opening database", zap.Error(err))
	}
	defer db.Close()

	environment := "production"
	if cfg.Ebay.Sandbox {
		environment = "sandbox"
	}
	accountKey := fmt.Sprintf("default_%s_%s", environment, cfg.Ebay.MarketplaceID)
	account, err := db.GetOrCreateAccount(accountKey, "Default "+environment, environment, cfg.Ebay.MarketplaceID)
	if err != nil {
		logger.Fatal("loading account", zap.Error(err))
	}

	ebayClient := ebay.NewClient(cfg.EbayClientConfig(), logger)

	// A stored token survives restarts; without one the OAuth flow has
	// to run before any API call.
	encryptionKey, err := database.GetEncryptionKey()
	if err != nil {
		logger.Warn("token persistence disabled", zap.Error(err))
		encryptionKey = nil
	} else if token, err := db.LoadToken(account.ID, encryptionKey); err != nil {
		logger.Warn("loading stored token", zap.Error(err))
	} else if token != nil {
		ebayClient.SetToken(token)
		logger.Info("loaded stored token", zap.String("account", account.AccountKey))
	}

	repo := inventory.NewRepository(ebayClient, logger)
	resolver := policy.NewResolver(ebayClient, cfg.Ebay.MarketplaceID, logger)
	pub := publisher.New(repo, resolver, db, logger, cfg.PublisherConfig())

	h := handlers.NewHandler(db, ebayClient, pub, resolver, account, encryptionKey, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", h.HealthCheck)
	mux.HandleFunc("/api/auth/url", h.GetAuthURL)
	mux.HandleFunc("/api/auth/status", h.GetAuthStatus)
	mux.HandleFunc("/api/oauth/callback", h.OAuthCallback)
	mux.HandleFunc("/api/policies", h.GetPolicies)
	mux.HandleFunc("/api/publish", h.PublishListing)
	mux.HandleFunc("/api/publish/history", h.GetPublishHistory)

	addr := ":" + cfg.Port
	logger.Info("starting ebay-lister",
		zap.String("addr", addr),
		zap.Bool("sandbox", cfg.Ebay.Sandbox),
		zap.String("marketplace", cfg.Ebay.MarketplaceID))

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
