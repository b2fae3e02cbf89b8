package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/config"
	"github.com/cardbin/ebay-lister/internal/database"
	"github.com/cardbin/ebay-lister/internal/ebay"
	"github.com/cardbin/ebay-lister/internal/inventory"
	"github.com/cardbin/ebay-lister/internal/logging"
	"github.com/cardbin/ebay-lister/internal/policy"
	"github.com/cardbin/ebay-lister/internal/publisher"
)

// One-shot publisher: reads a variation listing from a JSON file and
// runs the full publication pipeline against the configured account.
func main() {
	file := flag.String("file", "", "Path to the listing JSON file")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall publish timeout")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: publish -file listing.json")
		os.Exit(1)
	}

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

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read listing file: %v\n", err)
		os.Exit(1)
	}

	var listing publisher.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse listing file: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	environment := "production"
	if cfg.Ebay.Sandbox {
		environment = "sandbox"
	}
	accountKey := fmt.Sprintf("default_%s_%s", environment, cfg.Ebay.MarketplaceID)
	account, err := db.GetOrCreateAccount(accountKey, "Default "+environment, environment, cfg.Ebay.MarketplaceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load account: %v\n", err)
		os.Exit(1)
	}

	encryptionKey, err := database.GetEncryptionKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load encryption key: %v\n", err)
		os.Exit(1)
	}
	token, err := db.LoadToken(account.ID, encryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load token: %v\n", err)
		os.Exit(1)
	}
	if token == nil {
		fmt.Fprintln(os.Stderr, "No stored token for this account; run the server and complete the OAuth flow first")
		os.Exit(1)
	}

	ebayClient := ebay.NewClient(cfg.EbayClientConfig(), logger)
	ebayClient.SetToken(token)

	repo := inventory.NewRepository(ebayClient, logger)
	resolver := policy.NewResolver(ebayClient, cfg.Ebay.MarketplaceID, logger)
	pub := publisher.New(repo, resolver, db, logger, cfg.PublisherConfig())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := pub.Publish(ctx, listing)
	if err != nil {
		var pubErr *publisher.PublicationError
		if errors.As(err, &pubErr) {
			logger.Error("publish failed",
				zap.String("groupKey", pubErr.GroupKey),
				zap.String("category", pubErr.Category.String()),
				zap.String("kind", string(pubErr.Kind)),
				zap.Int("code", pubErr.Code),
				zap.String("message", pubErr.Message))
			out, _ := json.MarshalIndent(pubErr, "", "  ")
			fmt.Fprintln(os.Stderr, string(out))
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
