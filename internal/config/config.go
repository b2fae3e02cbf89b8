package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/cardbin/ebay-lister/internal/ebay"
	"github.com/cardbin/ebay-lister/internal/policy"
	"github.com/cardbin/ebay-lister/internal/publisher"
)

// Config holds everything the binaries need, loaded from environment
// variables with an optional .env file.
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	DBPath      string
	Ebay        EbayConfig
	Publish     PublishConfig
}

// EbayConfig holds API credentials and marketplace selection.
type EbayConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Sandbox       bool
	MarketplaceID string
}

// PublishConfig carries orchestration knobs: policy overrides and the
// propagation/remediation waits.
type PublishConfig struct {
	FulfillmentPolicyID string
	PaymentPolicyID     string
	ReturnPolicyID      string
	MerchantLocationKey string
	PropagationWait     time.Duration
	RemediationWait     time.Duration
	LinkRechecks        int
}

func Load() (*Config, error) {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_PATH", "ebay-lister.db")
	viper.SetDefault("EBAY_MARKETPLACE_ID", "EBAY_US")
	viper.SetDefault("PUBLISH_PROPAGATION_WAIT", "3s")
	viper.SetDefault("PUBLISH_REMEDIATION_WAIT", "10s")
	viper.SetDefault("PUBLISH_LINK_RECHECKS", "3")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Port:        getEnvOrViper("PORT", "8080"),
		Environment: getEnvOrViper("ENVIRONMENT", "development"),
		LogLevel:    getEnvOrViper("LOG_LEVEL", "info"),
		DBPath:      getEnvOrViper("DB_PATH", "ebay-lister.db"),
		Ebay: EbayConfig{
			ClientID:      getEnvOrViper("EBAY_CLIENT_ID", ""),
			ClientSecret:  getEnvOrViper("EBAY_CLIENT_SECRET", ""),
			RedirectURI:   getEnvOrViper("EBAY_REDIRECT_URI", ""),
			Sandbox:       getEnvOrViper("EBAY_SANDBOX", "false") == "true",
			MarketplaceID: getEnvOrViper("EBAY_MARKETPLACE_ID", "EBAY_US"),
		},
		Publish: PublishConfig{
			FulfillmentPolicyID: getEnvOrViper("EBAY_FULFILLMENT_POLICY_ID", ""),
			PaymentPolicyID:     getEnvOrViper("EBAY_PAYMENT_POLICY_ID", ""),
			ReturnPolicyID:      getEnvOrViper("EBAY_RETURN_POLICY_ID", ""),
			MerchantLocationKey: getEnvOrViper("EBAY_MERCHANT_LOCATION_KEY", ""),
			PropagationWait:     getDurationOrViper("PUBLISH_PROPAGATION_WAIT", 3*time.Second),
			RemediationWait:     getDurationOrViper("PUBLISH_REMEDIATION_WAIT", 10*time.Second),
			LinkRechecks:        viper.GetInt("PUBLISH_LINK_RECHECKS"),
		},
	}

	if cfg.Ebay.ClientID == "" {
		return nil, fmt.Errorf("EBAY_CLIENT_ID is required")
	}
	if cfg.Ebay.ClientSecret == "" {
		return nil, fmt.Errorf("EBAY_CLIENT_SECRET is required")
	}

	return cfg, nil
}

// EbayClientConfig translates loaded settings into the transport's config.
func (c *Config) EbayClientConfig() ebay.Config {
	return ebay.Config{
		ClientID:     c.Ebay.ClientID,
		ClientSecret: c.Ebay.ClientSecret,
		RedirectURI:  c.Ebay.RedirectURI,
		Sandbox:      c.Ebay.Sandbox,
		Retry:        ebay.DefaultRetryConfig,
	}
}

// PublisherConfig translates loaded settings into the orchestrator's config.
func (c *Config) PublisherConfig() publisher.Config {
	return publisher.Config{
		MarketplaceID:   c.Ebay.MarketplaceID,
		PropagationWait: c.Publish.PropagationWait,
		RemediationWait: c.Publish.RemediationWait,
		LinkRechecks:    c.Publish.LinkRechecks,
		Overrides: policy.Overrides{
			FulfillmentPolicyID: c.Publish.FulfillmentPolicyID,
			PaymentPolicyID:     c.Publish.PaymentPolicyID,
			ReturnPolicyID:      c.Publish.ReturnPolicyID,
			MerchantLocationKey: c.Publish.MerchantLocationKey,
		},
	}
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getDurationOrViper(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	if viper.IsSet(key) {
		if d := viper.GetDuration(key); d > 0 {
			return d
		}
	}
	return defaultValue
}
