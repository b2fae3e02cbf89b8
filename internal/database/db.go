package database

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"

	"github.com/cardbin/ebay-lister/internal/publisher"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the SQLite database
type DB struct {
	*sql.DB
}

// Account represents an authorized eBay seller account
type Account struct {
	ID            int64     `json:"id"`
	AccountKey    string    `json:"accountKey"` // Unique key: "username_env_marketplace"
	DisplayName   string    `json:"displayName"`
	EbayUserID    string    `json:"ebayUserId"`
	EbayUsername  string    `json:"ebayUsername"`
	Environment   string    `json:"environment"`   // "production" or "sandbox"
	MarketplaceID string    `json:"marketplaceId"` // "EBAY_US"
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PublishAttempt is a stored audit row for a publication run
type PublishAttempt struct {
	ID            int64     `json:"id"`
	AttemptID     string    `json:"attemptId"`
	GroupKey      string    `json:"groupKey"`
	MarketplaceID string    `json:"marketplaceId"`
	SKUs          []string  `json:"skus"`
	State         string    `json:"state"`
	ListingID     string    `json:"listingId,omitempty"`
	Category      string    `json:"category,omitempty"`
	Kind          string    `json:"kind,omitempty"`
	Message       string    `json:"message,omitempty"`
	Remediations  []string  `json:"remediations,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	CompletedAt   time.Time `json:"completedAt"`
}

// Open opens or creates the database
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db}, nil
}

// GetOrCreateAccount gets an account by key or creates it if it doesn't exist
func (db *DB) GetOrCreateAccount(accountKey, displayName, environment, marketplaceID string) (*Account, error) {
	var acc Account
	err := db.QueryRow(`
		SELECT id, account_key, display_name, COALESCE(ebay_user_id, ''), COALESCE(ebay_username, ''),
		       environment, marketplace_id, created_at, updated_at
		FROM accounts
		WHERE account_key = ?
	`, accountKey).Scan(&acc.ID, &acc.AccountKey, &acc.DisplayName, &acc.EbayUserID, &acc.EbayUsername,
		&acc.Environment, &acc.MarketplaceID, &acc.CreatedAt, &acc.UpdatedAt)

	if err == nil {
		return &acc, nil
	}

	if err != sql.ErrNoRows {
		return nil, err
	}

	result, err := db.Exec(`
		INSERT INTO accounts (account_key, display_name, environment, marketplace_id)
		VALUES (?, ?, ?, ?)
	`, accountKey, displayName, environment, marketplaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	acc.ID = id
	acc.AccountKey = accountKey
	acc.DisplayName = displayName
	acc.Environment = environment
	acc.MarketplaceID = marketplaceID
	acc.CreatedAt = time.Now()
	acc.UpdatedAt = time.Now()

	return &acc, nil
}

// UpdateAccountWithEbayInfo updates an account with eBay user information after OAuth
func (db *DB) UpdateAccountWithEbayInfo(accountID int64, ebayUserID, ebayUsername string) error {
	_, err := db.Exec(`
		UPDATE accounts
		SET ebay_user_id = ?, ebay_username = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ebayUserID, ebayUsername, accountID)
	return err
}

// SaveToken encrypts and stores an OAuth token for an account
func (db *DB) SaveToken(accountID int64, token *oauth2.Token, key []byte) error {
	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	encrypted, err := EncryptSecret(string(plaintext), key)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO tokens (account_id, encrypted_token, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id) DO UPDATE SET
			encrypted_token = excluded.encrypted_token,
			updated_at = CURRENT_TIMESTAMP
	`, accountID, encrypted)
	return err
}

// LoadToken retrieves and decrypts an account's OAuth token.
// Returns nil without error when no token is stored.
func (db *DB) LoadToken(accountID int64, key []byte) (*oauth2.Token, error) {
	var encrypted []byte
	err := db.QueryRow(`SELECT encrypted_token FROM tokens WHERE account_id = ?`, accountID).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := DecryptSecret(encrypted, key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(plaintext), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// RecordAttempt stores a finished publication attempt. Implements
// publisher.History.
func (db *DB) RecordAttempt(ctx context.Context, rec publisher.AttemptRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO publish_attempts
			(attempt_id, group_key, marketplace_id, skus, state, listing_id,
			 category, kind, message, remediations, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.AttemptID, rec.GroupKey, rec.MarketplaceID, strings.Join(rec.SKUs, ","),
		string(rec.State), rec.ListingID, rec.Category, rec.Kind, rec.Message,
		strings.Join(rec.Remediations, "\n"), rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record publish attempt: %w", err)
	}
	return nil
}

// GetPublishAttempts returns the most recent attempts, newest first.
// An empty groupKey returns attempts for all groups.
func (db *DB) GetPublishAttempts(groupKey string, limit int) ([]PublishAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, attempt_id, group_key, marketplace_id, skus, state,
		       COALESCE(listing_id, ''), COALESCE(category, ''), COALESCE(kind, ''),
		       COALESCE(message, ''), COALESCE(remediations, ''), started_at, completed_at
		FROM publish_attempts`
	args := []any{}
	if groupKey != "" {
		query += ` WHERE group_key = ?`
		args = append(args, groupKey)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []PublishAttempt
	for rows.Next() {
		var pa PublishAttempt
		var skus, remediations string
		if err := rows.Scan(&pa.ID, &pa.AttemptID, &pa.GroupKey, &pa.MarketplaceID,
			&skus, &pa.State, &pa.ListingID, &pa.Category, &pa.Kind,
			&pa.Message, &remediations, &pa.StartedAt, &pa.CompletedAt); err != nil {
			return nil, err
		}
		if skus != "" {
			pa.SKUs = strings.Split(skus, ",")
		}
		if remediations != "" {
			pa.Remediations = strings.Split(remediations, "\n")
		}
		attempts = append(attempts, pa)
	}
	return attempts, rows.Err()
}
