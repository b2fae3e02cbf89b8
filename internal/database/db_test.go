package database

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/cardbin/ebay-lister/internal/publisher"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	secret := `{"access_token":"v^1.1#i^1#abc","refresh_token":"v^1.1#r^1"}`

	encrypted, err := EncryptSecret(secret, key)
	if err != nil {
		t.Fatalf("encrypting: %v", err)
	}
	if string(encrypted) == secret {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := DecryptSecret(encrypted, key)
	if err != nil {
		t.Fatalf("decrypting: %v", err)
	}
	if decrypted != secret {
		t.Errorf("round trip mismatch: got %q", decrypted)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	encrypted, err := EncryptSecret("secret", testKey(t))
	if err != nil {
		t.Fatalf("encrypting: %v", err)
	}
	if _, err := DecryptSecret(encrypted, testKey(t)); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}

func TestSaveLoadToken(t *testing.T) {
	db := openTestDB(t)
	key := testKey(t)

	acc, err := db.GetOrCreateAccount("seller_production_EBAY_US", "seller Production", "production", "EBAY_US")
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}

	token := &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(2 * time.Hour).Truncate(time.Second),
	}
	if err := db.SaveToken(acc.ID, token, key); err != nil {
		t.Fatalf("saving token: %v", err)
	}

	loaded, err := db.LoadToken(acc.ID, key)
	if err != nil {
		t.Fatalf("loading token: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a stored token")
	}
	if loaded.AccessToken != "access-1" || loaded.RefreshToken != "refresh-1" {
		t.Errorf("token mismatch: %+v", loaded)
	}

	missing, err := db.LoadToken(acc.ID+1, key)
	if err != nil {
		t.Fatalf("loading missing token: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for an account without a token, got %+v", missing)
	}
}

func TestSaveTokenOverwrites(t *testing.T) {
	db := openTestDB(t)
	key := testKey(t)

	acc, err := db.GetOrCreateAccount("seller_production_EBAY_US", "seller Production", "production", "EBAY_US")
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}

	for _, access := range []string{"access-1", "access-2"} {
		if err := db.SaveToken(acc.ID, &oauth2.Token{AccessToken: access}, key); err != nil {
			t.Fatalf("saving token %s: %v", access, err)
		}
	}

	loaded, err := db.LoadToken(acc.ID, key)
	if err != nil {
		t.Fatalf("loading token: %v", err)
	}
	if loaded.AccessToken != "access-2" {
		t.Errorf("expected the second token, got %q", loaded.AccessToken)
	}
}

func TestRecordAndGetPublishAttempts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).Truncate(time.Second)
	recs := []publisher.AttemptRecord{
		{
			AttemptID:     "attempt-1",
			GroupKey:      "GRP1",
			MarketplaceID: "EBAY_US",
			SKUs:          []string{"A", "B"},
			State:         publisher.StatePublished,
			ListingID:     "110000000001",
			Remediations:  []string{"re-applied expanded group description after publish rejection"},
			StartedAt:     started,
			CompletedAt:   started.Add(30 * time.Second),
		},
		{
			AttemptID:     "attempt-2",
			GroupKey:      "GRP2",
			MarketplaceID: "EBAY_US",
			SKUs:          []string{"C"},
			State:         publisher.StateFailed,
			Category:      "FATAL",
			Kind:          "fulfillment_policy",
			Message:       "fulfillment policy has no shipping services configured",
			StartedAt:     started.Add(10 * time.Second),
			CompletedAt:   started.Add(20 * time.Second),
		},
	}
	for _, rec := range recs {
		if err := db.RecordAttempt(ctx, rec); err != nil {
			t.Fatalf("recording %s: %v", rec.AttemptID, err)
		}
	}

	all, err := db.GetPublishAttempts("", 10)
	if err != nil {
		t.Fatalf("fetching attempts: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(all))
	}
	if all[0].AttemptID != "attempt-2" {
		t.Errorf("expected newest first, got %s", all[0].AttemptID)
	}

	grp1, err := db.GetPublishAttempts("GRP1", 10)
	if err != nil {
		t.Fatalf("fetching GRP1 attempts: %v", err)
	}
	if len(grp1) != 1 {
		t.Fatalf("expected 1 attempt for GRP1, got %d", len(grp1))
	}
	got := grp1[0]
	if got.State != string(publisher.StatePublished) || got.ListingID != "110000000001" {
		t.Errorf("unexpected row: %+v", got)
	}
	if len(got.SKUs) != 2 || got.SKUs[0] != "A" || got.SKUs[1] != "B" {
		t.Errorf("unexpected skus: %v", got.SKUs)
	}
	if len(got.Remediations) != 1 {
		t.Errorf("unexpected remediations: %v", got.Remediations)
	}
}
