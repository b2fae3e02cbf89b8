package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/classify"
	"github.com/cardbin/ebay-lister/internal/ebay"
	"github.com/cardbin/ebay-lister/internal/ebay/ebaytest"
	"github.com/cardbin/ebay-lister/internal/inventory"
	"github.com/cardbin/ebay-lister/internal/policy"
)

func newTestPublisher(t *testing.T, fake *ebaytest.Fake, history History) *Publisher {
	t.Helper()
	logger := zap.NewNop()
	repo := inventory.NewRepository(fake, logger)
	resolver := policy.NewResolver(fake, "EBAY_US", logger)
	p := New(repo, resolver, history, logger, Config{})
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func threeCardListing() Listing {
	return Listing{
		GroupKey:    "GRP1",
		Title:       "1989 Baseball Star Cards",
		Description: "A set of near-mint 1989 baseball cards from a smoke-free collection, see photos.",
		VariesBy:    "Card Number",
		CategoryID:  "261328",
		Variants: []Variant{
			{SKU: "A", AspectValue: "101", Price: "9.99", Quantity: 1},
			{SKU: "B", AspectValue: "102", Price: "12.50", Quantity: 1},
			{SKU: "C", AspectValue: "103", Price: "7.25", Quantity: 2},
		},
	}
}

func TestPublishHappyPath(t *testing.T) {
	fake := ebaytest.NewFake()
	p := newTestPublisher(t, fake, nil)

	result, err := p.Publish(context.Background(), threeCardListing())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result.ListingID == "" {
		t.Fatal("expected non-empty listing id")
	}

	group := fake.Groups["GRP1"]
	if group == nil {
		t.Fatal("group was not created")
	}
	got := append([]string(nil), group.VariantSKUs...)
	sort.Strings(got)
	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("group members = %v, want %v", got, want)
		}
	}

	repo := inventory.NewRepository(fake, zap.NewNop())
	offer, err := repo.GetOfferBySKU(context.Background(), "A", "EBAY_US")
	if err != nil || offer == nil {
		t.Fatalf("GetOfferBySKU(A): offer=%v err=%v", offer, err)
	}
	if offer.Status != ebay.OfferStatusPublished {
		t.Errorf("offer status = %q, want PUBLISHED", offer.Status)
	}
	if offer.InventoryItemGroupKey != "GRP1" {
		t.Errorf("offer group key = %q, want GRP1", offer.InventoryItemGroupKey)
	}
}

func TestPublishSynthesizesShortDescriptions(t *testing.T) {
	fake := ebaytest.NewFake()
	p := newTestPublisher(t, fake, nil)

	listing := threeCardListing()
	listing.Description = "short"
	listing.Variants[0].Description = "tiny"

	if _, err := p.Publish(context.Background(), listing); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	group := fake.Groups["GRP1"]
	if group.GroupDetail == nil || len(group.GroupDetail.Description) < 50 {
		t.Fatalf("group description was not synthesized to >= 50 chars: %+v", group.GroupDetail)
	}
	for _, o := range fake.Offers {
		if len(o.ListingDescription) < 50 {
			t.Errorf("offer %s description shorter than 50 chars: %q", o.SKU, o.ListingDescription)
		}
	}
}

func TestPublishDescriptionAutoRepair(t *testing.T) {
	fake := ebaytest.NewFake()
	// First publish is rejected with the description code even though the
	// group holds a valid description; the second goes through.
	fake.PublishFailures = []*ebay.APIError{{
		StatusCode: http.StatusBadRequest,
		Errors: []ebay.ErrorDetail{{
			ErrorID: classify.CodeDescriptionInvalid,
			Message: "Invalid value for field groupDetail.description: a listing description is required",
		}},
	}}
	p := newTestPublisher(t, fake, nil)

	result, err := p.Publish(context.Background(), threeCardListing())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if fake.PublishCalls != 2 {
		t.Errorf("publish calls = %d, want 2", fake.PublishCalls)
	}
	found := false
	for _, r := range result.Remediations {
		if r == "re-applied expanded group description after publish rejection" {
			found = true
		}
	}
	if !found {
		t.Errorf("remediation trail missing description repair: %v", result.Remediations)
	}
}

func TestPublishDescriptionRepairBounded(t *testing.T) {
	fake := ebaytest.NewFake()
	reject := &ebay.APIError{
		StatusCode: http.StatusBadRequest,
		Errors: []ebay.ErrorDetail{{
			ErrorID: classify.CodeDescriptionInvalid,
			Message: "Invalid value for field groupDetail.description",
		}},
	}
	fake.PublishFailures = []*ebay.APIError{reject, reject}
	p := newTestPublisher(t, fake, nil)

	_, err := p.Publish(context.Background(), threeCardListing())
	var pubErr *PublicationError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *PublicationError, got %v", err)
	}
	if pubErr.Category != classify.ValidationFixable || pubErr.Kind != classify.KindDescriptionMissing {
		t.Errorf("got %v/%v, want ValidationFixable/description_missing", pubErr.Category, pubErr.Kind)
	}
	// Exactly one repair, then surface. Never a third publish call.
	if fake.PublishCalls != 2 {
		t.Errorf("publish calls = %d, want 2", fake.PublishCalls)
	}
}

func TestPublishFatalFulfillmentPolicy(t *testing.T) {
	fake := ebaytest.NewFake()
	fake.FulfillmentPolicies[0].ShippingOptions = nil
	p := newTestPublisher(t, fake, nil)

	_, err := p.Publish(context.Background(), threeCardListing())
	var pubErr *PublicationError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *PublicationError, got %v", err)
	}
	if pubErr.Category != classify.Fatal || pubErr.Kind != classify.KindFulfillmentPolicy {
		t.Errorf("got %v/%v, want Fatal/fulfillment_policy_invalid", pubErr.Category, pubErr.Kind)
	}
	if fake.PublishCalls != 1 {
		t.Errorf("publish calls = %d, want 1 (no retries for fatal config)", fake.PublishCalls)
	}
	if want := "fulfillment-1"; !strings.Contains(pubErr.Message, want) {
		t.Errorf("error message %q does not name the offending policy %q", pubErr.Message, want)
	}
}

func TestPublishRecreatesOfferCreatedBeforeGroup(t *testing.T) {
	fake := ebaytest.NewFake()
	logger := zap.NewNop()
	repo := inventory.NewRepository(fake, logger)

	// An offer for SKU X exists before the group does, so it can never have
	// picked up the group link.
	if err := repo.UpsertItem(context.Background(), ebay.InventoryItem{SKU: "X", Product: &ebay.Product{Title: "Card X"}}); err != nil {
		t.Fatal(err)
	}
	orphan, err := repo.UpsertOffer(context.Background(), ebay.Offer{
		SKU:            "X",
		MarketplaceID:  "EBAY_US",
		PricingSummary: &ebay.PricingSummary{Price: &ebay.Amount{Value: "5.00", Currency: "USD"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	listing := threeCardListing()
	listing.GroupKey = "G"
	listing.Variants = []Variant{
		{SKU: "X", AspectValue: "201", Price: "5.00", Quantity: 1},
		{SKU: "Y", AspectValue: "202", Price: "6.00", Quantity: 1},
	}

	p := newTestPublisher(t, fake, nil)
	if _, err := p.Publish(context.Background(), listing); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, exists := fake.Offers[orphan.OfferID]; exists {
		t.Errorf("orphaned offer %s was not deleted", orphan.OfferID)
	}
	got, err := repo.GetOfferBySKU(context.Background(), "X", "EBAY_US")
	if err != nil || got == nil {
		t.Fatalf("GetOfferBySKU(X): offer=%v err=%v", got, err)
	}
	if got.InventoryItemGroupKey != "G" {
		t.Errorf("recreated offer group key = %q, want G", got.InventoryItemGroupKey)
	}
	if got.OfferID == orphan.OfferID {
		t.Error("offer was patched in place; the link is only set at creation and must be recreated")
	}
}

func TestPublishToleratesLinkPropagationDelay(t *testing.T) {
	fake := ebaytest.NewFake()
	// Fresh links stay invisible for two read-backs.
	fake.LinkPropagationReads = 2

	p := newTestPublisher(t, fake, nil)
	var waits []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if _, err := p.Publish(context.Background(), threeCardListing()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Escalation: later rechecks wait longer than the first.
	if len(waits) < 2 {
		t.Fatalf("expected multiple waits, got %v", waits)
	}
	escalated := false
	for i := 1; i < len(waits); i++ {
		if waits[i] > waits[0] {
			escalated = true
		}
	}
	if !escalated {
		t.Errorf("waits never escalated: %v", waits)
	}
}

func TestPublishNoPoliciesIsFatal(t *testing.T) {
	fake := ebaytest.NewFake()
	fake.PaymentPolicies = nil
	p := newTestPublisher(t, fake, nil)

	_, err := p.Publish(context.Background(), threeCardListing())
	var pubErr *PublicationError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *PublicationError, got %v", err)
	}
	if pubErr.Category != classify.Fatal || pubErr.Kind != classify.KindNoPolicies {
		t.Errorf("got %v/%v, want Fatal/no_policies_configured", pubErr.Category, pubErr.Kind)
	}
	if fake.PublishCalls != 0 {
		t.Errorf("publish calls = %d, want 0", fake.PublishCalls)
	}
}

func TestPublishSurfacesRetryExhaustion(t *testing.T) {
	fake := ebaytest.NewFake()
	p := newTestPublisher(t, fake, nil)
	// The transport gave up after its retry budget while writing items.
	repo := inventory.NewRepository(&exhaustedTransport{inner: fake}, zap.NewNop())
	p.repo = repo

	_, err := p.Publish(context.Background(), threeCardListing())
	var pubErr *PublicationError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *PublicationError, got %v", err)
	}
	if pubErr.Category != classify.Transient || pubErr.Kind != classify.KindRetryExhausted {
		t.Errorf("got %v/%v, want Transient/retry_exhausted", pubErr.Category, pubErr.Kind)
	}
	if pubErr.SKU == "" {
		t.Error("error does not name the failing SKU")
	}
}

func TestPublishRejectsInvalidPlans(t *testing.T) {
	fake := ebaytest.NewFake()
	p := newTestPublisher(t, fake, nil)

	single := threeCardListing()
	single.Variants = single.Variants[:1]
	if _, err := p.Publish(context.Background(), single); err == nil {
		t.Error("expected error for single-variant listing")
	}

	badKey := threeCardListing()
	badKey.GroupKey = "no spaces allowed"
	if _, err := p.Publish(context.Background(), badKey); err == nil {
		t.Error("expected error for invalid group key")
	}

	dup := threeCardListing()
	dup.Variants[1].SKU = dup.Variants[0].SKU
	if _, err := p.Publish(context.Background(), dup); err == nil {
		t.Error("expected error for duplicate SKUs")
	}
}

func TestPublishRecordsHistory(t *testing.T) {
	fake := ebaytest.NewFake()
	rec := &recordingHistory{}
	p := newTestPublisher(t, fake, rec)

	if _, err := p.Publish(context.Background(), threeCardListing()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(rec.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.State != StatePublished || r.ListingID == "" || r.GroupKey != "GRP1" {
		t.Errorf("unexpected record: %+v", r)
	}

	// A failed attempt is recorded too, with category and message.
	fake.PaymentPolicies = nil
	listing := threeCardListing()
	listing.GroupKey = "GRP2"
	if _, err := p.Publish(context.Background(), listing); err == nil {
		t.Fatal("expected failure")
	}
	if len(rec.records) != 2 {
		t.Fatalf("history records = %d, want 2", len(rec.records))
	}
	if rec.records[1].State != StateFailed || rec.records[1].Category != "fatal" {
		t.Errorf("unexpected failure record: %+v", rec.records[1])
	}
}

type recordingHistory struct {
	records []AttemptRecord
}

func (r *recordingHistory) RecordAttempt(_ context.Context, rec AttemptRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type exhaustedTransport struct {
	inner ebay.Transport
}

func (e *exhaustedTransport) Request(ctx context.Context, method, path string, query url.Values, body any, opts ...ebay.RequestOption) (*ebay.Response, error) {
	return nil, fmt.Errorf("%s %s gave status 429 after 3 attempts: %w", method, path, ebay.ErrRetryExhausted)
}
