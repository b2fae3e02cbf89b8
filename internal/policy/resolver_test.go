package policy

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/ebay"
	"github.com/cardbin/ebay-lister/internal/ebay/ebaytest"
)

func newTestResolver(fake *ebaytest.Fake) *Resolver {
	return NewResolver(fake, "EBAY_US", zap.NewNop())
}

func TestResolveExplicitOverridesSkipLookups(t *testing.T) {
	fake := ebaytest.NewFake()
	r := newTestResolver(fake)

	bundle, err := r.Resolve(context.Background(), Overrides{
		PaymentPolicyID:     "pay-x",
		FulfillmentPolicyID: "ful-x",
		ReturnPolicyID:      "ret-x",
		MerchantLocationKey: "loc-x",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if bundle.PaymentPolicyID != "pay-x" || bundle.FulfillmentPolicyID != "ful-x" ||
		bundle.ReturnPolicyID != "ret-x" || bundle.MerchantLocationKey != "loc-x" {
		t.Errorf("overrides not honored: %+v", bundle)
	}
	if len(fake.Requests) != 0 {
		t.Errorf("expected no lookups, got %v", fake.Requests)
	}
}

func TestResolveFirstAvailable(t *testing.T) {
	fake := ebaytest.NewFake()
	r := newTestResolver(fake)

	bundle, err := r.Resolve(context.Background(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if bundle.PaymentPolicyID != "payment-1" {
		t.Errorf("payment = %q, want payment-1", bundle.PaymentPolicyID)
	}
	if bundle.FulfillmentPolicyID != "fulfillment-1" {
		t.Errorf("fulfillment = %q, want fulfillment-1", bundle.FulfillmentPolicyID)
	}
	if bundle.ReturnPolicyID != "return-1" {
		t.Errorf("return = %q, want return-1", bundle.ReturnPolicyID)
	}
	if bundle.MerchantLocationKey != "loc-1" {
		t.Errorf("location = %q, want loc-1", bundle.MerchantLocationKey)
	}
}

// The fulfillment pick prefers a policy that visibly has shipping
// configured, or whose name hints at it, over an arbitrary first entry.
func TestResolvePrefersShippingConfiguredFulfillment(t *testing.T) {
	fake := ebaytest.NewFake()
	configured := fake.FulfillmentPolicies[0]
	fake.FulfillmentPolicies = []ebay.FulfillmentPolicy{
		{FulfillmentPolicyID: "bare-1", Name: "Default"},
		configured,
	}
	r := newTestResolver(fake)

	bundle, err := r.Resolve(context.Background(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if bundle.FulfillmentPolicyID != configured.FulfillmentPolicyID {
		t.Errorf("fulfillment = %q, want %q", bundle.FulfillmentPolicyID, configured.FulfillmentPolicyID)
	}
}

func TestResolveFallsBackToFirstFulfillment(t *testing.T) {
	fake := ebaytest.NewFake()
	fake.FulfillmentPolicies = []ebay.FulfillmentPolicy{
		{FulfillmentPolicyID: "bare-1", Name: "Default"},
		{FulfillmentPolicyID: "bare-2", Name: "Other"},
	}
	r := newTestResolver(fake)

	bundle, err := r.Resolve(context.Background(), Overrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if bundle.FulfillmentPolicyID != "bare-1" {
		t.Errorf("fulfillment = %q, want first entry bare-1", bundle.FulfillmentPolicyID)
	}
}

func TestResolveEmptyCategoryIsConfigError(t *testing.T) {
	cases := []struct {
		name  string
		strip func(*ebaytest.Fake)
	}{
		{"payment", func(f *ebaytest.Fake) { f.PaymentPolicies = nil }},
		{"fulfillment", func(f *ebaytest.Fake) { f.FulfillmentPolicies = nil }},
		{"return", func(f *ebaytest.Fake) { f.ReturnPolicies = nil }},
		{"location", func(f *ebaytest.Fake) { f.Locations = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := ebaytest.NewFake()
			tc.strip(fake)
			r := newTestResolver(fake)

			_, err := r.Resolve(context.Background(), Overrides{})
			if !errors.Is(err, ErrNoneConfigured) {
				t.Errorf("expected ErrNoneConfigured, got %v", err)
			}
		})
	}
}
