// Package policy resolves the business-policy identifiers an offer needs
// before it can be published: payment, fulfillment, and return policy ids
// plus a merchant location key.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/ebay"
)

const (
	fulfillmentPolicyPath = "/sell/account/v1/fulfillment_policy"
	paymentPolicyPath     = "/sell/account/v1/payment_policy"
	returnPolicyPath      = "/sell/account/v1/return_policy"
	locationPath          = "/sell/inventory/v1/location"
)

// ErrNoneConfigured marks a policy category with zero entries and no
// explicit override. Nothing can be repaired automatically here; the account
// needs policies created out-of-band.
var ErrNoneConfigured = errors.New("no policies configured")

// Overrides carries explicitly configured identifiers. Empty fields fall
// back to first-available resolution.
type Overrides struct {
	PaymentPolicyID     string
	FulfillmentPolicyID string
	ReturnPolicyID      string
	MerchantLocationKey string
}

// Bundle is the complete set of identifiers an offer needs.
type Bundle struct {
	PaymentPolicyID     string
	FulfillmentPolicyID string
	ReturnPolicyID      string
	MerchantLocationKey string
}

// Resolver looks up policies for one marketplace.
type Resolver struct {
	transport     ebay.Transport
	marketplaceID string
	logger        *zap.Logger
}

// NewResolver creates a resolver for the given marketplace.
func NewResolver(transport ebay.Transport, marketplaceID string, logger *zap.Logger) *Resolver {
	return &Resolver{transport: transport, marketplaceID: marketplaceID, logger: logger}
}

// Resolve fills a Bundle from the overrides, querying the marketplace for
// any category left unset. A category with zero entries and no override is a
// configuration error wrapping ErrNoneConfigured.
func (r *Resolver) Resolve(ctx context.Context, ov Overrides) (*Bundle, error) {
	bundle := &Bundle{
		PaymentPolicyID:     ov.PaymentPolicyID,
		FulfillmentPolicyID: ov.FulfillmentPolicyID,
		ReturnPolicyID:      ov.ReturnPolicyID,
		MerchantLocationKey: ov.MerchantLocationKey,
	}

	if bundle.PaymentPolicyID == "" {
		policies, err := r.ListPaymentPolicies(ctx)
		if err != nil {
			return nil, err
		}
		if len(policies) == 0 {
			return nil, fmt.Errorf("payment: %w", ErrNoneConfigured)
		}
		bundle.PaymentPolicyID = policies[0].PaymentPolicyID
	}

	if bundle.FulfillmentPolicyID == "" {
		policies, err := r.ListFulfillmentPolicies(ctx)
		if err != nil {
			return nil, err
		}
		if len(policies) == 0 {
			return nil, fmt.Errorf("fulfillment: %w", ErrNoneConfigured)
		}
		bundle.FulfillmentPolicyID = pickFulfillment(policies).FulfillmentPolicyID
	}

	if bundle.ReturnPolicyID == "" {
		policies, err := r.ListReturnPolicies(ctx)
		if err != nil {
			return nil, err
		}
		if len(policies) == 0 {
			return nil, fmt.Errorf("return: %w", ErrNoneConfigured)
		}
		bundle.ReturnPolicyID = policies[0].ReturnPolicyID
	}

	if bundle.MerchantLocationKey == "" {
		locations, err := r.ListLocations(ctx)
		if err != nil {
			return nil, err
		}
		if len(locations) == 0 {
			return nil, fmt.Errorf("merchant location: %w", ErrNoneConfigured)
		}
		bundle.MerchantLocationKey = locations[0].MerchantLocationKey
	}

	r.logger.Debug("resolved policy bundle",
		zap.String("payment", bundle.PaymentPolicyID),
		zap.String("fulfillment", bundle.FulfillmentPolicyID),
		zap.String("return", bundle.ReturnPolicyID),
		zap.String("location", bundle.MerchantLocationKey))
	return bundle, nil
}

// pickFulfillment prefers a policy whose name hints at configured shipping,
// falling back to the first entry. Policy names are the only cheap signal
// the list endpoint gives about whether shipping services are set up.
func pickFulfillment(policies []ebay.FulfillmentPolicy) ebay.FulfillmentPolicy {
	hints := []string{"ship", "post", "flat", "calculated", "standard"}
	for _, p := range policies {
		if len(p.ShippingOptions) > 0 {
			return p
		}
		name := strings.ToLower(p.Name)
		for _, h := range hints {
			if strings.Contains(name, h) {
				return p
			}
		}
	}
	return policies[0]
}

func (r *Resolver) list(ctx context.Context, path string, out any) error {
	query := url.Values{}
	query.Set("marketplace_id", r.marketplaceID)
	resp, err := r.transport.Request(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return ebay.NewAPIError(resp)
	}
	return json.Unmarshal(resp.Body, out)
}

// ListFulfillmentPolicies retrieves all fulfillment policies for the
// marketplace.
func (r *Resolver) ListFulfillmentPolicies(ctx context.Context) ([]ebay.FulfillmentPolicy, error) {
	var result ebay.FulfillmentPoliciesResponse
	if err := r.list(ctx, fulfillmentPolicyPath, &result); err != nil {
		return nil, err
	}
	return result.FulfillmentPolicies, nil
}

// ListPaymentPolicies retrieves all payment policies for the marketplace.
func (r *Resolver) ListPaymentPolicies(ctx context.Context) ([]ebay.PaymentPolicy, error) {
	var result ebay.PaymentPoliciesResponse
	if err := r.list(ctx, paymentPolicyPath, &result); err != nil {
		return nil, err
	}
	return result.PaymentPolicies, nil
}

// ListReturnPolicies retrieves all return policies for the marketplace.
func (r *Resolver) ListReturnPolicies(ctx context.Context) ([]ebay.ReturnPolicy, error) {
	var result ebay.ReturnPoliciesResponse
	if err := r.list(ctx, returnPolicyPath, &result); err != nil {
		return nil, err
	}
	return result.ReturnPolicies, nil
}

// ListLocations retrieves the merchant's inventory locations.
func (r *Resolver) ListLocations(ctx context.Context) ([]ebay.Location, error) {
	var result ebay.LocationsResponse
	// The location endpoint is account-wide; no marketplace filter.
	resp, err := r.transport.Request(ctx, http.MethodGet, locationPath, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ebay.NewAPIError(resp)
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, err
	}
	return result.Locations, nil
}
