// Package inventory is the CRUD layer over the marketplace's three linked
// listing resources: inventory items, offers, and inventory item groups.
// Every write sends the whole object. The remote API looks like PUT but does
// not support partial updates; fields left out of an update are dropped
// server-side, so each upsert fetches the current object, merges the caller's
// fields over it, and resends everything.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/ebay"
)

const (
	inventoryItemPath = "/sell/inventory/v1/inventory_item/"
	offerPath         = "/sell/inventory/v1/offer"
	groupPath         = "/sell/inventory/v1/inventory_item_group/"
	publishGroupPath  = "/sell/inventory/v1/offer/publish_by_inventory_item_group"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,50}$`)

// ValidKey reports whether s is usable as a SKU or group key.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

// Repository performs resource CRUD against the marketplace. It surfaces raw
// API errors and never waits out propagation delay itself; the orchestrator
// owns that decision.
type Repository struct {
	transport ebay.Transport
	logger    *zap.Logger
}

// NewRepository creates a repository over the given transport.
func NewRepository(transport ebay.Transport, logger *zap.Logger) *Repository {
	return &Repository{transport: transport, logger: logger}
}

func (r *Repository) do(ctx context.Context, method, path string, query url.Values, body, out any, opts ...ebay.RequestOption) error {
	resp, err := r.transport.Request(ctx, method, path, query, body, opts...)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ebay.NewAPIError(resp)
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return nil
}

// UpsertItem creates or fully replaces the inventory item for item.SKU.
// Idempotent: repeating the call with equal input leaves equal remote state.
func (r *Repository) UpsertItem(ctx context.Context, item ebay.InventoryItem) error {
	if !ValidKey(item.SKU) {
		return fmt.Errorf("invalid SKU %q: must match [A-Za-z0-9_]{1,50}", item.SKU)
	}
	if item.Locale == "" {
		item.Locale = "en_US"
	}

	current, err := r.GetItem(ctx, item.SKU)
	if err != nil {
		return err
	}
	if current != nil {
		item = mergeItem(*current, item)
	}

	sku := item.SKU
	item.SKU = "" // keyed by path, not body
	r.logger.Debug("upserting inventory item", zap.String("sku", sku))
	return r.do(ctx, http.MethodPut, inventoryItemPath+url.PathEscape(sku), nil, item, nil)
}

// GetItem returns the inventory item for a SKU, or nil when none exists.
func (r *Repository) GetItem(ctx context.Context, sku string) (*ebay.InventoryItem, error) {
	var item ebay.InventoryItem
	err := r.do(ctx, http.MethodGet, inventoryItemPath+url.PathEscape(sku), nil, nil, &item)
	if err != nil {
		if apiErr, ok := ebay.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if item.SKU == "" {
		item.SKU = sku
	}
	return &item, nil
}

// GetOfferBySKU returns the most recent offer for a SKU on a marketplace, or
// nil when no offer exists yet. Absence is not an error.
func (r *Repository) GetOfferBySKU(ctx context.Context, sku, marketplaceID string) (*ebay.Offer, error) {
	query := url.Values{}
	query.Set("sku", sku)
	query.Set("marketplace_id", marketplaceID)

	var result ebay.OffersResponse
	err := r.do(ctx, http.MethodGet, offerPath, query, nil, &result)
	if err != nil {
		if apiErr, ok := ebay.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(result.Offers) == 0 {
		return nil, nil
	}
	return &result.Offers[0], nil
}

// GetOffer returns one offer by its server-assigned id.
func (r *Repository) GetOffer(ctx context.Context, offerID string) (*ebay.Offer, error) {
	var offer ebay.Offer
	if err := r.do(ctx, http.MethodGet, offerPath+"/"+url.PathEscape(offerID), nil, nil, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// UpsertOffer creates the offer when it has no OfferID, otherwise fully
// replaces it. On update the current remote object is fetched first and the
// listing sub-record (description, policies, pricing) is re-attached even
// when the caller's input omitted it: the marketplace silently drops nested
// listing data on any update that does not resupply it.
func (r *Repository) UpsertOffer(ctx context.Context, offer ebay.Offer) (*ebay.Offer, error) {
	if !ValidKey(offer.SKU) {
		return nil, fmt.Errorf("invalid SKU %q: must match [A-Za-z0-9_]{1,50}", offer.SKU)
	}
	if offer.Format == "" {
		offer.Format = "FIXED_PRICE"
	}
	if offer.ListingDuration == "" {
		offer.ListingDuration = "GTC"
	}

	if offer.OfferID == "" {
		var created ebay.CreateOfferResponse
		r.logger.Debug("creating offer", zap.String("sku", offer.SKU))
		if err := r.do(ctx, http.MethodPost, offerPath, nil, offer, &created); err != nil {
			return nil, err
		}
		offer.OfferID = created.OfferID
		return &offer, nil
	}

	current, err := r.GetOffer(ctx, offer.OfferID)
	if err != nil {
		return nil, err
	}
	merged := mergeOffer(*current, offer)

	r.logger.Debug("replacing offer",
		zap.String("sku", merged.SKU),
		zap.String("offerId", merged.OfferID))
	id := merged.OfferID
	merged.OfferID = ""
	merged.Status = ""
	merged.Listing = nil
	if err := r.do(ctx, http.MethodPut, offerPath+"/"+url.PathEscape(id), nil, merged, nil); err != nil {
		return nil, err
	}
	merged.OfferID = id
	return &merged, nil
}

// UpsertGroup creates or fully replaces a variation group. The marketplace
// only honors a description carried inside the nested groupDetail object; a
// caller-supplied top-level description is relocated there before the write.
func (r *Repository) UpsertGroup(ctx context.Context, group ebay.InventoryItemGroup) error {
	if !ValidKey(group.InventoryItemGroupKey) {
		return fmt.Errorf("invalid group key %q: must match [A-Za-z0-9_]{1,50}", group.InventoryItemGroupKey)
	}

	if group.Description != "" {
		if group.GroupDetail == nil || strings.TrimSpace(group.GroupDetail.Description) == "" {
			group.GroupDetail = &ebay.GroupDetail{Description: group.Description}
		}
		group.Description = ""
	}

	current, err := r.GetGroup(ctx, group.InventoryItemGroupKey)
	if err != nil {
		return err
	}
	if current != nil {
		group = mergeGroup(*current, group)
	}

	key := group.InventoryItemGroupKey
	group.InventoryItemGroupKey = ""
	r.logger.Debug("upserting inventory item group",
		zap.String("groupKey", key),
		zap.Int("members", len(group.VariantSKUs)))
	return r.do(ctx, http.MethodPut, groupPath+url.PathEscape(key), nil, group, nil)
}

// GetGroup returns a variation group by key, or nil when none exists.
func (r *Repository) GetGroup(ctx context.Context, groupKey string) (*ebay.InventoryItemGroup, error) {
	var group ebay.InventoryItemGroup
	err := r.do(ctx, http.MethodGet, groupPath+url.PathEscape(groupKey), nil, nil, &group)
	if err != nil {
		if apiErr, ok := ebay.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if group.InventoryItemGroupKey == "" {
		group.InventoryItemGroupKey = groupKey
	}
	return &group, nil
}

// DeleteOffer removes an offer. Not-found counts as success.
func (r *Repository) DeleteOffer(ctx context.Context, offerID string) error {
	err := r.do(ctx, http.MethodDelete, offerPath+"/"+url.PathEscape(offerID), nil, nil, nil)
	if apiErr, ok := ebay.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// DeleteGroup removes a variation group. Not-found counts as success.
func (r *Repository) DeleteGroup(ctx context.Context, groupKey string) error {
	err := r.do(ctx, http.MethodDelete, groupPath+url.PathEscape(groupKey), nil, nil, nil)
	if apiErr, ok := ebay.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// PublishOffer publishes a single offer. Terminal and not idempotent; the
// transport retry loop is bypassed and the caller decides what a failure
// means.
func (r *Repository) PublishOffer(ctx context.Context, offerID string) (string, error) {
	var result ebay.PublishResponse
	path := offerPath + "/" + url.PathEscape(offerID) + "/publish"
	if err := r.do(ctx, http.MethodPost, path, nil, nil, &result, ebay.WithoutRetry()); err != nil {
		return "", err
	}
	return result.ListingID, nil
}

// PublishGroup publishes a variation group as one listing. Same one-shot
// semantics as PublishOffer.
func (r *Repository) PublishGroup(ctx context.Context, groupKey, marketplaceID string) (string, error) {
	body := ebay.PublishByGroupRequest{
		InventoryItemGroupKey: groupKey,
		MarketplaceID:         marketplaceID,
	}
	var result ebay.PublishResponse
	if err := r.do(ctx, http.MethodPost, publishGroupPath, nil, body, &result, ebay.WithoutRetry()); err != nil {
		return "", err
	}
	return result.ListingID, nil
}

// mergeItem overlays the caller's non-zero fields on the current remote
// object so the full-replacement PUT cannot drop data.
func mergeItem(current, update ebay.InventoryItem) ebay.InventoryItem {
	out := current
	if update.Locale != "" {
		out.Locale = update.Locale
	}
	if update.Condition != "" {
		out.Condition = update.Condition
	}
	if update.Product != nil {
		if out.Product == nil {
			out.Product = update.Product
		} else {
			p := *out.Product
			if update.Product.Title != "" {
				p.Title = update.Product.Title
			}
			if update.Product.Description != "" {
				p.Description = update.Product.Description
			}
			if update.Product.Brand != "" {
				p.Brand = update.Product.Brand
			}
			if len(update.Product.Aspects) > 0 {
				p.Aspects = update.Product.Aspects
			}
			if len(update.Product.ImageURLs) > 0 {
				p.ImageURLs = update.Product.ImageURLs
			}
			out.Product = &p
		}
	}
	if update.PackageSpec != nil {
		out.PackageSpec = update.PackageSpec
	}
	if update.Availability != nil {
		out.Availability = update.Availability
	}
	out.SKU = current.SKU
	return out
}

func mergeOffer(current, update ebay.Offer) ebay.Offer {
	out := current
	if update.MarketplaceID != "" {
		out.MarketplaceID = update.MarketplaceID
	}
	if update.Format != "" {
		out.Format = update.Format
	}
	if update.CategoryID != "" {
		out.CategoryID = update.CategoryID
	}
	if update.AvailableQuantity != 0 {
		out.AvailableQuantity = update.AvailableQuantity
	}
	if update.ListingDuration != "" {
		out.ListingDuration = update.ListingDuration
	}
	if update.ListingStartDate != "" {
		out.ListingStartDate = update.ListingStartDate
	}
	if update.MerchantLocationKey != "" {
		out.MerchantLocationKey = update.MerchantLocationKey
	}
	// The listing sub-record must always go back out in full. Prefer the
	// caller's values, fall back to what the marketplace still has.
	if update.ListingDescription != "" {
		out.ListingDescription = update.ListingDescription
	}
	if update.PricingSummary != nil {
		out.PricingSummary = update.PricingSummary
	}
	if update.ListingPolicies != nil {
		out.ListingPolicies = update.ListingPolicies
	}
	out.OfferID = current.OfferID
	out.SKU = current.SKU
	return out
}

func mergeGroup(current, update ebay.InventoryItemGroup) ebay.InventoryItemGroup {
	out := current
	if update.Title != "" {
		out.Title = update.Title
	}
	if update.GroupDetail != nil && strings.TrimSpace(update.GroupDetail.Description) != "" {
		out.GroupDetail = update.GroupDetail
	}
	if len(update.Aspects) > 0 {
		out.Aspects = update.Aspects
	}
	if len(update.ImageURLs) > 0 {
		out.ImageURLs = update.ImageURLs
	}
	if len(update.VariantSKUs) > 0 {
		out.VariantSKUs = update.VariantSKUs
	}
	if update.VariesBy != nil {
		out.VariesBy = update.VariesBy
	}
	out.InventoryItemGroupKey = current.InventoryItemGroupKey
	out.Description = ""
	return out
}
