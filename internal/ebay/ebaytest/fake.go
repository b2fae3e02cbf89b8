// Package ebaytest provides an in-memory marketplace implementing the
// ebay.Transport seam for tests. It reproduces the remote quirks the real
// marketplace shows: full-replacement PUT semantics, implicit group linkage
// at offer-creation time, propagation delay on read-back, and publish-time
// validation of data the earlier writes accepted without complaint.
package ebaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cardbin/ebay-lister/internal/ebay"
)

const minDescriptionLen = 50

// Fake is an in-memory marketplace. Zero value is not usable; construct with
// NewFake.
type Fake struct {
	mu sync.Mutex

	Items  map[string]*ebay.InventoryItem
	Offers map[string]*ebay.Offer
	Groups map[string]*ebay.InventoryItemGroup

	FulfillmentPolicies []ebay.FulfillmentPolicy
	PaymentPolicies     []ebay.PaymentPolicy
	ReturnPolicies      []ebay.ReturnPolicy
	Locations           []ebay.Location

	// LinkPropagationReads hides a freshly set group link from this many
	// subsequent reads of the offer, simulating eventual consistency.
	LinkPropagationReads int
	pendingLink          map[string]int

	// PublishFailures is a scripted queue: each publish-by-group call pops
	// and returns the next entry before normal validation runs.
	PublishFailures []*ebay.APIError

	// PublishCalls counts publish-by-group attempts.
	PublishCalls int

	// Requests logs "METHOD path" for every call.
	Requests []string

	nextOffer   int
	nextListing int
}

// NewFake returns a marketplace seeded with one complete policy set and one
// merchant location.
func NewFake() *Fake {
	return &Fake{
		Items:       make(map[string]*ebay.InventoryItem),
		Offers:      make(map[string]*ebay.Offer),
		Groups:      make(map[string]*ebay.InventoryItemGroup),
		pendingLink: make(map[string]int),
		FulfillmentPolicies: []ebay.FulfillmentPolicy{{
			FulfillmentPolicyID: "fulfillment-1",
			Name:                "Standard Shipping",
			MarketplaceID:       "EBAY_US",
			ShippingOptions: []ebay.ShippingOption{{
				OptionType: "DOMESTIC",
				ShippingServices: []ebay.ShippingService{{
					ShippingCarrier: "USPS",
					ShippingService: "USPSGroundAdvantage",
					ShippingCost:    &ebay.Amount{Value: "4.99", Currency: "USD"},
				}},
			}},
		}},
		PaymentPolicies: []ebay.PaymentPolicy{{
			PaymentPolicyID: "payment-1",
			Name:            "Default Payment",
			MarketplaceID:   "EBAY_US",
		}},
		ReturnPolicies: []ebay.ReturnPolicy{{
			ReturnPolicyID:  "return-1",
			Name:            "30 Day Returns",
			MarketplaceID:   "EBAY_US",
			ReturnsAccepted: true,
		}},
		Locations: []ebay.Location{{
			MerchantLocationKey:    "loc-1",
			Name:                   "Warehouse",
			MerchantLocationStatus: "ENABLED",
		}},
	}
}

// Request routes a call against the in-memory state.
func (f *Fake) Request(ctx context.Context, method, path string, query url.Values, body any, opts ...ebay.RequestOption) (*ebay.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, method+" "+path)

	switch {
	case strings.HasPrefix(path, "/sell/inventory/v1/inventory_item_group/"):
		key := strings.TrimPrefix(path, "/sell/inventory/v1/inventory_item_group/")
		return f.handleGroup(method, key, body)
	case path == "/sell/inventory/v1/offer/publish_by_inventory_item_group":
		return f.handlePublishGroup(body)
	case strings.HasPrefix(path, "/sell/inventory/v1/inventory_item/"):
		sku := strings.TrimPrefix(path, "/sell/inventory/v1/inventory_item/")
		return f.handleItem(method, sku, body)
	case path == "/sell/inventory/v1/offer":
		return f.handleOfferCollection(method, query, body)
	case strings.HasPrefix(path, "/sell/inventory/v1/offer/") && strings.HasSuffix(path, "/publish"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/sell/inventory/v1/offer/"), "/publish")
		return f.handlePublishOffer(id)
	case strings.HasPrefix(path, "/sell/inventory/v1/offer/"):
		id := strings.TrimPrefix(path, "/sell/inventory/v1/offer/")
		return f.handleOffer(method, id, body)
	case path == "/sell/account/v1/fulfillment_policy":
		return jsonResp(http.StatusOK, ebay.FulfillmentPoliciesResponse{FulfillmentPolicies: f.FulfillmentPolicies, Total: len(f.FulfillmentPolicies)})
	case path == "/sell/account/v1/payment_policy":
		return jsonResp(http.StatusOK, ebay.PaymentPoliciesResponse{PaymentPolicies: f.PaymentPolicies, Total: len(f.PaymentPolicies)})
	case path == "/sell/account/v1/return_policy":
		return jsonResp(http.StatusOK, ebay.ReturnPoliciesResponse{ReturnPolicies: f.ReturnPolicies, Total: len(f.ReturnPolicies)})
	case path == "/sell/inventory/v1/location":
		return jsonResp(http.StatusOK, ebay.LocationsResponse{Locations: f.Locations, Total: len(f.Locations)})
	}

	return errResp(http.StatusNotFound, 25710, fmt.Sprintf("resource not found: %s", path))
}

func (f *Fake) handleItem(method, sku string, body any) (*ebay.Response, error) {
	switch method {
	case http.MethodPut:
		var item ebay.InventoryItem
		if err := decodeBody(body, &item); err != nil {
			return errResp(http.StatusBadRequest, 25002, "malformed inventory item")
		}
		item.SKU = sku
		f.Items[sku] = &item
		return &ebay.Response{StatusCode: http.StatusNoContent, Header: http.Header{}}, nil
	case http.MethodGet:
		item, ok := f.Items[sku]
		if !ok {
			return errResp(http.StatusNotFound, 25710, "inventory item not found")
		}
		return jsonResp(http.StatusOK, item)
	}
	return errResp(http.StatusMethodNotAllowed, 0, "unsupported method")
}

func (f *Fake) handleOfferCollection(method string, query url.Values, body any) (*ebay.Response, error) {
	switch method {
	case http.MethodGet:
		sku := query.Get("sku")
		marketplace := query.Get("marketplace_id")
		var matches []ebay.Offer
		for _, o := range f.Offers {
			if o.SKU == sku && (marketplace == "" || o.MarketplaceID == marketplace) {
				matches = append(matches, f.offerView(o))
			}
		}
		return jsonResp(http.StatusOK, ebay.OffersResponse{Offers: matches, Total: len(matches)})
	case http.MethodPost:
		var offer ebay.Offer
		if err := decodeBody(body, &offer); err != nil {
			return errResp(http.StatusBadRequest, 25002, "malformed offer")
		}
		for _, o := range f.Offers {
			if o.SKU == offer.SKU && o.MarketplaceID == offer.MarketplaceID {
				return errResp(http.StatusConflict, 25002, "An offer already exists for this SKU and marketplace")
			}
		}
		f.nextOffer++
		offer.OfferID = fmt.Sprintf("offer-%d", f.nextOffer)
		offer.Status = ebay.OfferStatusUnpublished
		// Linkage is implicit: an offer created while a group already lists
		// its SKU is linked; a group created afterwards does not link
		// retroactively.
		offer.InventoryItemGroupKey = ""
		for key, g := range f.Groups {
			for _, member := range g.VariantSKUs {
				if member == offer.SKU {
					offer.InventoryItemGroupKey = key
					if f.LinkPropagationReads > 0 {
						f.pendingLink[offer.OfferID] = f.LinkPropagationReads
					}
				}
			}
		}
		f.Offers[offer.OfferID] = &offer
		return jsonResp(http.StatusCreated, ebay.CreateOfferResponse{OfferID: offer.OfferID})
	}
	return errResp(http.StatusMethodNotAllowed, 0, "unsupported method")
}

func (f *Fake) handleOffer(method, id string, body any) (*ebay.Response, error) {
	switch method {
	case http.MethodGet:
		o, ok := f.Offers[id]
		if !ok {
			return errResp(http.StatusNotFound, 25710, "offer not found")
		}
		return jsonResp(http.StatusOK, f.offerView(o))
	case http.MethodPut:
		o, ok := f.Offers[id]
		if !ok {
			return errResp(http.StatusNotFound, 25710, "offer not found")
		}
		var update ebay.Offer
		if err := decodeBody(body, &update); err != nil {
			return errResp(http.StatusBadRequest, 25002, "malformed offer")
		}
		// Full replacement: whatever the caller leaves out is gone. Only the
		// marketplace-managed fields survive.
		update.OfferID = id
		update.Status = o.Status
		update.Listing = o.Listing
		update.InventoryItemGroupKey = o.InventoryItemGroupKey
		if update.SKU == "" {
			update.SKU = o.SKU
		}
		f.Offers[id] = &update
		return &ebay.Response{StatusCode: http.StatusNoContent, Header: http.Header{}}, nil
	case http.MethodDelete:
		if _, ok := f.Offers[id]; !ok {
			return errResp(http.StatusNotFound, 25710, "offer not found")
		}
		delete(f.Offers, id)
		delete(f.pendingLink, id)
		return &ebay.Response{StatusCode: http.StatusNoContent, Header: http.Header{}}, nil
	}
	return errResp(http.StatusMethodNotAllowed, 0, "unsupported method")
}

// offerView applies read-back propagation delay: a pending link stays
// invisible for the configured number of reads.
func (f *Fake) offerView(o *ebay.Offer) ebay.Offer {
	view := *o
	if remaining, ok := f.pendingLink[o.OfferID]; ok {
		if remaining > 0 {
			f.pendingLink[o.OfferID] = remaining - 1
			view.InventoryItemGroupKey = ""
		} else {
			delete(f.pendingLink, o.OfferID)
		}
	}
	return view
}

func (f *Fake) handleGroup(method, key string, body any) (*ebay.Response, error) {
	switch method {
	case http.MethodPut:
		var group ebay.InventoryItemGroup
		if err := decodeBody(body, &group); err != nil {
			return errResp(http.StatusBadRequest, 25002, "malformed group")
		}
		group.InventoryItemGroupKey = key
		// A top-level description is accepted by the write but never read at
		// publish; only groupDetail.description counts.
		f.Groups[key] = &group
		return &ebay.Response{StatusCode: http.StatusNoContent, Header: http.Header{}}, nil
	case http.MethodGet:
		g, ok := f.Groups[key]
		if !ok {
			return errResp(http.StatusNotFound, 25710, "inventory item group not found")
		}
		return jsonResp(http.StatusOK, g)
	case http.MethodDelete:
		if _, ok := f.Groups[key]; !ok {
			return errResp(http.StatusNotFound, 25710, "inventory item group not found")
		}
		delete(f.Groups, key)
		return &ebay.Response{StatusCode: http.StatusNoContent, Header: http.Header{}}, nil
	}
	return errResp(http.StatusMethodNotAllowed, 0, "unsupported method")
}

func (f *Fake) handlePublishGroup(body any) (*ebay.Response, error) {
	f.PublishCalls++

	if len(f.PublishFailures) > 0 {
		scripted := f.PublishFailures[0]
		f.PublishFailures = f.PublishFailures[1:]
		return errRespFrom(scripted)
	}

	var req ebay.PublishByGroupRequest
	if err := decodeBody(body, &req); err != nil {
		return errResp(http.StatusBadRequest, 25002, "malformed publish request")
	}

	g, ok := f.Groups[req.InventoryItemGroupKey]
	if !ok {
		return errResp(http.StatusNotFound, 25710, "inventory item group not found")
	}
	if g.GroupDetail == nil || len(strings.TrimSpace(g.GroupDetail.Description)) < minDescriptionLen {
		return errResp(http.StatusBadRequest, 25709,
			"Invalid value for field groupDetail.description: a listing description is required")
	}

	var members []*ebay.Offer
	for _, sku := range g.VariantSKUs {
		if _, ok := f.Items[sku]; !ok {
			return errResp(http.StatusBadRequest, 25710, fmt.Sprintf("no inventory item for SKU %s", sku))
		}
		offer := f.offerBySKU(sku, req.MarketplaceID)
		if offer == nil {
			return errResp(http.StatusBadRequest, 25710, fmt.Sprintf("no offer for SKU %s", sku))
		}
		if offer.ListingPolicies == nil || offer.ListingPolicies.FulfillmentPolicyID == "" ||
			offer.ListingPolicies.PaymentPolicyID == "" || offer.ListingPolicies.ReturnPolicyID == "" {
			return errResp(http.StatusBadRequest, 25714, fmt.Sprintf("offer for SKU %s has no business policies configured", sku))
		}
		fp := f.fulfillmentByID(offer.ListingPolicies.FulfillmentPolicyID)
		if fp == nil || !hasShippingService(fp) {
			return errResp(http.StatusBadRequest, 25007,
				fmt.Sprintf("The fulfillment policy %s has no usable shipping service", offer.ListingPolicies.FulfillmentPolicyID))
		}
		members = append(members, offer)
	}

	f.nextListing++
	listingID := fmt.Sprintf("1100000%04d", f.nextListing)
	for _, o := range members {
		o.Status = ebay.OfferStatusPublished
		o.Listing = &ebay.ListingDetails{ListingID: listingID}
	}
	return jsonResp(http.StatusOK, ebay.PublishResponse{ListingID: listingID})
}

func (f *Fake) handlePublishOffer(id string) (*ebay.Response, error) {
	o, ok := f.Offers[id]
	if !ok {
		return errResp(http.StatusNotFound, 25710, "offer not found")
	}
	if len(strings.TrimSpace(o.ListingDescription)) < minDescriptionLen {
		return errResp(http.StatusBadRequest, 25709,
			"Invalid value for field listingDescription: a listing description is required")
	}
	f.nextListing++
	listingID := fmt.Sprintf("1100000%04d", f.nextListing)
	o.Status = ebay.OfferStatusPublished
	o.Listing = &ebay.ListingDetails{ListingID: listingID}
	return jsonResp(http.StatusOK, ebay.PublishResponse{ListingID: listingID})
}

func (f *Fake) offerBySKU(sku, marketplaceID string) *ebay.Offer {
	for _, o := range f.Offers {
		if o.SKU == sku && (marketplaceID == "" || o.MarketplaceID == marketplaceID) {
			return o
		}
	}
	return nil
}

func (f *Fake) fulfillmentByID(id string) *ebay.FulfillmentPolicy {
	for i := range f.FulfillmentPolicies {
		if f.FulfillmentPolicies[i].FulfillmentPolicyID == id {
			return &f.FulfillmentPolicies[i]
		}
	}
	return nil
}

func hasShippingService(p *ebay.FulfillmentPolicy) bool {
	for _, opt := range p.ShippingOptions {
		if len(opt.ShippingServices) > 0 {
			return true
		}
	}
	return false
}

// RequestCount returns how many logged requests match the given
// "METHOD path" prefix.
func (f *Fake) RequestCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.Requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func decodeBody(body, out any) error {
	if body == nil {
		return fmt.Errorf("missing body")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func jsonResp(status int, v any) (*ebay.Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &ebay.Response{StatusCode: status, Header: http.Header{}, Body: raw}, nil
}

func errResp(status, code int, message string) (*ebay.Response, error) {
	env := struct {
		Errors []ebay.ErrorDetail `json:"errors"`
	}{Errors: []ebay.ErrorDetail{{ErrorID: code, Message: message}}}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &ebay.Response{StatusCode: status, Header: http.Header{}, Body: raw}, nil
}

func errRespFrom(apiErr *ebay.APIError) (*ebay.Response, error) {
	env := struct {
		Errors []ebay.ErrorDetail `json:"errors"`
	}{Errors: apiErr.Errors}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &ebay.Response{StatusCode: apiErr.StatusCode, Header: http.Header{}, Body: raw}, nil
}
