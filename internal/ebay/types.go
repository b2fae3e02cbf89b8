package ebay

// Sell Inventory API resources. Field names mirror the wire format; everything
// optional on the wire carries omitempty so partial objects round-trip cleanly.

// InventoryItem is the per-SKU product record.
type InventoryItem struct {
	SKU          string        `json:"sku,omitempty"`
	Locale       string        `json:"locale,omitempty"`
	Product      *Product      `json:"product,omitempty"`
	Condition    string        `json:"condition,omitempty"`
	PackageSpec  *PackageSpec  `json:"packageWeightAndSize,omitempty"`
	Availability *Availability `json:"availability,omitempty"`
}

// Product holds the product-detail block of an inventory item.
type Product struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Aspects     map[string][]string `json:"aspects,omitempty"`
	ImageURLs   []string            `json:"imageUrls,omitempty"`
	Brand       string              `json:"brand,omitempty"`
}

// PackageSpec holds package weight and dimensions.
type PackageSpec struct {
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	Weight     *Weight     `json:"weight,omitempty"`
}

// Dimensions of the shipping package.
type Dimensions struct {
	Height float64 `json:"height,omitempty"`
	Length float64 `json:"length,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Unit   string  `json:"unit,omitempty"` // "INCH", "CENTIMETER"
}

// Weight of the shipping package.
type Weight struct {
	Value float64 `json:"value,omitempty"`
	Unit  string  `json:"unit,omitempty"` // "POUND", "KILOGRAM", "OUNCE", "GRAM"
}

// Availability holds inventory availability.
type Availability struct {
	ShipToLocationAvailability *ShipToLocation `json:"shipToLocationAvailability,omitempty"`
}

// ShipToLocation holds quantity info.
type ShipToLocation struct {
	Quantity int `json:"quantity"`
}

// Offer statuses reported by the marketplace.
const (
	OfferStatusUnpublished = "UNPUBLISHED"
	OfferStatusPublished   = "PUBLISHED"
)

// Offer is a sellable listing draft for one SKU on one marketplace.
type Offer struct {
	OfferID               string           `json:"offerId,omitempty"`
	SKU                   string           `json:"sku,omitempty"`
	MarketplaceID         string           `json:"marketplaceId,omitempty"`
	Format                string           `json:"format,omitempty"` // "FIXED_PRICE"
	AvailableQuantity     int              `json:"availableQuantity,omitempty"`
	CategoryID            string           `json:"categoryId,omitempty"`
	ListingDescription    string           `json:"listingDescription,omitempty"`
	ListingDuration       string           `json:"listingDuration,omitempty"` // "GTC"
	ListingStartDate      string           `json:"listingStartDate,omitempty"`
	MerchantLocationKey   string           `json:"merchantLocationKey,omitempty"`
	PricingSummary        *PricingSummary  `json:"pricingSummary,omitempty"`
	ListingPolicies       *ListingPolicies `json:"listingPolicies,omitempty"`
	InventoryItemGroupKey string           `json:"inventoryItemGroupKey,omitempty"`
	Status                string           `json:"status,omitempty"`
	Listing               *ListingDetails  `json:"listing,omitempty"`
}

// PricingSummary holds pricing info.
type PricingSummary struct {
	Price *Amount `json:"price,omitempty"`
}

// Amount holds monetary values.
type Amount struct {
	Value    string `json:"value,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// ListingPolicies holds the business-policy references an offer needs before
// it can be published.
type ListingPolicies struct {
	PaymentPolicyID     string `json:"paymentPolicyId,omitempty"`
	FulfillmentPolicyID string `json:"fulfillmentPolicyId,omitempty"`
	ReturnPolicyID      string `json:"returnPolicyId,omitempty"`
}

// ListingDetails holds the published-listing info attached to an offer.
type ListingDetails struct {
	ListingID string `json:"listingId,omitempty"`
}

// OffersResponse is the paged response from the offer collection endpoint.
type OffersResponse struct {
	Offers []Offer `json:"offers,omitempty"`
	Total  int     `json:"total,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
	Href   string  `json:"href,omitempty"`
	Next   string  `json:"next,omitempty"`
}

// CreateOfferResponse is returned when an offer is created.
type CreateOfferResponse struct {
	OfferID string `json:"offerId"`
}

// InventoryItemGroup bundles the offers of several SKUs into one variation
// listing. The marketplace reads the listing description from the nested
// groupDetail object only; a description anywhere else is ignored at publish.
type InventoryItemGroup struct {
	InventoryItemGroupKey string              `json:"inventoryItemGroupKey,omitempty"`
	Title                 string              `json:"title,omitempty"`
	Description           string              `json:"description,omitempty"`
	GroupDetail           *GroupDetail        `json:"groupDetail,omitempty"`
	Aspects               map[string][]string `json:"aspects,omitempty"`
	ImageURLs             []string            `json:"imageUrls,omitempty"`
	VariantSKUs           []string            `json:"variantSKUs,omitempty"`
	VariesBy              *VariesBy           `json:"variesBy,omitempty"`
}

// GroupDetail is the nested block the marketplace validates at publish time.
type GroupDetail struct {
	Description string `json:"description,omitempty"`
}

// VariesBy names the selection aspect and enumerates its values.
type VariesBy struct {
	AspectsImageVariesBy []string        `json:"aspectsImageVariesBy,omitempty"`
	Specifications       []Specification `json:"specifications,omitempty"`
}

// Specification is one varies-by aspect with its ordered variant labels.
type Specification struct {
	Name   string   `json:"name,omitempty"`
	Values []string `json:"values,omitempty"`
}

// PublishResponse is returned by both publish endpoints.
type PublishResponse struct {
	ListingID string        `json:"listingId,omitempty"`
	Warnings  []ErrorDetail `json:"warnings,omitempty"`
}

// PublishByGroupRequest is the body of the publish-by-group call.
type PublishByGroupRequest struct {
	InventoryItemGroupKey string `json:"inventoryItemGroupKey"`
	MarketplaceID         string `json:"marketplaceId"`
}

// FulfillmentPolicy represents a shipping/fulfillment policy.
type FulfillmentPolicy struct {
	FulfillmentPolicyID string           `json:"fulfillmentPolicyId,omitempty"`
	Name                string           `json:"name,omitempty"`
	MarketplaceID       string           `json:"marketplaceId,omitempty"`
	ShippingOptions     []ShippingOption `json:"shippingOptions,omitempty"`
}

// ShippingOption holds shipping option details.
type ShippingOption struct {
	OptionType       string            `json:"optionType,omitempty"` // DOMESTIC or INTERNATIONAL
	ShippingServices []ShippingService `json:"shippingServices,omitempty"`
}

// ShippingService holds service details.
type ShippingService struct {
	SortOrderID     int     `json:"sortOrderId,omitempty"`
	ShippingCarrier string  `json:"shippingCarrierCode,omitempty"`
	ShippingService string  `json:"shippingServiceCode,omitempty"`
	ShippingCost    *Amount `json:"shippingCost,omitempty"`
	AdditionalCost  *Amount `json:"additionalShippingCost,omitempty"`
	FreeShipping    bool    `json:"freeShipping,omitempty"`
}

// FulfillmentPoliciesResponse is the response from the fulfillment policy list.
type FulfillmentPoliciesResponse struct {
	FulfillmentPolicies []FulfillmentPolicy `json:"fulfillmentPolicies,omitempty"`
	Total               int                 `json:"total,omitempty"`
}

// PaymentPolicy represents a payment policy.
type PaymentPolicy struct {
	PaymentPolicyID string `json:"paymentPolicyId,omitempty"`
	Name            string `json:"name,omitempty"`
	MarketplaceID   string `json:"marketplaceId,omitempty"`
	ImmediatePay    bool   `json:"immediatePay,omitempty"`
}

// PaymentPoliciesResponse is the response from the payment policy list.
type PaymentPoliciesResponse struct {
	PaymentPolicies []PaymentPolicy `json:"paymentPolicies,omitempty"`
	Total           int             `json:"total,omitempty"`
}

// ReturnPolicy represents a return policy.
type ReturnPolicy struct {
	ReturnPolicyID          string        `json:"returnPolicyId,omitempty"`
	Name                    string        `json:"name,omitempty"`
	MarketplaceID           string        `json:"marketplaceId,omitempty"`
	ReturnsAccepted         bool          `json:"returnsAccepted,omitempty"`
	ReturnPeriod            *TimeDuration `json:"returnPeriod,omitempty"`
	ReturnShippingCostPayer string        `json:"returnShippingCostPayer,omitempty"`
}

// TimeDuration represents a time duration.
type TimeDuration struct {
	Value int    `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"` // "DAY", "MONTH"
}

// ReturnPoliciesResponse is the response from the return policy list.
type ReturnPoliciesResponse struct {
	ReturnPolicies []ReturnPolicy `json:"returnPolicies,omitempty"`
	Total          int            `json:"total,omitempty"`
}

// Location is a merchant inventory location.
type Location struct {
	MerchantLocationKey    string `json:"merchantLocationKey,omitempty"`
	Name                   string `json:"name,omitempty"`
	MerchantLocationStatus string `json:"merchantLocationStatus,omitempty"`
}

// LocationsResponse is the response from the location list.
type LocationsResponse struct {
	Locations []Location `json:"locations,omitempty"`
	Total     int        `json:"total,omitempty"`
}
