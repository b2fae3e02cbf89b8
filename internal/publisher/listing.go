package publisher

import (
	"fmt"
	"strings"
	"time"

	"github.com/cardbin/ebay-lister/internal/classify"
)

// Variant is one sellable variant of the listing.
type Variant struct {
	SKU         string              `json:"sku"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	// AspectValue is this variant's value for the listing's varies-by
	// aspect, e.g. the card number.
	AspectValue string              `json:"aspectValue"`
	Aspects     map[string][]string `json:"aspects,omitempty"`
	Condition   string              `json:"condition,omitempty"`
	ImageURLs   []string            `json:"imageUrls,omitempty"`
	Price       string              `json:"price"`
	Currency    string              `json:"currency,omitempty"`
	Quantity    int                 `json:"quantity"`
	WeightOz    float64             `json:"weightOz,omitempty"`
}

// Listing describes one variation listing to publish: the group metadata
// plus its variants.
type Listing struct {
	GroupKey      string     `json:"groupKey"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	VariesBy      string     `json:"variesBy"`
	CategoryID    string     `json:"categoryId"`
	MarketplaceID string     `json:"marketplaceId,omitempty"`
	ImageURLs     []string   `json:"imageUrls,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	Variants      []Variant  `json:"variants"`
}

// State is the orchestrator's position in one publish attempt.
type State string

const (
	StatePlanned     State = "PLANNED"
	StateItemsReady  State = "ITEMS_READY"
	StateOffersReady State = "OFFERS_READY"
	StateGroupReady  State = "GROUP_READY"
	StateLinked      State = "LINKED"
	StatePublished   State = "PUBLISHED"
	StateFailed      State = "FAILED"
)

// Result is the outcome of a successful publish attempt.
type Result struct {
	AttemptID    string   `json:"attemptId"`
	GroupKey     string   `json:"groupKey"`
	ListingID    string   `json:"listingId"`
	SKUs         []string `json:"skus"`
	Remediations []string `json:"remediations,omitempty"`
}

// PublicationError carries everything a caller needs to act on a failed
// attempt: the classifier's category, the resource that failed, the raw
// marketplace code/message, and the remediation trail.
type PublicationError struct {
	Category     classify.Category `json:"category"`
	Kind         classify.Kind     `json:"kind"`
	State        State             `json:"state"`
	SKU          string            `json:"sku,omitempty"`
	GroupKey     string            `json:"groupKey,omitempty"`
	Code         int               `json:"code,omitempty"`
	Message      string            `json:"message,omitempty"`
	Remediations []string          `json:"remediations,omitempty"`
	err          error
}

func (e *PublicationError) Error() string {
	subject := e.GroupKey
	if e.SKU != "" {
		subject = "sku " + e.SKU
	} else if subject != "" {
		subject = "group " + subject
	}
	msg := fmt.Sprintf("publish failed at %s (%s/%s)", e.State, e.Category, e.Kind)
	if subject != "" {
		msg += " for " + subject
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(": %d %s", e.Code, e.Message)
	} else if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *PublicationError) Unwrap() error { return e.err }

func (l *Listing) validate() error {
	if len(l.Variants) < 2 {
		return fmt.Errorf("a variation listing needs at least two variants, got %d", len(l.Variants))
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("listing title is required")
	}
	if strings.TrimSpace(l.VariesBy) == "" {
		return fmt.Errorf("varies-by aspect name is required")
	}
	seen := make(map[string]bool, len(l.Variants))
	for _, v := range l.Variants {
		if seen[v.SKU] {
			return fmt.Errorf("duplicate SKU %q", v.SKU)
		}
		seen[v.SKU] = true
		if strings.TrimSpace(v.AspectValue) == "" {
			return fmt.Errorf("variant %q has no value for the varies-by aspect", v.SKU)
		}
	}
	return nil
}

// skus returns the variant SKUs in input order.
func (l *Listing) skus() []string {
	out := make([]string, len(l.Variants))
	for i, v := range l.Variants {
		out[i] = v.SKU
	}
	return out
}

// aspectValues returns the varies-by labels in variant order.
func (l *Listing) aspectValues() []string {
	out := make([]string, len(l.Variants))
	for i, v := range l.Variants {
		out[i] = v.AspectValue
	}
	return out
}
