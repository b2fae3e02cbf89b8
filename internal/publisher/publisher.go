// Package publisher sequences the creation, linking, and publication of a
// variation listing. It owns the in-memory plan for one publish attempt;
// the marketplace owns the authoritative state, so every read is treated as
// possibly stale and every write as possibly not yet visible.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/classify"
	"github.com/cardbin/ebay-lister/internal/ebay"
	"github.com/cardbin/ebay-lister/internal/inventory"
	"github.com/cardbin/ebay-lister/internal/policy"
)

// minDescriptionLen is the marketplace's undocumented floor: a shorter
// description is accepted on write but rejected at publish.
const minDescriptionLen = 50

// Config tunes the orchestrator's waits and bounds.
type Config struct {
	MarketplaceID string
	// PropagationWait precedes each read-back while verifying group
	// linkage; it absorbs the marketplace's write-to-read delay.
	PropagationWait time.Duration
	// WaitEscalation is added to the wait on every recheck.
	WaitEscalation time.Duration
	// LinkRechecks bounds the read-back loop per offer.
	LinkRechecks int
	// RemediationWait precedes the single publish retry after a
	// description repair. Longer than the generic backoff: this failure
	// mode is a propagation issue, not a transient fault.
	RemediationWait time.Duration
	// Overrides are explicitly configured policy ids; empty fields resolve
	// to first-available.
	Overrides policy.Overrides
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		MarketplaceID:   "EBAY_US",
		PropagationWait: 3 * time.Second,
		WaitEscalation:  3 * time.Second,
		LinkRechecks:    3,
		RemediationWait: 10 * time.Second,
	}
}

// AttemptRecord is the audit row written for every finished attempt.
type AttemptRecord struct {
	AttemptID     string
	GroupKey      string
	MarketplaceID string
	SKUs          []string
	State         State
	ListingID     string
	Category      string
	Kind          string
	Message       string
	Remediations  []string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// History records finished attempts. Optional; a nil history disables the
// audit trail.
type History interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
}

// Publisher is the publication orchestrator.
type Publisher struct {
	repo     *inventory.Repository
	policies *policy.Resolver
	history  History
	logger   *zap.Logger
	cfg      Config

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Publisher. history may be nil.
func New(repo *inventory.Repository, resolver *policy.Resolver, history History, logger *zap.Logger, cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.MarketplaceID == "" {
		cfg.MarketplaceID = def.MarketplaceID
	}
	if cfg.PropagationWait == 0 {
		cfg.PropagationWait = def.PropagationWait
	}
	if cfg.WaitEscalation == 0 {
		cfg.WaitEscalation = def.WaitEscalation
	}
	if cfg.LinkRechecks == 0 {
		cfg.LinkRechecks = def.LinkRechecks
	}
	if cfg.RemediationWait == 0 {
		cfg.RemediationWait = def.RemediationWait
	}
	return &Publisher{
		repo:     repo,
		policies: resolver,
		history:  history,
		logger:   logger,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

// Publish runs one attempt of the state machine
// PLANNED → ITEMS_READY → OFFERS_READY → GROUP_READY → LINKED → PUBLISHED.
// Partially created resources are left in place on failure; re-running with
// the same SKUs and group key resumes idempotently.
func (p *Publisher) Publish(ctx context.Context, listing Listing) (*Result, error) {
	attempt := &attemptState{
		id:      uuid.NewString(),
		listing: &listing,
		started: time.Now(),
		state:   StatePlanned,
	}
	log := p.logger.With(
		zap.String("attemptId", attempt.id),
		zap.String("groupKey", listing.GroupKey),
		zap.Int("variants", len(listing.Variants)))

	if listing.MarketplaceID == "" {
		listing.MarketplaceID = p.cfg.MarketplaceID
	}
	if err := listing.validate(); err != nil {
		return p.fail(ctx, attempt, "", planError(err))
	}
	if !inventory.ValidKey(listing.GroupKey) {
		return p.fail(ctx, attempt, "", planError(fmt.Errorf("invalid group key %q", listing.GroupKey)))
	}

	log.Info("publish attempt started")

	// PLANNED → ITEMS_READY: each variant's item record. No partial-item
	// repair exists; the first failure ends the attempt.
	for _, v := range listing.Variants {
		if err := p.repo.UpsertItem(ctx, buildItem(v, &listing)); err != nil {
			return p.fail(ctx, attempt, v.SKU, err)
		}
	}
	attempt.state = StateItemsReady
	log.Info("inventory items ready")

	// ITEMS_READY → OFFERS_READY: resolve policies, then one offer per
	// variant with a guaranteed-valid description.
	bundle, err := p.policies.Resolve(ctx, p.cfg.Overrides)
	if err != nil {
		return p.fail(ctx, attempt, "", err)
	}
	for _, v := range listing.Variants {
		existing, err := p.repo.GetOfferBySKU(ctx, v.SKU, listing.MarketplaceID)
		if err != nil {
			return p.fail(ctx, attempt, v.SKU, err)
		}
		offer := buildOffer(v, &listing, bundle)
		if existing != nil {
			offer.OfferID = existing.OfferID
		}
		if _, err := p.repo.UpsertOffer(ctx, offer); err != nil {
			return p.fail(ctx, attempt, v.SKU, err)
		}
	}
	attempt.state = StateOffersReady
	log.Info("offers ready", zap.String("fulfillmentPolicy", bundle.FulfillmentPolicyID))

	// OFFERS_READY → GROUP_READY: the variation group, with the description
	// length re-verified independently of the offers' descriptions.
	if err := p.repo.UpsertGroup(ctx, buildGroup(&listing)); err != nil {
		return p.fail(ctx, attempt, "", err)
	}
	attempt.state = StateGroupReady
	log.Info("variation group ready")

	// GROUP_READY → LINKED: confirm every offer picked up its group
	// membership. Linkage is set implicitly when an offer is created while
	// the group already exists; an offer that predates the group can only
	// be repaired by delete and recreate, since the link is not patchable.
	for _, v := range listing.Variants {
		if err := p.ensureLinked(ctx, attempt, v, &listing, bundle, log); err != nil {
			return p.fail(ctx, attempt, v.SKU, err)
		}
	}
	attempt.state = StateLinked
	log.Info("offers linked to group")

	// LINKED → PUBLISHED: one-shot.
	listingID, err := p.publishWithRemediation(ctx, attempt, &listing, bundle, log)
	if err != nil {
		return p.fail(ctx, attempt, "", err)
	}
	attempt.state = StatePublished

	result := &Result{
		AttemptID:    attempt.id,
		GroupKey:     listing.GroupKey,
		ListingID:    listingID,
		SKUs:         listing.skus(),
		Remediations: attempt.remediations,
	}
	p.record(ctx, attempt, listingID, nil)
	log.Info("published", zap.String("listingId", listingID))
	return result, nil
}

type attemptState struct {
	id           string
	listing      *Listing
	state        State
	started      time.Time
	remediations []string
}

func (a *attemptState) remediate(note string) {
	a.remediations = append(a.remediations, note)
}

// ensureLinked re-fetches the offer for one variant after a propagation wait
// and, once the rechecks are spent, recreates the offer so it links against
// the now-existing group.
func (p *Publisher) ensureLinked(ctx context.Context, attempt *attemptState, v Variant, listing *Listing, bundle *policy.Bundle, log *zap.Logger) error {
	linked, offerID, err := p.awaitLink(ctx, v.SKU, listing)
	if err != nil || linked {
		return err
	}

	log.Warn("offer not linked to group, recreating",
		zap.String("sku", v.SKU),
		zap.String("offerId", offerID))
	if offerID != "" {
		if err := p.repo.DeleteOffer(ctx, offerID); err != nil {
			return err
		}
	}
	offer := buildOffer(v, listing, bundle)
	if _, err := p.repo.UpsertOffer(ctx, offer); err != nil {
		return err
	}
	attempt.remediate(fmt.Sprintf("recreated offer for SKU %s to restore group linkage", v.SKU))

	linked, _, err = p.awaitLink(ctx, v.SKU, listing)
	if err != nil {
		return err
	}
	if !linked {
		return &PublicationError{
			Category: classify.ValidationFixable,
			Kind:     classify.KindGroupLink,
			State:    StateGroupReady,
			SKU:      v.SKU,
			GroupKey: listing.GroupKey,
			Message:  "offer still not linked to group after recreation",
		}
	}
	return nil
}

// awaitLink polls the offer's group membership within the recheck budget,
// waiting longer before each read.
func (p *Publisher) awaitLink(ctx context.Context, sku string, listing *Listing) (bool, string, error) {
	var offerID string
	for i := 0; i < p.cfg.LinkRechecks; i++ {
		wait := p.cfg.PropagationWait + time.Duration(i)*p.cfg.WaitEscalation
		if err := p.sleep(ctx, wait); err != nil {
			return false, offerID, err
		}
		offer, err := p.repo.GetOfferBySKU(ctx, sku, listing.MarketplaceID)
		if err != nil {
			return false, offerID, err
		}
		if offer != nil {
			offerID = offer.OfferID
			if offer.InventoryItemGroupKey == listing.GroupKey {
				return true, offerID, nil
			}
		}
	}
	return false, offerID, nil
}

// publishWithRemediation performs the terminal publish call. A
// description-missing failure gets exactly one repair: rewrite the group
// description with an expanded template, wait out propagation, publish once
// more. A second identical failure is surfaced, not looped on; empirically
// it can be a backend inconsistency no further repair resolves.
func (p *Publisher) publishWithRemediation(ctx context.Context, attempt *attemptState, listing *Listing, bundle *policy.Bundle, log *zap.Logger) (string, error) {
	listingID, err := p.repo.PublishGroup(ctx, listing.GroupKey, listing.MarketplaceID)
	if err == nil {
		return listingID, nil
	}

	cls, code, msg := classifyError(err)
	if cls.Kind != classify.KindDescriptionMissing {
		return "", p.publishFailure(cls, code, msg, listing, bundle, err)
	}

	expanded := expandDescription(listing)
	log.Warn("publish rejected for missing description, re-applying description",
		zap.Int("code", code),
		zap.Int("descriptionLen", len(expanded)))
	group := ebay.InventoryItemGroup{
		InventoryItemGroupKey: listing.GroupKey,
		GroupDetail:           &ebay.GroupDetail{Description: expanded},
	}
	if err := p.repo.UpsertGroup(ctx, group); err != nil {
		return "", err
	}
	attempt.remediate("re-applied expanded group description after publish rejection")

	if err := p.sleep(ctx, p.cfg.RemediationWait); err != nil {
		return "", err
	}

	listingID, err = p.repo.PublishGroup(ctx, listing.GroupKey, listing.MarketplaceID)
	if err == nil {
		return listingID, nil
	}
	cls, code, msg = classifyError(err)
	if cls.Kind == classify.KindDescriptionMissing {
		return "", &PublicationError{
			Category:     classify.ValidationFixable,
			Kind:         classify.KindDescriptionMissing,
			State:        StateLinked,
			GroupKey:     listing.GroupKey,
			Code:         code,
			Message:      "description repair did not resolve publish rejection: " + msg,
			Remediations: attempt.remediations,
			err:          err,
		}
	}
	return "", p.publishFailure(cls, code, msg, listing, bundle, err)
}

// publishFailure shapes a publish-time error, naming the offending policy id
// on fatal policy failures so the caller can fix the account out-of-band.
func (p *Publisher) publishFailure(cls classify.Classification, code int, msg string, listing *Listing, bundle *policy.Bundle, err error) error {
	if cls.Kind == classify.KindFulfillmentPolicy && bundle != nil {
		msg = fmt.Sprintf("fulfillment policy %s has no usable shipping service: %s", bundle.FulfillmentPolicyID, msg)
	}
	return &PublicationError{
		Category: cls.Category,
		Kind:     cls.Kind,
		State:    StateLinked,
		GroupKey: listing.GroupKey,
		Code:     code,
		Message:  msg,
		err:      err,
	}
}

// fail converts err into a *PublicationError, records the attempt, and
// returns it.
func (p *Publisher) fail(ctx context.Context, attempt *attemptState, sku string, err error) (*Result, error) {
	pubErr, ok := err.(*PublicationError)
	if !ok {
		cls, code, msg := classifyError(err)
		pubErr = &PublicationError{
			Category: cls.Category,
			Kind:     cls.Kind,
			State:    attempt.state,
			SKU:      sku,
			GroupKey: attempt.listing.GroupKey,
			Code:     code,
			Message:  msg,
			err:      err,
		}
	}
	if pubErr.GroupKey == "" {
		pubErr.GroupKey = attempt.listing.GroupKey
	}
	pubErr.Remediations = attempt.remediations

	p.logger.Error("publish attempt failed",
		zap.String("attemptId", attempt.id),
		zap.String("groupKey", pubErr.GroupKey),
		zap.String("sku", pubErr.SKU),
		zap.String("category", pubErr.Category.String()),
		zap.String("kind", string(pubErr.Kind)),
		zap.Int("code", pubErr.Code),
		zap.String("state", string(pubErr.State)))
	p.record(ctx, attempt, "", pubErr)
	return nil, pubErr
}

func (p *Publisher) record(ctx context.Context, attempt *attemptState, listingID string, pubErr *PublicationError) {
	if p.history == nil {
		return
	}
	rec := AttemptRecord{
		AttemptID:     attempt.id,
		GroupKey:      attempt.listing.GroupKey,
		MarketplaceID: attempt.listing.MarketplaceID,
		SKUs:          attempt.listing.skus(),
		State:         attempt.state,
		ListingID:     listingID,
		Remediations:  attempt.remediations,
		StartedAt:     attempt.started,
		CompletedAt:   time.Now(),
	}
	if pubErr != nil {
		rec.State = StateFailed
		rec.Category = pubErr.Category.String()
		rec.Kind = string(pubErr.Kind)
		rec.Message = pubErr.Message
	}
	if err := p.history.RecordAttempt(ctx, rec); err != nil {
		p.logger.Warn("failed to record publish attempt", zap.Error(err))
	}
}

// classifyError funnels any lower-layer error through the classifier.
func classifyError(err error) (classify.Classification, int, string) {
	if errors.Is(err, ebay.ErrRetryExhausted) {
		return classify.Classification{Category: classify.Transient, Kind: classify.KindRetryExhausted}, 0, err.Error()
	}
	if errors.Is(err, policy.ErrNoneConfigured) {
		return classify.Classification{Category: classify.Fatal, Kind: classify.KindNoPolicies}, 0, err.Error()
	}
	if apiErr, ok := ebay.AsAPIError(err); ok {
		code, msg := apiErr.First()
		return classify.Classify(apiErr.StatusCode, code, msg), code, msg
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classify.Classification{Category: classify.Transient, Kind: classify.KindServerError}, 0, err.Error()
	}
	// Client-side failures (network, marshaling) carry no marketplace code.
	return classify.Classification{Category: classify.Transient, Kind: classify.KindServerError}, 0, err.Error()
}

func planError(err error) error {
	return &PublicationError{
		Category: classify.Fatal,
		Kind:     classify.KindUnknown,
		State:    StatePlanned,
		Message:  err.Error(),
		err:      err,
	}
}

func buildItem(v Variant, listing *Listing) ebay.InventoryItem {
	aspects := make(map[string][]string, len(v.Aspects)+1)
	for k, vals := range v.Aspects {
		aspects[k] = vals
	}
	// The varies-by aspect must be present on every member or the
	// marketplace rejects publication with an alignment error.
	aspects[listing.VariesBy] = []string{v.AspectValue}

	condition := v.Condition
	if condition == "" {
		condition = "USED_EXCELLENT"
	}
	images := v.ImageURLs
	if len(images) == 0 {
		images = listing.ImageURLs
	}

	item := ebay.InventoryItem{
		SKU:       v.SKU,
		Condition: condition,
		Product: &ebay.Product{
			Title:       variantTitle(v, listing),
			Description: ensureDescription(v.Description, variantTitle(v, listing)),
			Aspects:     aspects,
			ImageURLs:   images,
		},
		Availability: &ebay.Availability{
			ShipToLocationAvailability: &ebay.ShipToLocation{Quantity: v.Quantity},
		},
	}
	if v.WeightOz > 0 {
		item.PackageSpec = &ebay.PackageSpec{
			Weight: &ebay.Weight{Value: v.WeightOz, Unit: "OUNCE"},
		}
	}
	return item
}

func buildOffer(v Variant, listing *Listing, bundle *policy.Bundle) ebay.Offer {
	currency := v.Currency
	if currency == "" {
		currency = "USD"
	}
	offer := ebay.Offer{
		SKU:                 v.SKU,
		MarketplaceID:       listing.MarketplaceID,
		Format:              "FIXED_PRICE",
		CategoryID:          listing.CategoryID,
		AvailableQuantity:   v.Quantity,
		ListingDuration:     "GTC",
		ListingDescription:  ensureDescription(v.Description, variantTitle(v, listing)),
		MerchantLocationKey: bundle.MerchantLocationKey,
		PricingSummary: &ebay.PricingSummary{
			Price: &ebay.Amount{Value: v.Price, Currency: currency},
		},
		ListingPolicies: &ebay.ListingPolicies{
			PaymentPolicyID:     bundle.PaymentPolicyID,
			FulfillmentPolicyID: bundle.FulfillmentPolicyID,
			ReturnPolicyID:      bundle.ReturnPolicyID,
		},
	}
	if listing.ScheduledAt != nil {
		offer.ListingStartDate = listing.ScheduledAt.UTC().Format(time.RFC3339)
	}
	return offer
}

func buildGroup(listing *Listing) ebay.InventoryItemGroup {
	return ebay.InventoryItemGroup{
		InventoryItemGroupKey: listing.GroupKey,
		Title:                 listing.Title,
		GroupDetail: &ebay.GroupDetail{
			Description: ensureDescription(listing.Description, listing.Title),
		},
		ImageURLs:   listing.ImageURLs,
		VariantSKUs: listing.skus(),
		VariesBy: &ebay.VariesBy{
			Specifications: []ebay.Specification{{
				Name:   listing.VariesBy,
				Values: listing.aspectValues(),
			}},
		},
	}
}

func variantTitle(v Variant, listing *Listing) string {
	if v.Title != "" {
		return v.Title
	}
	return fmt.Sprintf("%s - %s", listing.Title, v.AspectValue)
}

// ensureDescription returns the caller's description when it clears the
// marketplace's length floor, otherwise a synthesized one long enough to
// publish. Publishability over content quality.
func ensureDescription(desc, title string) string {
	d := strings.TrimSpace(desc)
	if len(d) >= minDescriptionLen {
		return d
	}
	base := strings.TrimSpace(title)
	synthesized := fmt.Sprintf("%s. Please see the photos and item specifics for full details and condition of this item.", base)
	if d != "" {
		synthesized = d + ". " + synthesized
	}
	return synthesized
}

// expandDescription builds a longer, template-expanded description used when
// a publish attempt was rejected for a missing description despite an
// apparently valid one.
func expandDescription(listing *Listing) string {
	var b strings.Builder
	b.WriteString(ensureDescription(listing.Description, listing.Title))
	fmt.Fprintf(&b, " This listing offers %d variants, selectable by %s.",
		len(listing.Variants), listing.VariesBy)
	b.WriteString(" All items are shipped securely. Please review the photos and item specifics before purchase.")
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
