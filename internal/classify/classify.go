// Package classify maps marketplace failures to one of three handling
// categories. It is the single place that decides retry-vs-repair-vs-surface;
// callers consume its output instead of re-deriving meaning from raw text.
package classify

import (
	"net/http"
	"strings"
)

// Category is the handling decision for a failure.
type Category int

const (
	// Transient faults are retried automatically within a budget.
	Transient Category = iota
	// ValidationFixable faults have a known, bounded auto-repair.
	ValidationFixable
	// Fatal faults need an out-of-band account or configuration change.
	Fatal
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case ValidationFixable:
		return "validation_fixable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind names the specific failure within a category.
type Kind string

const (
	KindRateLimited        Kind = "rate_limited"
	KindServerError        Kind = "server_error"
	KindDescriptionMissing Kind = "description_missing"
	KindSKUConflict        Kind = "sku_conflict"
	KindFulfillmentPolicy  Kind = "fulfillment_policy_invalid"
	KindReturnPolicy       Kind = "return_policy_invalid"
	KindSellerRegistration Kind = "seller_registration_incomplete"
	KindNoPolicies         Kind = "no_policies_configured"
	KindGroupLink          Kind = "group_link_missing"
	KindRetryExhausted     Kind = "retry_exhausted"
	KindUnknown            Kind = "unknown"
)

// Marketplace error codes this table has been taught. Codes outside the
// table always classify Fatal: guessing an auto-repair for a code we have
// never seen risks an unbounded remediation loop.
const (
	CodeSystemError        = 25001
	CodeSKUConflict        = 25002
	CodeFulfillmentInvalid = 25007
	CodeSellerIneligible   = 25401
	CodeDescriptionInvalid = 25709
	CodeReturnInvalid      = 25713
	CodeNoPolicies         = 25714
)

// Classification is the decision for one (status, code, message) triple.
type Classification struct {
	Category Category
	Kind     Kind
}

// Classify decides how a marketplace failure should be handled. It is total:
// every input maps to one of the three categories and it never panics.
func Classify(status, code int, message string) Classification {
	// Status-level transients come first; the body of a 429 or 503 rarely
	// carries a meaningful marketplace code.
	if status == http.StatusTooManyRequests {
		return Classification{Transient, KindRateLimited}
	}
	if status >= 500 {
		return Classification{Transient, KindServerError}
	}

	msg := strings.ToLower(message)

	switch code {
	case CodeSystemError:
		return Classification{Transient, KindServerError}
	case CodeDescriptionInvalid:
		return Classification{ValidationFixable, KindDescriptionMissing}
	case CodeSKUConflict:
		if strings.Contains(msg, "already") || strings.Contains(msg, "exists") ||
			strings.Contains(msg, "linked") {
			return Classification{ValidationFixable, KindSKUConflict}
		}
		return Classification{Fatal, KindUnknown}
	case CodeFulfillmentInvalid:
		return Classification{Fatal, KindFulfillmentPolicy}
	case CodeReturnInvalid:
		return Classification{Fatal, KindReturnPolicy}
	case CodeSellerIneligible:
		return Classification{Fatal, KindSellerRegistration}
	case CodeNoPolicies:
		return Classification{Fatal, KindNoPolicies}
	}

	// Some description failures surface under generic codes with a telling
	// message; match those before giving up.
	if strings.Contains(msg, "description") &&
		(strings.Contains(msg, "missing") || strings.Contains(msg, "invalid") || strings.Contains(msg, "required")) {
		return Classification{ValidationFixable, KindDescriptionMissing}
	}
	if strings.Contains(msg, "shipping service") || strings.Contains(msg, "shipping services") {
		return Classification{Fatal, KindFulfillmentPolicy}
	}

	return Classification{Fatal, KindUnknown}
}
