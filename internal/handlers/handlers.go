package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/cardbin/ebay-lister/internal/classify"
	"github.com/cardbin/ebay-lister/internal/database"
	"github.com/cardbin/ebay-lister/internal/ebay"
	"github.com/cardbin/ebay-lister/internal/policy"
	"github.com/cardbin/ebay-lister/internal/publisher"
)

const sessionName = "ebay-lister"

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db            *database.DB
	ebayClient    *ebay.Client
	pub           *publisher.Publisher
	policies      *policy.Resolver
	account       *database.Account // can be nil until OAuth completes
	encryptionKey []byte            // nil disables token persistence
	store         sessions.Store
	logger        *zap.Logger
}

// NewHandler creates a new handler. The OAuth state nonce rides in a
// signed cookie session; the signing key rotates per process.
func NewHandler(db *database.DB, client *ebay.Client, pub *publisher.Publisher, policies *policy.Resolver, account *database.Account, encryptionKey []byte, logger *zap.Logger) *Handler {
	store := sessions.NewCookieStore(securecookie.GenerateRandomKey(32))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Handler{
		db:            db,
		ebayClient:    client,
		pub:           pub,
		policies:      policies,
		account:       account,
		encryptionKey: encryptionKey,
		store:         store,
		logger:        logger,
	}
}

// JSON response helper
func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encoding JSON response", zap.Error(err))
	}
}

// Error response helper
func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// HealthCheck returns API health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"authenticated": h.ebayClient.IsAuthenticated(),
		"configured":    h.ebayClient.IsConfigured(),
		"hasAccount":    h.account != nil,
	})
}

// GetAuthURL returns the OAuth authorization URL
func (h *Handler) GetAuthURL(w http.ResponseWriter, r *http.Request) {
	session, _ := h.store.Get(r, sessionName)
	state := uuid.NewString()
	session.Values["oauth_state"] = state
	if err := session.Save(r, w); err != nil {
		h.logger.Error("saving oauth session", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, "failed to start OAuth flow")
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]string{"url": h.ebayClient.GetAuthURL(state)})
}

// OAuthCallback handles the OAuth callback
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	errParam := r.URL.Query().Get("error")

	if errParam != "" {
		h.logger.Warn("OAuth error from eBay",
			zap.String("error", errParam),
			zap.String("description", r.URL.Query().Get("error_description")))
		http.Error(w, "eBay OAuth error: "+errParam, http.StatusBadRequest)
		return
	}

	session, _ := h.store.Get(r, sessionName)
	expected, _ := session.Values["oauth_state"].(string)
	if expected == "" || state != expected {
		h.logger.Warn("OAuth state mismatch")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}
	delete(session.Values, "oauth_state")
	_ = session.Save(r, w)

	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	if err := h.ebayClient.ExchangeCode(r.Context(), code); err != nil {
		h.logger.Error("OAuth exchange failed", zap.Error(err))
		http.Error(w, "Failed to authenticate: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if h.account != nil && h.encryptionKey != nil {
		if err := h.db.SaveToken(h.account.ID, h.ebayClient.Token(), h.encryptionKey); err != nil {
			h.logger.Error("persisting token", zap.Error(err))
		}
	}

	h.logger.Info("OAuth complete")
	http.Redirect(w, r, "/?auth=success", http.StatusFound)
}

// GetAuthStatus returns current auth status
func (h *Handler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"authenticated": h.ebayClient.IsAuthenticated(),
		"configured":    h.ebayClient.IsConfigured(),
	})
}

// GetPolicies returns the seller's business policies and locations
func (h *Handler) GetPolicies(w http.ResponseWriter, r *http.Request) {
	if !h.ebayClient.IsAuthenticated() {
		h.errorResponse(w, http.StatusUnauthorized, "Not authenticated with eBay")
		return
	}

	ctx := r.Context()
	fulfillment, err := h.policies.ListFulfillmentPolicies(ctx)
	if err != nil {
		h.logger.Error("listing fulfillment policies", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	payment, err := h.policies.ListPaymentPolicies(ctx)
	if err != nil {
		h.logger.Error("listing payment policies", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	ret, err := h.policies.ListReturnPolicies(ctx)
	if err != nil {
		h.logger.Error("listing return policies", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	locations, err := h.policies.ListLocations(ctx)
	if err != nil {
		h.logger.Error("listing locations", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"fulfillmentPolicies": fulfillment,
		"paymentPolicies":     payment,
		"returnPolicies":      ret,
		"locations":           locations,
	})
}

// PublishListing runs the full publication pipeline for one variation
// listing and returns the result or a classified failure.
func (h *Handler) PublishListing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if !h.ebayClient.IsAuthenticated() {
		h.errorResponse(w, http.StatusUnauthorized, "Not authenticated with eBay")
		return
	}

	var listing publisher.Listing
	if err := json.NewDecoder(r.Body).Decode(&listing); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid listing payload: "+err.Error())
		return
	}

	result, err := h.pub.Publish(r.Context(), listing)
	if err != nil {
		var pubErr *publisher.PublicationError
		if errors.As(err, &pubErr) {
			h.logger.Warn("publish failed",
				zap.String("groupKey", pubErr.GroupKey),
				zap.String("category", pubErr.Category.String()),
				zap.String("kind", string(pubErr.Kind)))
			h.jsonResponse(w, publishErrorStatus(pubErr.Category), pubErr)
			return
		}
		h.logger.Error("publish failed", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.jsonResponse(w, http.StatusOK, result)
}

// publishErrorStatus maps classifier categories onto HTTP statuses.
func publishErrorStatus(cat classify.Category) int {
	switch cat {
	case classify.Transient:
		return http.StatusBadGateway
	case classify.ValidationFixable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}

// GetPublishHistory returns recent publish attempts
func (h *Handler) GetPublishHistory(w http.ResponseWriter, r *http.Request) {
	groupKey := r.URL.Query().Get("group_key")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	attempts, err := h.db.GetPublishAttempts(groupKey, limit)
	if err != nil {
		h.logger.Error("fetching publish history", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"attempts": attempts,
		"total":    len(attempts),
	})
}
