package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ListingService is what the listing endpoints need from the service layer.
type ListingService interface {
	CreateListing(ctx context.Context, req domain.NewListing) (domain.Listing, error)
	CancelListing(ctx context.Context, id, caller string) (domain.Listing, error)
	PurchaseListing(ctx context.Context, id, buyer string, payment domain.Payment) (domain.SettlementResult, error)
	ExpireListing(ctx context.Context, id string, now time.Time) (domain.Listing, error)
	GetListing(ctx context.Context, id string) (domain.Listing, error)
	ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error)
	GetSettlement(ctx context.Context, listingID string) (domain.SettlementResult, error)
}

// ListingHandler serves /api/listings and /api/settlements.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logHandler(logger, "listing"),
	}
}

type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

type purchaseRequest struct {
	Buyer    string `json:"buyer"`
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

// CreateListing creates a listing and escrows the asset.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req domain.NewListing
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	l, err := h.listings.CreateListing(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// ListListings pages through listings.
// GET /api/listings?state=active&seller=...&asset_ref=...&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ListingFilter{
		State:    domain.ListingState(q.Get("state")),
		Seller:   q.Get("seller"),
		AssetRef: q.Get("asset_ref"),
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "bad_request", name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	listings, err := h.listings.ListListings(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listListingsResponse{Listings: listings, Limit: f.Limit, Offset: f.Offset})
}

// GetListing returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.GetListing(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// CancelListing returns the asset to the seller.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	l, err := h.listings.CancelListing(r.Context(), r.PathValue("id"), req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// PurchaseListing settles a sale.
// POST /api/listings/{id}/purchase
func (h *ListingHandler) PurchaseListing(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	res, err := h.listings.PurchaseListing(r.Context(), r.PathValue("id"), req.Buyer,
		domain.Payment{Amount: req.Amount, Currency: req.Currency})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExpireListing expires a listing whose expiry has passed by the server
// clock. Any request body is ignored.
// POST /api/listings/{id}/expire
func (h *ListingHandler) ExpireListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.ExpireListing(r.Context(), r.PathValue("id"), time.Time{})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GetSettlement returns the settlement of a sold listing.
// GET /api/settlements/{id}
func (h *ListingHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	res, err := h.listings.GetSettlement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
