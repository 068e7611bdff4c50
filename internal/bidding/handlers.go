package bidding

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/auctionhouse/bidding-engine/internal/model"
	"github.com/auctionhouse/bidding-engine/internal/store"
)

// Handlers exposes the HTTP surface for the engine's collaborators: the
// listing service creates auction records, the moderation service delists,
// and page loads read current state and bid history. Bids themselves travel
// over the WebSocket channel, not HTTP.
type Handlers struct {
	store store.Store
	svc   *Service
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(st store.Store, svc *Service) *Handlers {
	return &Handlers{store: st, svc: svc}
}

// CreateAuctionRequest is the JSON body for auction creation.
type CreateAuctionRequest struct {
	SellerID     string          `json:"seller_id"`
	Title        string          `json:"title"`
	EndTime      time.Time       `json:"end_time"`
	BidIncrement decimal.Decimal `json:"bid_increment"`
	StartingBid  decimal.Decimal `json:"starting_bid"` // opening highest bid, 0 allowed
}

// CreateAuction handles POST /api/v1/auctions
func (h *Handlers) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.SellerID == "" {
		writeError(w, "seller_id is required", http.StatusBadRequest)
		return
	}
	if !req.EndTime.After(time.Now()) {
		writeError(w, "end_time must be in the future", http.StatusBadRequest)
		return
	}
	if req.BidIncrement.LessThanOrEqual(decimal.Zero) {
		writeError(w, "bid_increment must be positive", http.StatusBadRequest)
		return
	}
	if req.StartingBid.IsNegative() {
		writeError(w, "starting_bid must not be negative", http.StatusBadRequest)
		return
	}

	auction := &model.Auction{
		ID:           uuid.New().String(),
		SellerID:     req.SellerID,
		Title:        req.Title,
		EndTime:      req.EndTime.UTC(),
		BidIncrement: req.BidIncrement,
		HighestBid:   req.StartingBid,
		Status:       model.StatusOpen,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.store.CreateAuction(r.Context(), auction); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("auction created",
		"id", auction.ID,
		"seller", auction.SellerID,
		"end_time", auction.EndTime,
		"increment", auction.BidIncrement.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(auction)
}

// GetAuction handles GET /api/v1/auctions/{auctionID}
func (h *Handlers) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	auction, err := h.store.GetAuction(r.Context(), auctionID)
	if err != nil {
		writeError(w, "auction not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(auction)
}

// ListAuctions handles GET /api/v1/auctions
func (h *Handlers) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.store.ListAuctions(r.Context())
	if err != nil {
		writeError(w, "failed to list auctions", http.StatusInternalServerError)
		return
	}
	if auctions == nil {
		auctions = []model.Auction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(auctions)
}

// GetBidHistory handles GET /api/v1/auctions/{auctionID}/bids
// Returns the accepted-bid ledger in sequence order.
func (h *Handlers) GetBidHistory(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	if _, err := h.store.GetAuction(r.Context(), auctionID); err != nil {
		writeError(w, "auction not found", http.StatusNotFound)
		return
	}

	bids, err := h.store.GetBidsByAuction(r.Context(), auctionID)
	if err != nil {
		writeError(w, "failed to get bid history", http.StatusInternalServerError)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bids)
}

// DelistAuction handles POST /api/v1/auctions/{auctionID}/delist
// Moderation collaborator hook: terminal takedown, idempotent.
func (h *Handlers) DelistAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	auction, err := h.svc.Delist(r.Context(), auctionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAuctionNotFound):
			writeError(w, "auction not found", http.StatusNotFound)
		case errors.Is(err, ErrLockTimeout):
			writeError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			writeError(w, "failed to delist auction", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(auction)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
