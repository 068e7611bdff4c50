package bidding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/auctionhouse/bidding-engine/internal/metrics"
	"github.com/auctionhouse/bidding-engine/internal/model"
	"github.com/auctionhouse/bidding-engine/internal/store"
)

// DefaultLockTimeout bounds how long a bid proposal may wait for the
// per-auction lock plus its commit before failing back as transient.
const DefaultLockTimeout = 5 * time.Second

// Service is the bid processor. Processing for a given auction id is
// serialized through a keyed mutex shared with the Clock; processing for
// different auctions proceeds fully in parallel.
type Service struct {
	store       store.Store
	locks       *keyedMutex
	lockTimeout time.Duration
	hub         *Hub // optional hub for real-time fan-out
}

// NewService creates a bid processor over the given store.
// Pass nil for hub if real-time broadcasting is not needed.
func NewService(st store.Store, hub *Hub) *Service {
	return &Service{
		store:       st,
		locks:       newKeyedMutex(),
		lockTimeout: DefaultLockTimeout,
		hub:         hub,
	}
}

// PlaceBid validates a proposal against the current persisted state and, if
// and only if valid, commits exactly one ledger entry and the updated leader
// fields. Under N concurrent proposals for the same auction at most one
// becomes leader per round; every other proposal is validated against the
// post-commit state of whichever committed first.
//
// Returns the committed bid, or a rejection (see IsRejection) or transient
// error. Broadcasting happens after commit, outside the critical section.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*model.Bid, error) {
	start := time.Now()
	bid, updated, err := s.placeBid(ctx, auctionID, bidderID, amount)
	metrics.BidLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.BidsTotal.WithLabelValues("accepted").Inc()
		slog.Info("bid accepted",
			"auction", auctionID,
			"bidder", bidderID,
			"amount", amount.String(),
			"sequence", bid.SequenceNumber,
		)
	case IsRejection(err):
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.BidsTotal.WithLabelValues("transient").Inc()
		slog.Warn("bid failed transiently",
			"auction", auctionID,
			"bidder", bidderID,
			"err", err,
		)
	}

	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.BroadcastToAuction(auctionID, Event{
			Type:           EventRefresh,
			AuctionID:      auctionID,
			BidAmount:      updated.HighestBid.String(),
			BidderID:       updated.HighestBidderID,
			BidCount:       updated.BidCount,
			SequenceNumber: bid.SequenceNumber,
			EndTime:        updated.EndTime.UnixMilli(),
		})
	}
	return bid, nil
}

// placeBid holds the per-auction critical section. The lock is released on
// every exit path before any network delivery happens.
func (s *Service) placeBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*model.Bid, *model.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if !s.locks.Lock(ctx, auctionID) {
		return nil, nil, ErrLockTimeout
	}
	defer s.locks.Unlock(auctionID)

	// Re-read the authoritative state; client-observed state is advisory only.
	auction, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrAuctionNotFound
		}
		return nil, nil, ErrCommitFailed
	}

	if err := Validate(auction, bidderID, amount); err != nil {
		return nil, nil, err
	}

	bid := &model.Bid{
		ID:         uuid.New().String(),
		AuctionID:  auctionID,
		BidderID:   bidderID,
		Amount:     amount,
		AcceptedAt: time.Now().UTC(),
	}

	updated, err := s.store.CommitBid(ctx, bid)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, nil, ErrAuctionNotFound
		case errors.Is(err, store.ErrNotOpen):
			return nil, nil, ErrAuctionClosed
		case errors.Is(err, store.ErrOutbid):
			// A stale snapshot lost the race; the store refused the commit.
			return nil, nil, ErrBidTooLow
		default:
			return nil, nil, ErrCommitFailed
		}
	}

	return bid, updated, nil
}

// Delist transitions an auction open → delisted on behalf of the moderation
// collaborator. Shares the per-auction lock with bid processing so the
// takedown never interleaves with a bid commit. Idempotent: delisting an
// already-terminal auction returns the auction unchanged with no broadcast.
func (s *Service) Delist(ctx context.Context, auctionID string) (*model.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if !s.locks.Lock(ctx, auctionID) {
		return nil, ErrLockTimeout
	}

	a, err := s.store.DelistAuction(ctx, auctionID)
	s.locks.Unlock(auctionID)

	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrAuctionNotFound
		case errors.Is(err, store.ErrNotOpen):
			return s.store.GetAuction(ctx, auctionID)
		default:
			return nil, err
		}
	}

	metrics.AuctionsFinalized.WithLabelValues(model.StatusDelisted).Inc()
	slog.Info("auction delisted", "auction", auctionID)

	if s.hub != nil {
		s.hub.BroadcastToAuction(auctionID, Event{
			Type:      EventAuctionDelisted,
			AuctionID: auctionID,
		})
	}
	return a, nil
}

// SetLockTimeout overrides the bound on lock acquisition plus commit.
func (s *Service) SetLockTimeout(d time.Duration) {
	if d > 0 {
		s.lockTimeout = d
	}
}
