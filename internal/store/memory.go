package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auctionhouse/bidding-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[string]*model.Auction
	ledger   map[string][]model.Bid // auctionID → bids in sequence order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*model.Auction),
		ledger:   make(map[string][]model.Bid),
	}
}

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[a.ID]; exists {
		return fmt.Errorf("auction %s already exists", a.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *a
	s.auctions[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAuctions(_ context.Context) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		auctions = append(auctions, *a)
	}
	return auctions, nil
}

func (s *MemoryStore) ListExpiredOpen(_ context.Context, now time.Time) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []model.Auction
	for _, a := range s.auctions {
		if a.Status == model.StatusOpen && !a.EndTime.After(now) {
			expired = append(expired, *a)
		}
	}
	return expired, nil
}

// CommitBid appends the ledger entry and updates the leader fields under a
// single lock acquisition, so no partial state is ever observable.
func (s *MemoryStore) CommitBid(_ context.Context, bid *model.Bid) (*model.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[bid.AuctionID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != model.StatusOpen {
		return nil, ErrNotOpen
	}
	if bid.Amount.Sub(a.HighestBid).LessThan(a.BidIncrement) {
		return nil, ErrOutbid
	}

	bid.SequenceNumber = a.BidCount + 1
	s.ledger[a.ID] = append(s.ledger[a.ID], *bid)

	a.HighestBid = bid.Amount
	a.HighestBidderID = bid.BidderID
	a.BidCount = bid.SequenceNumber

	copy := *a
	return &copy, nil
}

func (s *MemoryStore) EndAuction(_ context.Context, id string) (*model.Auction, error) {
	return s.transition(id, model.StatusEnded)
}

func (s *MemoryStore) DelistAuction(_ context.Context, id string) (*model.Auction, error) {
	return s.transition(id, model.StatusDelisted)
}

// transition performs the conditional open → terminal status change.
func (s *MemoryStore) transition(id, status string) (*model.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != model.StatusOpen {
		return nil, ErrNotOpen
	}
	a.Status = status

	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.ledger[auctionID]
	result := make([]model.Bid, len(bids))
	copy(result, bids)
	return result, nil
}
