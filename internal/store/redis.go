package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auctionhouse/bidding-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for auction snapshots. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
//
// The cache only serves page loads and list views. Bid correctness never
// depends on it: CommitBid re-checks status and increment inside the primary
// store's transaction, so a stale cached snapshot can at worst cause a
// rejection, never a regressed leader.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.cacheAuction(ctx, a)
	return nil
}

func (s *CachedStore) CommitBid(ctx context.Context, bid *model.Bid) (*model.Auction, error) {
	a, err := s.primary.CommitBid(ctx, bid)
	if err != nil {
		return nil, err
	}
	// Re-cache the post-commit snapshot so watchers refreshing the page
	// see the new leader immediately.
	s.cacheAuction(ctx, a)
	return a, nil
}

func (s *CachedStore) EndAuction(ctx context.Context, id string) (*model.Auction, error) {
	a, err := s.primary.EndAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAuction(ctx, a)
	return a, nil
}

func (s *CachedStore) DelistAuction(ctx context.Context, id string) (*model.Auction, error) {
	a, err := s.primary.DelistAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAuction(ctx, a)
	return a, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	data, err := s.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err == nil {
		var a model.Auction
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAuction(ctx, a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	return s.primary.ListAuctions(ctx)
}

func (s *CachedStore) ListExpiredOpen(ctx context.Context, now time.Time) ([]model.Auction, error) {
	return s.primary.ListExpiredOpen(ctx, now)
}

func (s *CachedStore) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return s.primary.GetBidsByAuction(ctx, auctionID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAuction(ctx context.Context, a *model.Auction) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, auctionKey(a.ID), data, s.ttl)
	}
}

func auctionKey(id string) string { return fmt.Sprintf("auction:%s", id) }
