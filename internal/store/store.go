// Package store defines the persistence interface for the bidding engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/auctionhouse/bidding-engine/internal/model"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when no auction exists for the given id.
	ErrNotFound = errors.New("store: auction not found")

	// ErrNotOpen is returned when a mutation requires an open auction but
	// the auction has already reached a terminal status.
	ErrNotOpen = errors.New("store: auction not open")

	// ErrOutbid is returned by CommitBid when the bid no longer clears the
	// increment over the persisted highest bid. Under the per-auction lock
	// this only happens if the caller validated against a stale snapshot;
	// the commit is refused so the leader fields never regress.
	ErrOutbid = errors.New("store: bid does not clear current highest")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. All mutations are atomic from
// the engine's perspective: partial application is never observable.
type Store interface {
	// --- Auction operations ---

	// CreateAuction persists a new auction record. Called by the listing
	// collaborator when a product goes up for bidding.
	CreateAuction(ctx context.Context, a *model.Auction) error

	// GetAuction retrieves an auction by id.
	GetAuction(ctx context.Context, id string) (*model.Auction, error)

	// ListAuctions returns all auctions.
	ListAuctions(ctx context.Context) ([]model.Auction, error)

	// ListExpiredOpen returns open auctions whose end time is at or before now.
	ListExpiredOpen(ctx context.Context, now time.Time) ([]model.Auction, error)

	// CommitBid atomically appends a ledger entry and updates the auction's
	// leader fields. The store assigns the bid's SequenceNumber and re-checks
	// status and increment inside the same transaction. Returns the updated
	// auction on success.
	CommitBid(ctx context.Context, bid *model.Bid) (*model.Auction, error)

	// EndAuction transitions an auction open → ended, conditional on it
	// still being open. Returns ErrNotOpen when already terminal, which
	// makes retried finalization scans safe.
	EndAuction(ctx context.Context, id string) (*model.Auction, error)

	// DelistAuction transitions an auction open → delisted, conditional on
	// it still being open. Invoked by the moderation collaborator; terminal
	// exactly like ended.
	DelistAuction(ctx context.Context, id string) (*model.Auction, error)

	// --- Immutable bid ledger ---

	// GetBidsByAuction returns the accepted bids for an auction in
	// sequence-number order.
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
}
