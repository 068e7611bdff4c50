// Package model defines the core domain types shared across the bidding engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction status values. Both ended and delisted are terminal: once an
// auction leaves open, no bid is ever accepted again.
const (
	StatusOpen     = "open"
	StatusEnded    = "ended"
	StatusDelisted = "delisted"
)

// Auction is the authoritative record for one product under bidding.
// HighestBid and HighestBidderID change together, exactly once per accepted
// bid, and never regress. BidCount is monotonically increasing.
type Auction struct {
	ID              string          `json:"id" db:"id"`
	SellerID        string          `json:"seller_id" db:"seller_id"`
	Title           string          `json:"title" db:"title"`
	EndTime         time.Time       `json:"end_time" db:"end_time"`
	BidIncrement    decimal.Decimal `json:"bid_increment" db:"bid_increment"`
	HighestBid      decimal.Decimal `json:"highest_bid" db:"highest_bid"`
	HighestBidderID string          `json:"highest_bidder_id" db:"highest_bidder_id"`
	BidCount        int             `json:"bid_count" db:"bid_count"`
	Status          string          `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Open reports whether the auction still accepts bids.
func (a *Auction) Open() bool {
	return a.Status == StatusOpen
}

// Bid is an immutable ledger entry for one accepted bid.
// SequenceNumber is strictly increasing per auction, assigned at acceptance,
// and is the client-visible ordering key. Rejected attempts are never persisted.
type Bid struct {
	ID             string          `json:"id" db:"id"`
	AuctionID      string          `json:"auction_id" db:"auction_id"`
	BidderID       string          `json:"bidder_id" db:"bidder_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	SequenceNumber int             `json:"sequence_number" db:"sequence_number"`
	AcceptedAt     time.Time       `json:"accepted_at" db:"accepted_at"`
}
