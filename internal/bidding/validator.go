// Package bidding implements the auction bidding and lifecycle engine:
// bid validation, serialized bid processing, the finalization clock, and
// real-time fan-out to watching connections.
//
// All monetary values use shopspring/decimal — never float64 for money.
package bidding

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/auctionhouse/bidding-engine/internal/model"
)

// Rejection errors: business-rule failures reported to the submitter only,
// never retried automatically, never logged as operational errors.
var (
	// ErrAuctionClosed is returned when the auction has ended or been delisted.
	ErrAuctionClosed = errors.New("bidding: auction is closed")

	// ErrAuthenticationRequired is returned when the bidder identity is absent.
	ErrAuthenticationRequired = errors.New("bidding: sign in before bidding")

	// ErrSelfBidding is returned when a seller bids on their own auction.
	ErrSelfBidding = errors.New("bidding: sellers may not bid on their own auction")

	// ErrBidTooLow is returned when the increment over the current highest
	// bid is below the auction's minimum increment.
	ErrBidTooLow = errors.New("bidding: bid below minimum increment")

	// ErrBidImplausiblyHigh is returned when the increment exceeds 100× the
	// minimum increment. Guards against fat-finger amounts.
	ErrBidImplausiblyHigh = errors.New("bidding: bid exceeds 100x the minimum increment")

	// ErrAuctionNotFound is returned for a bid on an unknown auction.
	ErrAuctionNotFound = errors.New("bidding: auction not found")
)

// Transient errors: retryable by the submitter, never a business outcome.
var (
	// ErrLockTimeout is returned when a proposal cannot acquire the
	// per-auction lock within the configured bound.
	ErrLockTimeout = errors.New("bidding: timed out waiting for auction lock, retry")

	// ErrCommitFailed is returned when the persistence layer fails
	// mid-commit. The operation was rolled back; the client may retry.
	ErrCommitFailed = errors.New("bidding: bid could not be committed, retry")
)

// maxIncrementMultiple caps how far above the current highest bid a proposal
// may reach, in multiples of the auction's minimum increment.
var maxIncrementMultiple = decimal.NewFromInt(100)

// Validate decides whether a proposed bid is acceptable given the auction
// snapshot. Pure function: no side effects, first failing rule wins.
//
// The processor re-runs this against the latest persisted state inside the
// per-auction critical section, because the state the client composed its
// bid against may have changed in flight.
func Validate(a *model.Auction, bidderID string, amount decimal.Decimal) error {
	if !a.Open() {
		return ErrAuctionClosed
	}
	if bidderID == "" {
		return ErrAuthenticationRequired
	}
	if bidderID == a.SellerID {
		return ErrSelfBidding
	}

	increment := amount.Sub(a.HighestBid)
	if increment.LessThan(a.BidIncrement) {
		return ErrBidTooLow
	}
	if increment.GreaterThan(a.BidIncrement.Mul(maxIncrementMultiple)) {
		return ErrBidImplausiblyHigh
	}
	return nil
}

// IsRejection reports whether err is a business-rule rejection rather than
// a transient or operational failure.
func IsRejection(err error) bool {
	for _, r := range []error{
		ErrAuctionClosed,
		ErrAuthenticationRequired,
		ErrSelfBidding,
		ErrBidTooLow,
		ErrBidImplausiblyHigh,
		ErrAuctionNotFound,
	} {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
