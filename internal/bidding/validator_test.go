package bidding

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/auctionhouse/bidding-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// openAuction returns an open auction with highest bid 100 and increment 10.
func openAuction() *model.Auction {
	return &model.Auction{
		ID:              "a1",
		SellerID:        "seller",
		EndTime:         time.Now().Add(time.Hour),
		BidIncrement:    d(10),
		HighestBid:      d(100),
		HighestBidderID: "leader",
		BidCount:        3,
		Status:          model.StatusOpen,
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(a *model.Auction)
		bidderID string
		amount   decimal.Decimal
		want     error
	}{
		{
			name:     "accept_exact_increment",
			bidderID: "buyer",
			amount:   d(110),
			want:     nil,
		},
		{
			name:     "accept_mid_range",
			bidderID: "buyer",
			amount:   d(500),
			want:     nil,
		},
		{
			name:     "accept_exact_max_increment",
			bidderID: "buyer",
			amount:   d(1100), // increment 1000 = 100 × 10
			want:     nil,
		},
		{
			name:     "reject_one_below_increment",
			bidderID: "buyer",
			amount:   d(109),
			want:     ErrBidTooLow,
		},
		{
			name:     "reject_equal_to_highest",
			bidderID: "buyer",
			amount:   d(100),
			want:     ErrBidTooLow,
		},
		{
			name:     "reject_one_above_max_increment",
			bidderID: "buyer",
			amount:   d(1101),
			want:     ErrBidImplausiblyHigh,
		},
		{
			name:     "reject_unauthenticated",
			bidderID: "",
			amount:   d(110),
			want:     ErrAuthenticationRequired,
		},
		{
			name:     "reject_self_bid",
			bidderID: "seller",
			amount:   d(110),
			want:     ErrSelfBidding,
		},
		{
			name:     "reject_ended",
			mutate:   func(a *model.Auction) { a.Status = model.StatusEnded },
			bidderID: "buyer",
			amount:   d(110),
			want:     ErrAuctionClosed,
		},
		{
			name:     "reject_delisted",
			mutate:   func(a *model.Auction) { a.Status = model.StatusDelisted },
			bidderID: "buyer",
			amount:   d(110),
			want:     ErrAuctionClosed,
		},
		{
			// Closed wins over every later rule, including authentication.
			name:     "closed_checked_before_auth",
			mutate:   func(a *model.Auction) { a.Status = model.StatusEnded },
			bidderID: "",
			amount:   d(110),
			want:     ErrAuctionClosed,
		},
		{
			// Self-bid rejected regardless of amount (scenario D).
			name:     "self_bid_checked_before_amount",
			mutate:   nil,
			bidderID: "seller",
			amount:   d(99999),
			want:     ErrSelfBidding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := openAuction()
			if tt.mutate != nil {
				tt.mutate(a)
			}
			err := Validate(a, tt.bidderID, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIsRejection(t *testing.T) {
	for _, err := range []error{
		ErrAuctionClosed, ErrAuthenticationRequired, ErrSelfBidding,
		ErrBidTooLow, ErrBidImplausiblyHigh, ErrAuctionNotFound,
	} {
		if !IsRejection(err) {
			t.Errorf("IsRejection(%v) = false, want true", err)
		}
	}
	for _, err := range []error{ErrLockTimeout, ErrCommitFailed, errors.New("boom")} {
		if IsRejection(err) {
			t.Errorf("IsRejection(%v) = true, want false", err)
		}
	}
}
