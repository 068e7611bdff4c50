package bidding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/auctionhouse/bidding-engine/internal/metrics"
	"github.com/auctionhouse/bidding-engine/internal/model"
	"github.com/auctionhouse/bidding-engine/internal/store"
)

// DefaultScanInterval is how often the clock looks for expired auctions.
const DefaultScanInterval = 3 * time.Second

// Clock finalizes auctions whose end time has passed, independent of bid
// traffic. The client countdown is advisory only; this scan is the single
// authority for the open → ended transition.
//
// Finalization is idempotent: the store's conditional transition refuses
// auctions already terminal, so a duplicate scan or a store outage retried
// on the next tick can never double-finalize or double-broadcast.
type Clock struct {
	store    store.Store
	locks    *keyedMutex
	hub      *Hub
	interval time.Duration

	// OnEnded, when set, is invoked once per finalized auction after the
	// transition lands. Downstream order creation hooks in here.
	OnEnded func(a *model.Auction)
}

// NewClock creates a finalization clock sharing the service's per-auction
// locks. Pass nil for hub if broadcasting is not needed.
func NewClock(st store.Store, svc *Service, hub *Hub, interval time.Duration) *Clock {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Clock{
		store:    st,
		locks:    svc.locks,
		hub:      hub,
		interval: interval,
	}
}

// Run scans on a fixed interval until ctx is cancelled.
// Must be called in a goroutine.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("auction clock started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("auction clock stopped")
			return
		case <-ticker.C:
			c.Scan(ctx)
		}
	}
}

// Scan finalizes every open auction whose end time has passed. Store errors
// are logged and left for the next tick; finalization is idempotent so the
// retry is safe.
func (c *Clock) Scan(ctx context.Context) {
	expired, err := c.store.ListExpiredOpen(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("expired auction scan failed", "err", err)
		return
	}

	for _, a := range expired {
		c.finalize(ctx, a.ID)
	}
}

// finalize performs the exactly-once open → ended transition for one
// auction, under the same lock as bid processing so the transition never
// interleaves with a mid-flight bid commit.
func (c *Clock) finalize(ctx context.Context, auctionID string) {
	if !c.locks.Lock(ctx, auctionID) {
		return
	}

	ended, err := c.store.EndAuction(ctx, auctionID)
	c.locks.Unlock(auctionID)

	if err != nil {
		if errors.Is(err, store.ErrNotOpen) {
			// A concurrent scan or a manual close got there first.
			return
		}
		slog.Error("auction finalization failed, will retry next scan",
			"auction", auctionID, "err", err)
		return
	}

	metrics.AuctionsFinalized.WithLabelValues(model.StatusEnded).Inc()
	slog.Info("auction ended",
		"auction", ended.ID,
		"winner", ended.HighestBidderID,
		"final_amount", ended.HighestBid.String(),
		"bid_count", ended.BidCount,
	)

	if c.hub != nil {
		c.hub.BroadcastToAuction(ended.ID, Event{
			Type:        EventAuctionEnded,
			AuctionID:   ended.ID,
			WinnerID:    ended.HighestBidderID,
			FinalAmount: ended.HighestBid.String(),
		})
	}
	if c.OnEnded != nil {
		c.OnEnded(ended)
	}
}
