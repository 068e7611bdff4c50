package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/auctionhouse/bidding-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// CommitBid and the terminal transitions take a row lock on the auction so
// a bid commit and a finalization can never interleave at the database level.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const auctionColumns = `id, seller_id, title, end_time,
	bid_increment::TEXT, highest_bid::TEXT, highest_bidder_id,
	bid_count, status, created_at`

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (id, seller_id, title, end_time, bid_increment, highest_bid, highest_bidder_id, bid_count, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		a.ID, a.SellerID, a.Title, a.EndTime,
		a.BidIncrement.String(), a.HighestBid.String(), a.HighestBidderID,
		a.BidCount, a.Status, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAuctions(rows)
}

func (s *PostgresStore) ListExpiredOpen(ctx context.Context, now time.Time) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE status = $1 AND end_time <= $2 ORDER BY end_time`,
		model.StatusOpen, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAuctions(rows)
}

// CommitBid runs a single transaction: lock the auction row, re-check the
// status and increment against the persisted state, assign the next sequence
// number, append the ledger row, and update the leader fields. Any failure
// rolls the whole operation back.
func (s *PostgresStore) CommitBid(ctx context.Context, bid *model.Bid) (*model.Auction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit bid: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`,
		bid.AuctionID)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock auction %s: %w", bid.AuctionID, err)
	}

	if a.Status != model.StatusOpen {
		return nil, ErrNotOpen
	}
	if bid.Amount.Sub(a.HighestBid).LessThan(a.BidIncrement) {
		return nil, ErrOutbid
	}

	bid.SequenceNumber = a.BidCount + 1

	if _, err := tx.Exec(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, sequence_number, accepted_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		bid.ID, bid.AuctionID, bid.BidderID,
		bid.Amount.String(), bid.SequenceNumber, bid.AcceptedAt,
	); err != nil {
		return nil, fmt.Errorf("append bid ledger: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE auctions
		 SET highest_bid = $2::NUMERIC, highest_bidder_id = $3, bid_count = $4
		 WHERE id = $1`,
		a.ID, bid.Amount.String(), bid.BidderID, bid.SequenceNumber,
	); err != nil {
		return nil, fmt.Errorf("update auction leader: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bid: %w", err)
	}

	a.HighestBid = bid.Amount
	a.HighestBidderID = bid.BidderID
	a.BidCount = bid.SequenceNumber
	return a, nil
}

func (s *PostgresStore) EndAuction(ctx context.Context, id string) (*model.Auction, error) {
	return s.transition(ctx, id, model.StatusEnded)
}

func (s *PostgresStore) DelistAuction(ctx context.Context, id string) (*model.Auction, error) {
	return s.transition(ctx, id, model.StatusDelisted)
}

// transition performs the conditional open → terminal update. The WHERE
// clause on status makes the update a no-op when a concurrent scan or a
// manual close already landed, which the caller sees as ErrNotOpen.
func (s *PostgresStore) transition(ctx context.Context, id, status string) (*model.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE auctions SET status = $2
		 WHERE id = $1 AND status = $3
		 RETURNING `+auctionColumns,
		id, status, model.StatusOpen)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either missing or already terminal; disambiguate for callers.
			if _, getErr := s.GetAuction(ctx, id); errors.Is(getErr, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, ErrNotOpen
		}
		return nil, fmt.Errorf("transition auction %s to %s: %w", id, status, err)
	}
	return a, nil
}

func (s *PostgresStore) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, auction_id, bidder_id, amount::TEXT, sequence_number, accepted_at
		 FROM bids WHERE auction_id = $1 ORDER BY sequence_number`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		var amountS string
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID,
			&amountS, &b.SequenceNumber, &b.AcceptedAt); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amountS)
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// --- Row scanning helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row pgxRow) (*model.Auction, error) {
	var a model.Auction
	var incrS, highestS string

	if err := row.Scan(&a.ID, &a.SellerID, &a.Title, &a.EndTime,
		&incrS, &highestS, &a.HighestBidderID,
		&a.BidCount, &a.Status, &a.CreatedAt); err != nil {
		return nil, err
	}

	a.BidIncrement, _ = decimal.NewFromString(incrS)
	a.HighestBid, _ = decimal.NewFromString(highestS)
	return &a, nil
}

func collectAuctions(rows pgx.Rows) ([]model.Auction, error) {
	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}
