// Package auction runs the single-slot auction house. One listing at a time;
// every losing bid is refunded in full, so the house only ever holds the
// current highest bid.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nexus/internal/account"
	"nexus/internal/ledger"
	"nexus/internal/store"
)

const statePath = "auction/state"

var ErrNoListing = errors.New("auction: no active listing")

type Item struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ItemID      string `json:"itemId"`
}

type BidEntry struct {
	Username  string `json:"username"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type Listing struct {
	ID            string     `json:"id"`
	Item          Item       `json:"item"`
	StartingBid   int64      `json:"startingBid"`
	MinIncrement  int64      `json:"minIncrement"`
	CloseTime     int64      `json:"closeTime"`
	CurrentBid    int64      `json:"currentBid"`
	HighestBidder string     `json:"highestBidder,omitempty"`
	History       []BidEntry `json:"history"`
}

func (l Listing) closed(now time.Time) bool { return now.Unix() >= l.CloseTime }

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	accounts *account.Service
	log      *slog.Logger
	now      func() time.Time
}

func NewService(s store.Store, l *ledger.Ledger, accounts *account.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, ledger: l, accounts: accounts, log: logger, now: time.Now}
}

// Get returns the active listing, or ErrNoListing when the block is empty.
func (s *Service) Get(ctx context.Context) (Listing, error) {
	entry, err := s.store.Read(ctx, statePath)
	if errors.Is(err, store.ErrNotFound) {
		return Listing{}, ErrNoListing
	}
	if err != nil {
		return Listing{}, err
	}
	var listing Listing
	if err := entry.Decode(&listing); err != nil {
		return Listing{}, fmt.Errorf("decode listing: %w", err)
	}
	return listing, nil
}

// Create puts a new item on the block. Admin surface; fails while a listing
// is already up.
func (s *Service) Create(ctx context.Context, item Item, startingBid, minIncrement int64, duration time.Duration) (Listing, error) {
	if startingBid <= 0 || minIncrement <= 0 {
		return Listing{}, errors.New("auction: startingBid and minIncrement must be positive")
	}
	if duration <= 0 {
		return Listing{}, errors.New("auction: duration must be positive")
	}
	listing := Listing{
		ID:           uuid.NewString(),
		Item:         item,
		StartingBid:  startingBid,
		MinIncrement: minIncrement,
		CloseTime:    s.now().Add(duration).Unix(),
		History:      []BidEntry{},
	}
	err := s.store.CompareAndSwap(ctx, statePath, listing, 0)
	if errors.Is(err, store.ErrVersionConflict) {
		return Listing{}, errors.New("auction: a listing is already active")
	}
	if err != nil {
		return Listing{}, err
	}
	s.log.Info("listing created", "id", listing.ID, "item", item.Name, "startingBid", startingBid)
	return listing, nil
}

// Bid places a bid. The new bidder's credits are debited first; once the
// listing swap lands, the previous highest bidder gets their full bid back.
// Net effect: escrow always equals the current highest bid.
func (s *Service) Bid(ctx context.Context, username string, amount int64) (Result, error) {
	listing, err := s.Get(ctx)
	if errors.Is(err, ErrNoListing) {
		return Result{Success: false, Message: "Nothing is on the block right now."}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if listing.closed(s.now()) {
		return Result{Success: false, Message: "Bidding has closed."}, nil
	}
	if username == listing.HighestBidder {
		return Result{Success: false, Message: "You are already the highest bidder."}, nil
	}

	minBid := listing.StartingBid
	if listing.HighestBidder != "" {
		minBid = listing.CurrentBid + listing.MinIncrement
	}
	if amount < minBid {
		return Result{Success: false, Message: fmt.Sprintf("Minimum bid is %d credits.", minBid)}, nil
	}

	err = s.ledger.Debit(ctx, username, amount, "auction bid")
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return Result{Success: false, Message: "You cannot cover that bid."}, nil
	}
	if err != nil {
		return Result{}, err
	}

	entry, err := s.store.Read(ctx, statePath)
	if err != nil {
		// The listing vanished mid-bid; give the money back.
		if rerr := s.ledger.Refund(ctx, username, amount, "auction bid rollback"); rerr != nil {
			return Result{}, rerr
		}
		if errors.Is(err, store.ErrNotFound) {
			return Result{Success: false, Message: "The listing closed under you."}, nil
		}
		return Result{}, err
	}
	var cur Listing
	if err := cur.decodeFrom(entry); err != nil {
		return Result{}, err
	}

	// Re-validate against the version we are about to swap.
	if cur.ID != listing.ID || cur.closed(s.now()) || amount < nextMinBid(cur) || username == cur.HighestBidder {
		if rerr := s.ledger.Refund(ctx, username, amount, "auction bid rollback"); rerr != nil {
			return Result{}, rerr
		}
		return Result{Success: false, Message: "You were outbid. Try again."}, nil
	}

	prevBidder, prevBid := cur.HighestBidder, cur.CurrentBid
	cur.CurrentBid = amount
	cur.HighestBidder = username
	cur.History = append(cur.History, BidEntry{Username: username, Amount: amount, Timestamp: s.now().Unix()})

	err = s.store.CompareAndSwap(ctx, statePath, cur, entry.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		if rerr := s.ledger.Refund(ctx, username, amount, "auction bid lost race"); rerr != nil {
			return Result{}, rerr
		}
		return Result{Success: false, Message: "You were outbid. Try again."}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if prevBidder != "" {
		if err := s.ledger.Refund(ctx, prevBidder, prevBid, "auction outbid"); err != nil {
			s.log.Error("outbid refund failed", "username", prevBidder, "amount", prevBid, "err", err)
			return Result{}, err
		}
	}
	s.log.Info("bid placed", "username", username, "amount", amount, "listing", cur.ID)
	return Result{Success: true, Message: "You are the highest bidder."}, nil
}

func (l *Listing) decodeFrom(entry store.Entry) error {
	if err := entry.Decode(l); err != nil {
		return fmt.Errorf("decode listing: %w", err)
	}
	return nil
}

func nextMinBid(l Listing) int64 {
	if l.HighestBidder == "" {
		return l.StartingBid
	}
	return l.CurrentBid + l.MinIncrement
}

// Claim hands the item to the winning bidder once the listing has closed and
// clears the block.
func (s *Service) Claim(ctx context.Context, username string) (Result, error) {
	entry, err := s.store.Read(ctx, statePath)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Success: false, Message: "Nothing to claim."}, nil
	}
	if err != nil {
		return Result{}, err
	}
	var listing Listing
	if err := listing.decodeFrom(entry); err != nil {
		return Result{}, err
	}

	if !listing.closed(s.now()) {
		return Result{Success: false, Message: "Bidding is still open."}, nil
	}
	if listing.HighestBidder == "" {
		return Result{Success: false, Message: "The listing drew no bids."}, nil
	}
	if listing.HighestBidder != username {
		return Result{Success: false, Message: "Only the winning bidder can claim."}, nil
	}

	// Clearing the listing first makes the claim one-shot; the grant follows.
	err = s.store.CompareAndSwap(ctx, statePath, nil, entry.Version)
	if err == nil {
		err = s.store.Delete(ctx, statePath)
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return Result{Success: false, Message: "The listing changed. Try again."}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := s.accounts.GrantItem(ctx, username, listing.Item.ItemID); err != nil {
		return Result{}, err
	}
	s.log.Info("listing claimed", "username", username, "item", listing.Item.ItemID, "price", listing.CurrentBid)
	return Result{Success: true, Message: listing.Item.Name + " is yours."}, nil
}

// Cancel is the admin escape hatch: refund whoever is winning and clear the
// block. Valid in any state.
func (s *Service) Cancel(ctx context.Context) error {
	entry, err := s.store.Read(ctx, statePath)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoListing
	}
	if err != nil {
		return err
	}
	var listing Listing
	if err := listing.decodeFrom(entry); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, statePath); err != nil {
		return err
	}
	if listing.HighestBidder != "" {
		if err := s.ledger.Refund(ctx, listing.HighestBidder, listing.CurrentBid, "auction cancelled"); err != nil {
			return err
		}
	}
	s.log.Info("listing cancelled", "id", listing.ID)
	return nil
}
