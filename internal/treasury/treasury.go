// Package treasury runs the king-of-the-hill economy: one throne, one rising
// usurp price, and a pool that pays the sitting holder every accrual tick.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"nexus/internal/ledger"
	"nexus/internal/store"
	"nexus/internal/tuning"
)

const statePath = "treasury/state"

type State struct {
	Holder      string `json:"holder,omitempty"`
	Price       int64  `json:"price"`
	Pool        int64  `json:"pool"`
	HolderSince int64  `json:"holderSince,omitempty"`
}

// Result is a protocol verdict: a refused usurp is an outcome, not an error.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	cfg    tuning.Treasury
	log    *slog.Logger
	now    func() time.Time
}

func NewService(s store.Store, l *ledger.Ledger, cfg tuning.Treasury, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, ledger: l, cfg: cfg, log: logger, now: time.Now}
}

// Get returns the current session state, seeding it on first touch.
func (s *Service) Get(ctx context.Context) (State, error) {
	entry, err := s.store.Read(ctx, statePath)
	if errors.Is(err, store.ErrNotFound) {
		seeded := State{Price: s.cfg.InitialPrice, Pool: s.cfg.SeedPool}
		err := s.store.CompareAndSwap(ctx, statePath, seeded, 0)
		if err == nil {
			return seeded, nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			// Someone else seeded first; reread.
			return s.Get(ctx)
		}
		return State{}, err
	}
	if err != nil {
		return State{}, err
	}
	var state State
	if err := entry.Decode(&state); err != nil {
		return State{}, fmt.Errorf("decode treasury state: %w", err)
	}
	return state, nil
}

// Usurp takes the throne for username at the current price. The debit settles
// before the throne flips; if another usurper wins the race for this version
// of the state, the fee is returned and the attempt reported as failed.
func (s *Service) Usurp(ctx context.Context, username string) (Result, error) {
	if _, err := s.Get(ctx); err != nil {
		return Result{}, err
	}
	entry, err := s.store.Read(ctx, statePath)
	if err != nil {
		return Result{}, err
	}
	var state State
	if err := entry.Decode(&state); err != nil {
		return Result{}, fmt.Errorf("decode treasury state: %w", err)
	}

	if state.Holder == username {
		return Result{Success: false, Message: "You already hold the throne."}, nil
	}

	price := state.Price
	err = s.ledger.Debit(ctx, username, price, "treasury usurp")
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return Result{Success: false, Message: fmt.Sprintf("You need %d credits to usurp the throne.", price)}, nil
	}
	if err != nil {
		return Result{}, err
	}

	next := State{
		Holder:      username,
		Price:       int64(math.Floor(float64(price) * s.cfg.PriceGrowth)),
		Pool:        state.Pool + price,
		HolderSince: s.now().Unix(),
	}
	err = s.store.CompareAndSwap(ctx, statePath, next, entry.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		// Another usurper got there first; the fee goes back.
		if rerr := s.ledger.Refund(ctx, username, price, "treasury usurp lost race"); rerr != nil {
			return Result{}, rerr
		}
		return Result{Success: false, Message: "The throne changed hands mid-coup. Try again."}, nil
	}
	if err != nil {
		return Result{}, err
	}

	s.log.Info("throne usurped", "holder", username, "price", price, "pool", next.Pool, "nextPrice", next.Price)
	return Result{Success: true, Message: "The throne is yours."}, nil
}

// AccrueTick pays the sitting holder their share of the pool. The pool is
// never debited; it grows only by usurp fees, so the payout needs no state
// write at all.
func (s *Service) AccrueTick(ctx context.Context) error {
	state, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if state.Holder == "" {
		return nil
	}
	payout := int64(math.Floor(float64(state.Pool) * s.cfg.AccrualRate))
	if payout < 1 {
		payout = 1
	}
	return s.ledger.Credit(ctx, state.Holder, payout, "treasury accrual")
}
