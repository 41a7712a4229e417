// Package betting runs the bar book: admins post community scenarios, players
// stake credits on an option, and resolution pays winners double their stake.
package betting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"nexus/internal/ledger"
	"nexus/internal/store"
	"nexus/internal/tuning"
)

const (
	eventPrefix = "pmu/events"
	betPrefix   = "pmu/bets"

	StatusOpen     = "OPEN"
	StatusResolved = "RESOLVED"
)

var (
	ErrEventNotFound = errors.New("betting: event not found")
	ErrEventClosed   = errors.New("betting: event already resolved")
)

type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Event struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	Options        []Option `json:"options"`
	Status         string   `json:"status"`
	WinnerOptionID string   `json:"winnerOptionId,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
}

type Bet struct {
	ID        string `json:"id"`
	EventID   string `json:"eventId"`
	Username  string `json:"userId"`
	OptionID  string `json:"optionId"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	cfg    tuning.Betting
	log    *slog.Logger
	now    func() time.Time
}

func NewService(s store.Store, l *ledger.Ledger, cfg tuning.Betting, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, ledger: l, cfg: cfg, log: logger, now: time.Now}
}

func eventPath(id string) string { return eventPrefix + "/" + id }
func betPath(id string) string   { return betPrefix + "/" + id }

// CreateEvent posts a new open scenario. Admin surface.
func (s *Service) CreateEvent(ctx context.Context, question string, options []string) (Event, error) {
	if question == "" {
		return Event{}, errors.New("betting: question required")
	}
	if len(options) < 2 {
		return Event{}, errors.New("betting: at least two options required")
	}
	ev := Event{
		ID:        uuid.NewString(),
		Question:  question,
		Status:    StatusOpen,
		CreatedAt: s.now().Unix(),
	}
	for i, label := range options {
		ev.Options = append(ev.Options, Option{ID: fmt.Sprintf("opt-%d", i+1), Label: label})
	}
	if err := s.store.CompareAndSwap(ctx, eventPath(ev.ID), ev, 0); err != nil {
		return Event{}, err
	}
	s.log.Info("event created", "id", ev.ID, "question", question, "options", len(options))
	return ev, nil
}

// Events returns every event, newest first.
func (s *Service) Events(ctx context.Context) ([]Event, error) {
	entries, err := s.store.List(ctx, eventPrefix)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(entries))
	for path, entry := range entries {
		var ev Event
		if err := entry.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode event at %s: %w", path, err)
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (s *Service) event(ctx context.Context, eventID string) (Event, store.Entry, error) {
	entry, err := s.store.Read(ctx, eventPath(eventID))
	if errors.Is(err, store.ErrNotFound) {
		return Event{}, store.Entry{}, ErrEventNotFound
	}
	if err != nil {
		return Event{}, store.Entry{}, err
	}
	var ev Event
	if err := entry.Decode(&ev); err != nil {
		return Event{}, store.Entry{}, fmt.Errorf("decode event %s: %w", eventID, err)
	}
	return ev, entry, nil
}

// Bets returns every bet placed on the given event.
func (s *Service) Bets(ctx context.Context, eventID string) ([]Bet, error) {
	entries, err := s.store.List(ctx, betPrefix)
	if err != nil {
		return nil, err
	}
	bets := make([]Bet, 0)
	for path, entry := range entries {
		var b Bet
		if err := entry.Decode(&b); err != nil {
			return nil, fmt.Errorf("decode bet at %s: %w", path, err)
		}
		if b.EventID == eventID {
			bets = append(bets, b)
		}
	}
	sort.Slice(bets, func(i, j int) bool { return bets[i].Timestamp < bets[j].Timestamp })
	return bets, nil
}

// PlaceBet stakes credits on an option of an open event.
func (s *Service) PlaceBet(ctx context.Context, username, eventID, optionID string, amount int64) (Result, error) {
	if amount <= 0 {
		return Result{Success: false, Message: "Stake must be positive."}, nil
	}
	ev, _, err := s.event(ctx, eventID)
	if errors.Is(err, ErrEventNotFound) {
		return Result{Success: false, Message: "No such event."}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if ev.Status != StatusOpen {
		return Result{Success: false, Message: "Betting on this event has closed."}, nil
	}
	known := false
	for _, opt := range ev.Options {
		if opt.ID == optionID {
			known = true
			break
		}
	}
	if !known {
		return Result{Success: false, Message: "Unknown option."}, nil
	}

	err = s.ledger.Debit(ctx, username, amount, "pmu stake")
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return Result{Success: false, Message: "You cannot cover that stake."}, nil
	}
	if err != nil {
		return Result{}, err
	}

	bet := Bet{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Username:  username,
		OptionID:  optionID,
		Amount:    amount,
		Timestamp: s.now().Unix(),
	}
	if err := s.store.Write(ctx, betPath(bet.ID), bet); err != nil {
		if rerr := s.ledger.Refund(ctx, username, amount, "pmu stake rollback"); rerr != nil {
			return Result{}, rerr
		}
		return Result{}, err
	}
	s.log.Info("bet placed", "username", username, "event", eventID, "option", optionID, "amount", amount)
	return Result{Success: true, Message: "Stake registered. Good luck."}, nil
}

// Resolve settles an event: one shot, irreversible. Winning bets pay stake
// times the payout multiplier; each winner's win counter moves exactly once
// no matter how many bets they placed.
func (s *Service) Resolve(ctx context.Context, eventID, winningOptionID string) error {
	ev, entry, err := s.event(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Status == StatusResolved {
		return ErrEventClosed
	}
	known := false
	for _, opt := range ev.Options {
		if opt.ID == winningOptionID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("betting: option %q not on event %s", winningOptionID, eventID)
	}

	// Flipping to RESOLVED first makes the settlement one-shot: a racing
	// second resolve loses the CAS, and PlaceBet refuses new stakes.
	ev.Status = StatusResolved
	ev.WinnerOptionID = winningOptionID
	err = s.store.CompareAndSwap(ctx, eventPath(eventID), ev, entry.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		return ErrEventClosed
	}
	if err != nil {
		return err
	}

	bets, err := s.Bets(ctx, eventID)
	if err != nil {
		return err
	}
	type winnings struct{ payout, profit int64 }
	totals := map[string]*winnings{}
	var order []string
	for _, b := range bets {
		if b.OptionID != winningOptionID {
			continue
		}
		payout := b.Amount * s.cfg.PayoutMultiplier
		w, ok := totals[b.Username]
		if !ok {
			w = &winnings{}
			totals[b.Username] = w
			order = append(order, b.Username)
		}
		w.payout += payout
		w.profit += payout - b.Amount
	}

	for _, username := range order {
		w := totals[username]
		// The stake comes back as a refund; only the profit counts as
		// lifetime earnings.
		stakeBack := w.payout - w.profit
		if stakeBack > 0 {
			if err := s.ledger.Refund(ctx, username, stakeBack, "pmu stake returned"); err != nil {
				s.log.Error("pmu payout failed", "username", username, "amount", stakeBack, "err", err)
				continue
			}
		}
		if w.profit > 0 {
			if err := s.ledger.Credit(ctx, username, w.profit, "pmu winnings"); err != nil {
				s.log.Error("pmu payout failed", "username", username, "amount", w.profit, "err", err)
				continue
			}
		}
		if err := s.ledger.RecordWin(ctx, username); err != nil {
			return err
		}
	}
	s.log.Info("event resolved", "id", eventID, "winner", winningOptionID, "winners", len(order))
	return nil
}
