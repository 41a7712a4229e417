// Package territory runs the faction war map: a fixed grid of sectors that
// factions claim, grind down, and reinforce. Every action costs the same flat
// fee whether or not it accomplishes anything.
package territory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"nexus/internal/account"
	"nexus/internal/ledger"
	"nexus/internal/store"
	"nexus/internal/tuning"
)

const (
	mapPrefix = "factions/map"
	statePath = "factions/state"
)

const (
	ActionAttack    = "attack"
	ActionReinforce = "reinforce"
)

type Sector struct {
	ID         string `json:"id"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Owner      string `json:"owner,omitempty"`
	Defense    int64  `json:"defense"`
	MaxDefense int64  `json:"maxDefense"`
}

// WarState is the season metadata shown alongside the map.
type WarState struct {
	SeasonID   int64 `json:"seasonId"`
	StartTime  int64 `json:"startTime"`
	EndTime    int64 `json:"endTime"`
	RewardPool int64 `json:"rewardPool"`
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	accounts *account.Service
	cfg      tuning.Territory
	log      *slog.Logger
	now      func() time.Time
}

func NewService(s store.Store, l *ledger.Ledger, accounts *account.Service, cfg tuning.Territory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, ledger: l, accounts: accounts, cfg: cfg, log: logger, now: time.Now}
}

func sectorID(x, y int) string    { return fmt.Sprintf("%d_%d", x, y) }
func sectorPath(id string) string { return mapPrefix + "/" + id }

// EnsureSeeded lays down the grid and the season record if either is missing.
func (s *Service) EnsureSeeded(ctx context.Context) error {
	if _, err := s.store.Read(ctx, statePath); errors.Is(err, store.ErrNotFound) {
		now := s.now()
		war := WarState{
			SeasonID:   1,
			StartTime:  now.Unix(),
			EndTime:    now.Add(time.Duration(s.cfg.SeasonDays) * 24 * time.Hour).Unix(),
			RewardPool: s.cfg.SeasonPool,
		}
		if err := s.store.CompareAndSwap(ctx, statePath, war, 0); err != nil && !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	} else if err != nil {
		return err
	}

	entries, err := s.store.List(ctx, mapPrefix)
	if err != nil {
		return err
	}
	if len(entries) >= s.cfg.GridWidth*s.cfg.GridHeight {
		return nil
	}
	for y := 0; y < s.cfg.GridHeight; y++ {
		for x := 0; x < s.cfg.GridWidth; x++ {
			id := sectorID(x, y)
			if _, ok := entries[sectorPath(id)]; ok {
				continue
			}
			sector := Sector{ID: id, X: x, Y: y, Defense: s.cfg.ClaimDefense, MaxDefense: s.cfg.DefenseCap}
			if err := s.store.CompareAndSwap(ctx, sectorPath(id), sector, 0); err != nil && !errors.Is(err, store.ErrVersionConflict) {
				return err
			}
		}
	}
	s.log.Info("war map seeded", "width", s.cfg.GridWidth, "height", s.cfg.GridHeight)
	return nil
}

// Map returns every sector in row-major order.
func (s *Service) Map(ctx context.Context) ([]Sector, error) {
	if err := s.EnsureSeeded(ctx); err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, mapPrefix)
	if err != nil {
		return nil, err
	}
	sectors := make([]Sector, 0, len(entries))
	for path, entry := range entries {
		var sec Sector
		if err := entry.Decode(&sec); err != nil {
			return nil, fmt.Errorf("decode sector at %s: %w", path, err)
		}
		sectors = append(sectors, sec)
	}
	sort.Slice(sectors, func(i, j int) bool {
		if sectors[i].Y != sectors[j].Y {
			return sectors[i].Y < sectors[j].Y
		}
		return sectors[i].X < sectors[j].X
	})
	return sectors, nil
}

// War returns the current season record.
func (s *Service) War(ctx context.Context) (WarState, error) {
	if err := s.EnsureSeeded(ctx); err != nil {
		return WarState{}, err
	}
	entry, err := s.store.Read(ctx, statePath)
	if err != nil {
		return WarState{}, err
	}
	var war WarState
	if err := entry.Decode(&war); err != nil {
		return WarState{}, fmt.Errorf("decode war state: %w", err)
	}
	return war, nil
}

// Interact applies one attack or reinforcement to a sector. The fee is
// debited on every attempt regardless of outcome; war is expensive.
func (s *Service) Interact(ctx context.Context, username, sector, action string) (Result, error) {
	if action != ActionAttack && action != ActionReinforce {
		return Result{}, fmt.Errorf("territory: unknown action %q", action)
	}
	acct, err := s.accounts.Get(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if acct.Faction == "" {
		return Result{Success: false, Message: "Pledge to a faction before entering the war."}, nil
	}
	if err := s.EnsureSeeded(ctx); err != nil {
		return Result{}, err
	}
	if _, err := s.store.Read(ctx, sectorPath(sector)); errors.Is(err, store.ErrNotFound) {
		return Result{Success: false, Message: "No such sector."}, nil
	} else if err != nil {
		return Result{}, err
	}

	err = s.ledger.Debit(ctx, username, s.cfg.ActionFee, "territory "+action)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return Result{Success: false, Message: fmt.Sprintf("War costs %d credits per action.", s.cfg.ActionFee)}, nil
	}
	if err != nil {
		return Result{}, err
	}

	var outcome Result
	err = store.Update(ctx, s.store, sectorPath(sector), func(cur json.RawMessage) (any, error) {
		var sec Sector
		if cur == nil {
			return nil, store.ErrNotFound
		}
		if err := json.Unmarshal(cur, &sec); err != nil {
			return nil, fmt.Errorf("decode sector %s: %w", sector, err)
		}
		if action == ActionAttack {
			outcome = s.applyAttack(&sec, acct.Faction)
		} else {
			outcome = s.applyReinforce(&sec, acct.Faction)
		}
		return sec, nil
	})
	if err != nil {
		return Result{}, err
	}
	s.log.Info("territory action", "username", username, "faction", acct.Faction,
		"sector", sector, "action", action, "success", outcome.Success)
	return outcome, nil
}

func (s *Service) applyAttack(sec *Sector, faction string) Result {
	switch {
	case sec.Owner == "":
		sec.Owner = faction
		sec.Defense = s.cfg.ClaimDefense
		sec.MaxDefense = s.cfg.DefenseCap
		return Result{Success: true, Message: "Sector claimed for " + faction + "."}
	case sec.Owner == faction:
		return Result{Success: false, Message: "Your faction already holds this sector."}
	default:
		sec.Defense -= s.cfg.AttackPower
		if sec.Defense > 0 {
			return Result{Success: true, Message: fmt.Sprintf("Defenses reduced to %d.", sec.Defense)}
		}
		sec.Owner = faction
		sec.Defense = s.cfg.CaptureDefense
		sec.MaxDefense = s.cfg.DefenseCap
		return Result{Success: true, Message: "Sector captured for " + faction + "!"}
	}
}

func (s *Service) applyReinforce(sec *Sector, faction string) Result {
	if sec.Owner != faction {
		return Result{Success: false, Message: "You can only reinforce sectors your faction holds."}
	}
	sec.Defense += s.cfg.AttackPower
	if sec.Defense > sec.MaxDefense {
		sec.MaxDefense = sec.Defense
	}
	return Result{Success: true, Message: fmt.Sprintf("Defenses raised to %d.", sec.Defense)}
}

// AdminResetMap wipes every sector back to unowned and starts a new season.
func (s *Service) AdminResetMap(ctx context.Context) error {
	entries, err := s.store.List(ctx, mapPrefix)
	if err != nil {
		return err
	}
	for path := range entries {
		if err := s.store.Delete(ctx, path); err != nil {
			return err
		}
	}

	var prevSeason int64
	if entry, err := s.store.Read(ctx, statePath); err == nil {
		var war WarState
		if entry.Decode(&war) == nil {
			prevSeason = war.SeasonID
		}
	}
	now := s.now()
	war := WarState{
		SeasonID:   prevSeason + 1,
		StartTime:  now.Unix(),
		EndTime:    now.Add(time.Duration(s.cfg.SeasonDays) * 24 * time.Hour).Unix(),
		RewardPool: s.cfg.SeasonPool,
	}
	if err := s.store.Write(ctx, statePath, war); err != nil {
		return err
	}
	if err := s.EnsureSeeded(ctx); err != nil {
		return err
	}
	s.log.Info("war map reset", "season", war.SeasonID)
	return nil
}
