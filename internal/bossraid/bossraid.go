// Package bossraid runs the cooperative boss fight: players buy turrets, the
// host daemon applies their combined DPS every tick, and a kill pays every
// combatant in proportion to the damage they dealt.
package bossraid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"nexus/internal/ledger"
	"nexus/internal/store"
	"nexus/internal/tuning"
)

const (
	statePath    = "core/state"
	playerPrefix = "core/players"
)

type State struct {
	Level    int64  `json:"level"`
	HP       int64  `json:"hp"`
	MaxHP    int64  `json:"maxHp"`
	Status   string `json:"status"`
	LastTick int64  `json:"lastTick"`
}

type Player struct {
	Username    string         `json:"username"`
	DPS         int64          `json:"dps"`
	DamageDealt int64          `json:"damageDealt"`
	Turrets     map[string]int `json:"turrets"`
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	cfg    tuning.Boss
	log    *slog.Logger
	now    func() time.Time
}

func NewService(s store.Store, l *ledger.Ledger, cfg tuning.Boss, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, ledger: l, cfg: cfg, log: logger, now: time.Now}
}

func playerPath(username string) string { return playerPrefix + "/" + username }

func (s *Service) seedState() State {
	return State{Level: 1, HP: s.cfg.InitialMaxHP, MaxHP: s.cfg.InitialMaxHP, Status: "online"}
}

// GetState returns the boss state, seeding level 1 on first touch.
func (s *Service) GetState(ctx context.Context) (State, error) {
	entry, err := s.store.Read(ctx, statePath)
	if errors.Is(err, store.ErrNotFound) {
		seeded := s.seedState()
		err := s.store.CompareAndSwap(ctx, statePath, seeded, 0)
		if err == nil {
			return seeded, nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			return s.GetState(ctx)
		}
		return State{}, err
	}
	if err != nil {
		return State{}, err
	}
	var state State
	if err := entry.Decode(&state); err != nil {
		return State{}, fmt.Errorf("decode core state: %w", err)
	}
	return state, nil
}

// Players returns every combatant record.
func (s *Service) Players(ctx context.Context) ([]Player, error) {
	entries, err := s.store.List(ctx, playerPrefix)
	if err != nil {
		return nil, err
	}
	players := make([]Player, 0, len(entries))
	for path, entry := range entries {
		var p Player
		if err := entry.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode combatant at %s: %w", path, err)
		}
		players = append(players, p)
	}
	return players, nil
}

// BuyTurret purchases one turret from the catalog for the player and
// recomputes their DPS from scratch over everything they own.
func (s *Service) BuyTurret(ctx context.Context, username, turretID string) (Result, error) {
	turret, ok := s.cfg.Turret(turretID)
	if !ok {
		return Result{Success: false, Message: "Unknown turret model."}, nil
	}

	err := s.ledger.Debit(ctx, username, turret.Cost, "core turret "+turretID)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return Result{Success: false, Message: fmt.Sprintf("You need %d credits for a %s.", turret.Cost, turret.Name)}, nil
	}
	if err != nil {
		return Result{}, err
	}

	err = store.Update(ctx, s.store, playerPath(username), func(cur json.RawMessage) (any, error) {
		p := Player{Username: username, Turrets: map[string]int{}}
		if cur != nil {
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, fmt.Errorf("decode combatant %s: %w", username, err)
			}
			if p.Turrets == nil {
				p.Turrets = map[string]int{}
			}
		}
		p.Turrets[turretID]++
		p.DPS = 0
		for id, count := range p.Turrets {
			if t, ok := s.cfg.Turret(id); ok {
				p.DPS += t.DPS * int64(count)
			}
		}
		return p, nil
	})
	if err != nil {
		if rerr := s.ledger.Refund(ctx, username, turret.Cost, "core turret rollback"); rerr != nil {
			return Result{}, rerr
		}
		return Result{}, err
	}
	s.log.Info("turret bought", "username", username, "turret", turretID, "cost", turret.Cost)
	return Result{Success: true, Message: turret.Name + " deployed."}, nil
}

// DamageTick applies one tick of combined DPS. On a kill it pays every
// combatant floor(damage * rewardRatio), zeroing each combatant's record
// before their payout settles so a racing tick can never pay the same damage
// twice; the boss then respawns one level up with 1.5x the hit points.
func (s *Service) DamageTick(ctx context.Context) error {
	state, err := s.GetState(ctx)
	if err != nil {
		return err
	}
	players, err := s.Players(ctx)
	if err != nil {
		return err
	}

	var totalDPS int64
	for _, p := range players {
		totalDPS += p.DPS
	}
	if totalDPS == 0 || state.HP == 0 {
		return nil
	}

	killed := false
	err = store.Update(ctx, s.store, statePath, func(cur json.RawMessage) (any, error) {
		var st State
		if cur == nil {
			st = s.seedState()
		} else if err := json.Unmarshal(cur, &st); err != nil {
			return nil, fmt.Errorf("decode core state: %w", err)
		}
		st.HP -= totalDPS
		if st.HP < 0 {
			st.HP = 0
		}
		killed = st.HP == 0
		st.LastTick = s.now().Unix()
		return st, nil
	})
	if err != nil {
		return err
	}

	for _, p := range players {
		if p.DPS == 0 {
			continue
		}
		if err := store.Update(ctx, s.store, playerPath(p.Username), func(cur json.RawMessage) (any, error) {
			var rec Player
			if cur == nil {
				return nil, store.ErrNotFound
			}
			if err := json.Unmarshal(cur, &rec); err != nil {
				return nil, fmt.Errorf("decode combatant %s: %w", p.Username, err)
			}
			rec.DamageDealt += rec.DPS
			return rec, nil
		}); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	if !killed {
		return nil
	}
	return s.settleKill(ctx)
}

// settleKill pays out and resets each combatant, then respawns the boss.
func (s *Service) settleKill(ctx context.Context) error {
	players, err := s.Players(ctx)
	if err != nil {
		return err
	}

	for _, p := range players {
		var damage int64
		if err := store.Update(ctx, s.store, playerPath(p.Username), func(cur json.RawMessage) (any, error) {
			var rec Player
			if cur == nil {
				return nil, store.ErrNotFound
			}
			if err := json.Unmarshal(cur, &rec); err != nil {
				return nil, fmt.Errorf("decode combatant %s: %w", p.Username, err)
			}
			damage = rec.DamageDealt
			rec.DamageDealt = 0
			rec.DPS = 0
			rec.Turrets = map[string]int{}
			return rec, nil
		}); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}

		reward := int64(math.Floor(float64(damage) * s.cfg.RewardRatio))
		if reward <= 0 {
			continue
		}
		if err := s.ledger.Credit(ctx, p.Username, reward, "core kill reward"); err != nil {
			s.log.Error("core reward failed", "username", p.Username, "reward", reward, "err", err)
		}
	}

	err = store.Update(ctx, s.store, statePath, func(cur json.RawMessage) (any, error) {
		var st State
		if cur == nil {
			return nil, store.ErrNotFound
		}
		if err := json.Unmarshal(cur, &st); err != nil {
			return nil, fmt.Errorf("decode core state: %w", err)
		}
		st.Level++
		st.MaxHP = int64(math.Floor(float64(st.MaxHP) * s.cfg.HPGrowth))
		st.HP = st.MaxHP
		return st, nil
	})
	if err != nil {
		return err
	}
	s.log.Info("core destroyed", "combatants", len(players))
	return nil
}

// AdminReset restores the fight to level 1 and clears every combatant.
func (s *Service) AdminReset(ctx context.Context) error {
	entries, err := s.store.List(ctx, playerPrefix)
	if err != nil {
		return err
	}
	for path := range entries {
		if !strings.HasPrefix(path, playerPrefix+"/") {
			continue
		}
		if err := s.store.Delete(ctx, path); err != nil {
			return err
		}
	}
	if err := s.store.Write(ctx, statePath, s.seedState()); err != nil {
		return err
	}
	s.log.Info("core reset")
	return nil
}
