// Package idle is the incremental clicker economy. Production happens client
// side; the server owns the math, the save blob, and the one channel that
// turns abdous into real credits.
package idle

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"nexus/internal/account"
	"nexus/internal/ledger"
	"nexus/internal/tuning"
)

// UpgradeCost grows geometrically with the number already owned. Monotonic
// for any growth factor above 1.
func UpgradeCost(baseCost, growth float64, owned int) int64 {
	return int64(math.Floor(baseCost * math.Pow(growth, float64(owned))))
}

// ProductionMultiplier is the prestige bonus applied to all production.
func ProductionMultiplier(shares int64, bonus float64) float64 {
	return 1 + float64(shares)*bonus
}

// PendingShares is how many prestige shares a run has earned beyond those
// already held. Never negative.
func PendingShares(lifetime, prestigeBase float64, held int64) int64 {
	if lifetime <= 0 || prestigeBase <= 0 {
		return 0
	}
	earned := int64(math.Floor(math.Sqrt(lifetime / prestigeBase)))
	if earned <= held {
		return 0
	}
	return earned - held
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Snapshot is the save blob plus the derived numbers clients render.
type Snapshot struct {
	Save          account.IdleSave `json:"save"`
	Multiplier    float64          `json:"multiplier"`
	PendingShares int64            `json:"pendingShares"`
}

type Service struct {
	accounts *account.Service
	ledger   *ledger.Ledger
	cfg      tuning.Idle
	log      *slog.Logger
}

func NewService(accounts *account.Service, l *ledger.Ledger, cfg tuning.Idle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, ledger: l, cfg: cfg, log: logger}
}

// Get returns the player's current run with derived values.
func (s *Service) Get(ctx context.Context, username string) (Snapshot, error) {
	acct, err := s.accounts.Get(ctx, username)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(acct.Idle), nil
}

func (s *Service) snapshot(save account.IdleSave) Snapshot {
	return Snapshot{
		Save:          save,
		Multiplier:    ProductionMultiplier(save.Shares, s.cfg.ShareBonus),
		PendingShares: PendingShares(save.LifetimeAbdous, s.cfg.PrestigeBase, save.Shares),
	}
}

// Save syncs client-side production into the blob. Currency can only grow
// through sync; spending goes through BuyUpgrade and CashOut.
func (s *Service) Save(ctx context.Context, username string, abdous, lifetime float64) (Snapshot, error) {
	if math.IsNaN(abdous) || math.IsInf(abdous, 0) || math.IsNaN(lifetime) || math.IsInf(lifetime, 0) {
		return Snapshot{}, fmt.Errorf("idle: malformed save values")
	}
	var out Snapshot
	err := s.accounts.Update(ctx, username, func(acct *account.Account) error {
		if abdous > acct.Idle.Abdous {
			acct.Idle.Abdous = abdous
		}
		if lifetime > acct.Idle.LifetimeAbdous {
			acct.Idle.LifetimeAbdous = lifetime
		}
		out = s.snapshot(acct.Idle)
		return nil
	})
	return out, err
}

// BuyUpgrade spends abdous on one upgrade from the catalog at the current
// geometric price.
func (s *Service) BuyUpgrade(ctx context.Context, username, upgradeID string) (Result, error) {
	upgrade, ok := s.cfg.Upgrade(upgradeID)
	if !ok {
		return Result{Success: false, Message: "Unknown upgrade."}, nil
	}
	var outcome Result
	err := s.accounts.Update(ctx, username, func(acct *account.Account) error {
		if acct.Idle.Upgrades == nil {
			acct.Idle.Upgrades = map[string]int{}
		}
		owned := acct.Idle.Upgrades[upgradeID]
		cost := UpgradeCost(upgrade.BaseCost, s.cfg.CostGrowth, owned)
		if acct.Idle.Abdous < float64(cost) {
			outcome = Result{Success: false, Message: fmt.Sprintf("%s costs %d abdous.", upgrade.Name, cost)}
			return nil
		}
		acct.Idle.Abdous -= float64(cost)
		acct.Idle.Upgrades[upgradeID] = owned + 1
		outcome = Result{Success: true, Message: upgrade.Name + " acquired."}
		return nil
	})
	return outcome, err
}

// CashOut converts banked abdous into hub credits at the exchange rate.
// Partial remainders stay in the run.
func (s *Service) CashOut(ctx context.Context, username string) (Result, error) {
	var credits int64
	err := s.accounts.Update(ctx, username, func(acct *account.Account) error {
		credits = int64(math.Floor(acct.Idle.Abdous / float64(s.cfg.ExchangeRate)))
		if credits < 1 {
			return nil
		}
		acct.Idle.Abdous -= float64(credits * s.cfg.ExchangeRate)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if credits < 1 {
		return Result{Success: false, Message: fmt.Sprintf("You need %d abdous per credit.", s.cfg.ExchangeRate)}, nil
	}
	if err := s.ledger.Credit(ctx, username, credits, "idle cashout"); err != nil {
		return Result{}, err
	}
	s.log.Info("idle cashout", "username", username, "credits", credits)
	return Result{Success: true, Message: fmt.Sprintf("Exchanged for %d credits.", credits)}, nil
}

// Prestige claims pending shares and restarts the run: currency and upgrades
// reset, shares and the lifetime counter survive.
func (s *Service) Prestige(ctx context.Context, username string) (Result, error) {
	var claimed int64
	err := s.accounts.Update(ctx, username, func(acct *account.Account) error {
		claimed = PendingShares(acct.Idle.LifetimeAbdous, s.cfg.PrestigeBase, acct.Idle.Shares)
		if claimed == 0 {
			return nil
		}
		acct.Idle.Shares += claimed
		acct.Idle.Abdous = 0
		acct.Idle.Upgrades = map[string]int{}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if claimed == 0 {
		return Result{Success: false, Message: "No shares earned yet. Keep producing."}, nil
	}
	s.log.Info("idle prestige", "username", username, "shares", claimed)
	return Result{Success: true, Message: fmt.Sprintf("Reset complete. %d new shares held.", claimed)}, nil
}
