package idle

import (
	"context"
	"testing"

	"nexus/internal/account"
	"nexus/internal/ledger"
	"nexus/internal/store/memstore"
	"nexus/internal/tuning"
)

func TestUpgradeCostMonotonic(t *testing.T) {
	for _, growth := range []float64{1.15, 1.25} {
		prev := int64(0)
		for owned := 0; owned < 30; owned++ {
			cost := UpgradeCost(100, growth, owned)
			if cost <= prev {
				t.Fatalf("growth %.2f: cost(%d) = %d not above cost(%d) = %d",
					growth, owned, cost, owned-1, prev)
			}
			prev = cost
		}
	}
	if got := UpgradeCost(100, 1.25, 0); got != 100 {
		t.Fatalf("cost at zero owned = %d, want baseCost", got)
	}
	if got := UpgradeCost(100, 1.25, 2); got != 156 { // floor(100 * 1.5625)
		t.Fatalf("cost at two owned = %d, want 156", got)
	}
}

func TestProductionMultiplier(t *testing.T) {
	if got := ProductionMultiplier(0, 0.05); got != 1 {
		t.Fatalf("no shares multiplier = %f", got)
	}
	if got := ProductionMultiplier(10, 0.05); got != 1.5 {
		t.Fatalf("ten shares multiplier = %f", got)
	}
}

func TestPendingShares(t *testing.T) {
	tests := []struct {
		lifetime float64
		held     int64
		want     int64
	}{
		{0, 0, 0},
		{4_999_999, 0, 0},
		{5_000_000, 0, 1},
		{20_000_000, 0, 2},
		{20_000_000, 2, 0},
		{45_000_000, 1, 2},
		{5_000_000, 5, 0}, // never negative
	}
	for _, tc := range tests {
		got := PendingShares(tc.lifetime, 5_000_000, tc.held)
		if got != tc.want {
			t.Fatalf("PendingShares(%.0f, held %d) = %d, want %d", tc.lifetime, tc.held, got, tc.want)
		}
	}
}

func setup(t *testing.T) (*Service, *account.Service) {
	t.Helper()
	m := memstore.New()
	accounts := account.NewService(m, nil)
	l := ledger.New(accounts, nil)
	svc := NewService(accounts, l, tuning.Defaults().Idle, nil)
	if _, err := accounts.Register(context.Background(), "alice", "hunter2", account.RoleUser, 250); err != nil {
		t.Fatalf("register: %v", err)
	}
	return svc, accounts
}

func TestSaveOnlyGrows(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	if _, err := svc.Save(ctx, "alice", 1000, 1000); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A stale or tampered sync cannot shrink the run.
	snap, err := svc.Save(ctx, "alice", 10, 10)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if snap.Save.Abdous != 1000 || snap.Save.LifetimeAbdous != 1000 {
		t.Fatalf("save shrank: %+v", snap.Save)
	}
}

func TestBuyUpgrade(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	res, err := svc.BuyUpgrade(ctx, "alice", "cursor")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Success {
		t.Fatalf("bought with zero abdous")
	}

	if _, err := svc.Save(ctx, "alice", 250, 250); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = svc.BuyUpgrade(ctx, "alice", "cursor")
	if err != nil || !res.Success {
		t.Fatalf("buy = %+v, %v", res, err)
	}

	snap, _ := svc.Get(ctx, "alice")
	if snap.Save.Abdous != 150 {
		t.Fatalf("abdous = %f, want 150", snap.Save.Abdous)
	}
	if snap.Save.Upgrades["cursor"] != 1 {
		t.Fatalf("upgrades = %v", snap.Save.Upgrades)
	}

	// The second unit costs floor(100 * 1.25) = 125 and 150 covers it.
	res, err = svc.BuyUpgrade(ctx, "alice", "cursor")
	if err != nil || !res.Success {
		t.Fatalf("second buy = %+v, %v", res, err)
	}
	snap, _ = svc.Get(ctx, "alice")
	if snap.Save.Abdous != 25 {
		t.Fatalf("abdous = %f, want 25", snap.Save.Abdous)
	}

	if res, _ := svc.BuyUpgrade(ctx, "alice", "warp-drive"); res.Success {
		t.Fatalf("unknown upgrade sold")
	}
}

func TestCashOut(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)

	res, err := svc.CashOut(ctx, "alice")
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if res.Success {
		t.Fatalf("cashout with empty bank succeeded")
	}

	if _, err := svc.Save(ctx, "alice", 250_000, 250_000); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = svc.CashOut(ctx, "alice")
	if err != nil || !res.Success {
		t.Fatalf("cashout = %+v, %v", res, err)
	}

	alice, _ := accounts.Get(ctx, "alice")
	if alice.Balance != 252 { // 250 + floor(250000 / 100000)
		t.Fatalf("balance = %d, want 252", alice.Balance)
	}
	if alice.Stats.TotalEarnings != 2 {
		t.Fatalf("earnings = %d, want 2", alice.Stats.TotalEarnings)
	}
	snap, _ := svc.Get(ctx, "alice")
	if snap.Save.Abdous != 50_000 {
		t.Fatalf("remainder = %f, want 50000", snap.Save.Abdous)
	}
}

func TestPrestige(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	res, err := svc.Prestige(ctx, "alice")
	if err != nil {
		t.Fatalf("prestige: %v", err)
	}
	if res.Success {
		t.Fatalf("prestige with no lifetime succeeded")
	}

	if _, err := svc.Save(ctx, "alice", 1_000_000, 20_000_000); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.BuyUpgrade(ctx, "alice", "cursor"); err != nil {
		t.Fatalf("buy: %v", err)
	}

	res, err = svc.Prestige(ctx, "alice")
	if err != nil || !res.Success {
		t.Fatalf("prestige = %+v, %v", res, err)
	}

	snap, _ := svc.Get(ctx, "alice")
	if snap.Save.Shares != 2 { // floor(sqrt(20e6 / 5e6))
		t.Fatalf("shares = %d, want 2", snap.Save.Shares)
	}
	if snap.Save.Abdous != 0 || len(snap.Save.Upgrades) != 0 {
		t.Fatalf("run not reset: %+v", snap.Save)
	}
	if snap.Save.LifetimeAbdous != 20_000_000 {
		t.Fatalf("lifetime lost: %f", snap.Save.LifetimeAbdous)
	}
	if snap.Multiplier != 1.1 {
		t.Fatalf("multiplier = %f, want 1.1", snap.Multiplier)
	}

	// No new production since: a second prestige finds nothing pending.
	res, _ = svc.Prestige(ctx, "alice")
	if res.Success {
		t.Fatalf("prestige with no pending shares succeeded")
	}
}
