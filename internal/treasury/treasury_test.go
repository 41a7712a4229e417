package treasury

import (
	"context"
	"testing"

	"nexus/internal/account"
	"nexus/internal/ledger"
	"nexus/internal/store/memstore"
	"nexus/internal/tuning"
)

func setup(t *testing.T) (*Service, *account.Service) {
	t.Helper()
	m := memstore.New()
	accounts := account.NewService(m, nil)
	l := ledger.New(accounts, nil)
	svc := NewService(m, l, tuning.Defaults().Treasury, nil)
	ctx := context.Background()
	for _, tc := range []struct {
		name    string
		balance int64
	}{{"alice", 250}, {"bob", 250}, {"pauper", 10}} {
		if _, err := accounts.Register(ctx, tc.name, "hunter2", account.RoleUser, tc.balance); err != nil {
			t.Fatalf("register %s: %v", tc.name, err)
		}
	}
	return svc, accounts
}

func TestSeedState(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	state, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Holder != "" || state.Price != 50 || state.Pool != 1000 {
		t.Fatalf("seed state = %+v", state)
	}
}

func TestUsurpFlow(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)

	res, err := svc.Usurp(ctx, "alice")
	if err != nil {
		t.Fatalf("usurp: %v", err)
	}
	if !res.Success {
		t.Fatalf("first usurp refused: %s", res.Message)
	}

	state, _ := svc.Get(ctx)
	if state.Holder != "alice" {
		t.Fatalf("holder = %q", state.Holder)
	}
	if state.Pool != 1050 {
		t.Fatalf("pool = %d, want 1050 (seed + fee)", state.Pool)
	}
	if state.Price != 57 { // floor(50 * 1.15)
		t.Fatalf("price = %d, want 57", state.Price)
	}
	alice, _ := accounts.Get(ctx, "alice")
	if alice.Balance != 200 {
		t.Fatalf("alice balance = %d, want 200", alice.Balance)
	}

	// The holder cannot usurp themselves.
	res, err = svc.Usurp(ctx, "alice")
	if err != nil {
		t.Fatalf("usurp: %v", err)
	}
	if res.Success {
		t.Fatalf("self-usurp accepted")
	}

	// Too poor for the new price of 57.
	res, err = svc.Usurp(ctx, "pauper")
	if err != nil {
		t.Fatalf("usurp: %v", err)
	}
	if res.Success {
		t.Fatalf("broke usurper accepted")
	}
	pauper, _ := accounts.Get(ctx, "pauper")
	if pauper.Balance != 10 {
		t.Fatalf("failed usurp charged a fee: %d", pauper.Balance)
	}

	res, err = svc.Usurp(ctx, "bob")
	if err != nil || !res.Success {
		t.Fatalf("bob usurp = %+v, %v", res, err)
	}
	state, _ = svc.Get(ctx)
	if state.Holder != "bob" || state.Pool != 1107 {
		t.Fatalf("state after bob = %+v", state)
	}
}

func TestAccrueTick(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)

	// No holder yet: a tick pays nobody.
	if err := svc.AccrueTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if _, err := svc.Usurp(ctx, "alice"); err != nil {
		t.Fatalf("usurp: %v", err)
	}
	if err := svc.AccrueTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	alice, _ := accounts.Get(ctx, "alice")
	// 250 - 50 fee + floor(1050 * 0.01) = 210
	if alice.Balance != 210 {
		t.Fatalf("alice balance = %d, want 210", alice.Balance)
	}
	if alice.Stats.TotalEarnings != 10 {
		t.Fatalf("earnings = %d, want 10", alice.Stats.TotalEarnings)
	}

	state, _ := svc.Get(ctx)
	if state.Pool != 1050 {
		t.Fatalf("pool drained by accrual: %d", state.Pool)
	}
}

func TestAccrueMinimumPayout(t *testing.T) {
	ctx := context.Background()
	m := memstore.New()
	accounts := account.NewService(m, nil)
	l := ledger.New(accounts, nil)
	cfg := tuning.Defaults().Treasury
	cfg.SeedPool = 10 // floor(10 * 0.01) == 0, clamps to 1
	svc := NewService(m, l, cfg, nil)

	if _, err := accounts.Register(ctx, "alice", "hunter2", account.RoleUser, 250); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Usurp(ctx, "alice"); err != nil {
		t.Fatalf("usurp: %v", err)
	}
	if err := svc.AccrueTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	alice, _ := accounts.Get(ctx, "alice")
	if alice.Stats.TotalEarnings != 1 {
		t.Fatalf("minimum payout = %d, want 1", alice.Stats.TotalEarnings)
	}
}
