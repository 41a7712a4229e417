package territory

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
	svc := NewService(m, l, accounts, tuning.Defaults().Territory, nil)
	ctx := context.Background()
	for _, tc := range []struct{ name, faction string }{
		{"alice", "cyber"}, {"bob", "nature"}, {"drifter", ""},
	} {
		if _, err := accounts.Register(ctx, tc.name, "hunter2", account.RoleUser, 10_000); err != nil {
			t.Fatalf("register %s: %v", tc.name, err)
		}
		if tc.faction != "" {
			if _, err := accounts.JoinFaction(ctx, tc.name, tc.faction); err != nil {
				t.Fatalf("join %s: %v", tc.name, err)
			}
		}
	}
	return svc, accounts
}

func TestMapSeeds36Sectors(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	sectors, err := svc.Map(ctx)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(sectors) != 36 {
		t.Fatalf("sectors = %d, want 36", len(sectors))
	}
	for _, sec := range sectors {
		if sec.Owner != "" || sec.Defense != 100 || sec.MaxDefense != 100 {
			t.Fatalf("seed sector = %+v", sec)
		}
	}
	if sectors[0].ID != "0_0" || sectors[35].ID != "5_5" {
		t.Fatalf("order: first %s last %s", sectors[0].ID, sectors[35].ID)
	}

	war, err := svc.War(ctx)
	if err != nil {
		t.Fatalf("war: %v", err)
	}
	if war.SeasonID != 1 || war.RewardPool != 50_000 {
		t.Fatalf("war = %+v", war)
	}
	if war.EndTime-war.StartTime != 3*24*3600 {
		t.Fatalf("season span = %d", war.EndTime-war.StartTime)
	}
}

func TestInteractRequiresFaction(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)

	res, err := svc.Interact(ctx, "drifter", "0_0", ActionAttack)
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res.Success {
		t.Fatalf("factionless attack accepted")
	}
	drifter, _ := accounts.Get(ctx, "drifter")
	if drifter.Balance != 10_000 {
		t.Fatalf("factionless refusal charged a fee: %d", drifter.Balance)
	}
}

func TestClaimAndFeeOnEveryAttempt(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)

	res, err := svc.Interact(ctx, "alice", "0_0", ActionAttack)
	if err != nil || !res.Success {
		t.Fatalf("claim = %+v, %v", res, err)
	}
	sectors, _ := svc.Map(ctx)
	if sectors[0].Owner != "cyber" || sectors[0].Defense != 100 {
		t.Fatalf("sector after claim = %+v", sectors[0])
	}

	// Attacking your own sector is a refused no-op, but still costs the fee.
	res, err = svc.Interact(ctx, "alice", "0_0", ActionAttack)
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res.Success {
		t.Fatalf("own-sector attack reported success")
	}
	alice, _ := accounts.Get(ctx, "alice")
	if alice.Balance != 10_000-2*25 {
		t.Fatalf("balance = %d, want two fees charged", alice.Balance)
	}

	// Unknown sector is refused before the fee.
	res, err = svc.Interact(ctx, "alice", "9_9", ActionAttack)
	if err != nil || res.Success {
		t.Fatalf("phantom sector = %+v, %v", res, err)
	}
	alice, _ = accounts.Get(ctx, "alice")
	if alice.Balance != 10_000-2*25 {
		t.Fatalf("phantom sector charged: %d", alice.Balance)
	}
}

func TestCaptureAtZeroDefense(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	if res, err := svc.Interact(ctx, "alice", "2_2", ActionAttack); err != nil || !res.Success {
		t.Fatalf("claim: %v / %v", res, err)
	}

	// 100 defense / 25 per hit: bob captures on the fourth strike.
	for i := 0; i < 3; i++ {
		res, err := svc.Interact(ctx, "bob", "2_2", ActionAttack)
		if err != nil || !res.Success {
			t.Fatalf("hit %d = %+v, %v", i, res, err)
		}
	}
	sectors, _ := svc.Map(ctx)
	sec := findSector(t, sectors, "2_2")
	if sec.Owner != "cyber" || sec.Defense != 25 {
		t.Fatalf("pre-capture sector = %+v", sec)
	}

	res, err := svc.Interact(ctx, "bob", "2_2", ActionAttack)
	if err != nil || !res.Success {
		t.Fatalf("capture = %+v, %v", res, err)
	}
	sectors, _ = svc.Map(ctx)
	sec = findSector(t, sectors, "2_2")
	if sec.Owner != "nature" {
		t.Fatalf("owner = %q, want nature", sec.Owner)
	}
	if sec.Defense != 50 || sec.MaxDefense != 100 {
		t.Fatalf("captured sector = %+v, want 50/100", sec)
	}
}

func TestReinforceRaisesCap(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	if _, err := svc.Interact(ctx, "alice", "1_1", ActionAttack); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Already at 100/100; a reinforcement overflows the cap and raises it.
	res, err := svc.Interact(ctx, "alice", "1_1", ActionReinforce)
	if err != nil || !res.Success {
		t.Fatalf("reinforce = %+v, %v", res, err)
	}
	sectors, _ := svc.Map(ctx)
	sec := findSector(t, sectors, "1_1")
	if sec.Defense != 125 || sec.MaxDefense != 125 {
		t.Fatalf("sector = %+v, want 125/125", sec)
	}

	// The enemy cannot reinforce it.
	res, err = svc.Interact(ctx, "bob", "1_1", ActionReinforce)
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res.Success {
		t.Fatalf("enemy reinforcement accepted")
	}
}

func TestAdminResetMap(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	if _, err := svc.Interact(ctx, "alice", "0_0", ActionAttack); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.AdminResetMap(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	sectors, _ := svc.Map(ctx)
	if len(sectors) != 36 {
		t.Fatalf("sectors after reset = %d", len(sectors))
	}
	for _, sec := range sectors {
		if sec.Owner != "" {
			t.Fatalf("ownership survived reset: %+v", sec)
		}
	}
	war, _ := svc.War(ctx)
	if war.SeasonID != 2 {
		t.Fatalf("season = %d, want 2", war.SeasonID)
	}
}

func findSector(t *testing.T, sectors []Sector, id string) Sector {
	t.Helper()
	for _, sec := range sectors {
		if sec.ID == id {
			return sec
		}
	}
	t.Fatalf("sector %s not found", id)
	return Sector{}
}
