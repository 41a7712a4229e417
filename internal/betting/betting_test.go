package betting

import (
	"context"
	"errors"
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
	svc := NewService(m, l, tuning.Defaults().Betting, nil)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		if _, err := accounts.Register(ctx, name, "hunter2", account.RoleUser, 1000); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return svc, accounts
}

func TestCreateEventValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	if _, err := svc.CreateEvent(ctx, "", []string{"yes", "no"}); err == nil {
		t.Fatalf("empty question accepted")
	}
	if _, err := svc.CreateEvent(ctx, "Will it rain?", []string{"yes"}); err == nil {
		t.Fatalf("single option accepted")
	}

	ev, err := svc.CreateEvent(ctx, "Will it rain?", []string{"yes", "no"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ev.Status != StatusOpen || len(ev.Options) != 2 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPlaceBetValidation(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)
	ev, err := svc.CreateEvent(ctx, "Will it rain?", []string{"yes", "no"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name          string
		event, option string
		amount        int64
	}{
		{"missing event", "nope", "opt-1", 100},
		{"unknown option", ev.ID, "opt-9", 100},
		{"zero stake", ev.ID, "opt-1", 0},
		{"negative stake", ev.ID, "opt-1", -5},
		{"uncovered stake", ev.ID, "opt-1", 5000},
	}
	for _, tc := range cases {
		res, err := svc.PlaceBet(ctx, "alice", tc.event, tc.option, tc.amount)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Success {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
	alice, _ := accounts.Get(ctx, "alice")
	if alice.Balance != 1000 {
		t.Fatalf("refused bets charged: %d", alice.Balance)
	}
}

func TestResolvePaysWinnersOnce(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)
	ev, err := svc.CreateEvent(ctx, "Will it rain?", []string{"yes", "no"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if res, _ := svc.PlaceBet(ctx, "alice", ev.ID, "opt-1", 100); !res.Success {
		t.Fatalf("alice bet refused: %s", res.Message)
	}
	if res, _ := svc.PlaceBet(ctx, "bob", ev.ID, "opt-2", 50); !res.Success {
		t.Fatalf("bob bet refused: %s", res.Message)
	}

	if err := svc.Resolve(ctx, ev.ID, "opt-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	alice, _ := accounts.Get(ctx, "alice")
	bob, _ := accounts.Get(ctx, "bob")
	// Alice: 1000 - 100 stake + 200 payout.
	if alice.Balance != 1100 {
		t.Fatalf("alice balance = %d, want 1100", alice.Balance)
	}
	if alice.Stats.TotalEarnings != 100 {
		t.Fatalf("alice earnings = %d, want 100 (profit only)", alice.Stats.TotalEarnings)
	}
	if alice.Stats.Wins != 1 {
		t.Fatalf("alice wins = %d, want 1", alice.Stats.Wins)
	}
	if bob.Balance != 950 || bob.Stats.Wins != 0 {
		t.Fatalf("bob = %d credits, %d wins", bob.Balance, bob.Stats.Wins)
	}

	events, _ := svc.Events(ctx)
	if events[0].Status != StatusResolved || events[0].WinnerOptionID != "opt-1" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestResolveIsOneShot(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)
	ev, _ := svc.CreateEvent(ctx, "Will it rain?", []string{"yes", "no"})
	if res, _ := svc.PlaceBet(ctx, "alice", ev.ID, "opt-1", 100); !res.Success {
		t.Fatalf("bet refused")
	}

	if err := svc.Resolve(ctx, ev.ID, "opt-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.Resolve(ctx, ev.ID, "opt-1"); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("second resolve: %v, want ErrEventClosed", err)
	}
	if err := svc.Resolve(ctx, ev.ID, "opt-2"); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("flip resolve: %v, want ErrEventClosed", err)
	}

	alice, _ := accounts.Get(ctx, "alice")
	if alice.Balance != 1100 {
		t.Fatalf("double settlement: %d", alice.Balance)
	}

	// Late bets bounce off the RESOLVED status.
	res, err := svc.PlaceBet(ctx, "bob", ev.ID, "opt-1", 50)
	if err != nil || res.Success {
		t.Fatalf("late bet = %+v, %v", res, err)
	}
}

func TestMultipleBetsOneWinIncrement(t *testing.T) {
	ctx := context.Background()
	svc, accounts := setup(t)
	ev, _ := svc.CreateEvent(ctx, "Will it rain?", []string{"yes", "no"})

	for _, stake := range []int64{100, 60} {
		if res, _ := svc.PlaceBet(ctx, "alice", ev.ID, "opt-1", stake); !res.Success {
			t.Fatalf("bet %d refused", stake)
		}
	}
	if err := svc.Resolve(ctx, ev.ID, "opt-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	alice, _ := accounts.Get(ctx, "alice")
	// 1000 - 160 staked + 320 paid out.
	if alice.Balance != 1160 {
		t.Fatalf("balance = %d, want 1160", alice.Balance)
	}
	if alice.Stats.Wins != 1 {
		t.Fatalf("wins = %d, want exactly 1 for two winning bets", alice.Stats.Wins)
	}
	if alice.Stats.TotalEarnings != 160 {
		t.Fatalf("earnings = %d, want 160", alice.Stats.TotalEarnings)
	}
}

func TestResolveRejectsUnknownOption(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	ev, _ := svc.CreateEvent(ctx, "Will it rain?", []string{"yes", "no"})

	if err := svc.Resolve(ctx, ev.ID, "opt-9"); err == nil {
		t.Fatalf("unknown winner accepted")
	}
	if err := svc.Resolve(ctx, "ghost", "opt-1"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("missing event: %v", err)
	}

	events, _ := svc.Events(ctx)
	if events[0].Status != StatusOpen {
		t.Fatalf("failed resolve flipped status: %+v", events[0])
	}
}
