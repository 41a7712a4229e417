package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"nexus/internal/account"
	"nexus/internal/store"
	"nexus/internal/store/memstore"
	"nexus/internal/tuning"
)

func setup(t *testing.T) *Hub {
	t.Helper()
	h := New(memstore.New(), tuning.Defaults(), nil)
	ctx := context.Background()
	if err := h.EnsureSeeded(ctx, "correct-horse", 250); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := h.Accounts.Register(ctx, "alice", "hunter2", account.RoleUser, 1000); err != nil {
		t.Fatalf("register: %v", err)
	}
	return h
}

func TestEnsureSeeded(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	admin, err := h.Accounts.Get(ctx, "admin")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if !admin.IsAdmin() {
		t.Fatalf("seed admin role = %q", admin.Role)
	}

	// Seeding is idempotent.
	if err := h.EnsureSeeded(ctx, "correct-horse", 250); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	sectors, err := h.Territory.Map(ctx)
	if err != nil || len(sectors) != 36 {
		t.Fatalf("map = %d sectors, %v", len(sectors), err)
	}
}

func TestPlayCounters(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	if _, err := h.Usurp(ctx, "alice"); err != nil {
		t.Fatalf("usurp: %v", err)
	}
	if _, err := h.BuyTurret(ctx, "alice", "laser"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := h.Usurp(ctx, "alice"); err != nil { // refused self-usurp still counts as a play
		t.Fatalf("usurp: %v", err)
	}

	plays, err := h.PlayCounts(ctx)
	if err != nil {
		t.Fatalf("plays: %v", err)
	}
	if plays["treasury"] != 2 || plays["core"] != 1 {
		t.Fatalf("plays = %v", plays)
	}

	alice, _ := h.Accounts.Get(ctx, "alice")
	if alice.Stats.GamesPlayed != 3 {
		t.Fatalf("gamesPlayed = %d, want 3", alice.Stats.GamesPlayed)
	}
}

func TestWatchGuardsPrivatePaths(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := setup(t)

	for _, prefix := range []string{"", "users", "sessions", "vault", "vault/private", "users/alice"} {
		if _, err := h.Watch(ctx, prefix); !errors.Is(err, ErrForbiddenPrefix) {
			t.Fatalf("prefix %q: got %v, want ErrForbiddenPrefix", prefix, err)
		}
	}

	ch, err := h.Watch(ctx, "treasury")
	if err != nil {
		t.Fatalf("watch treasury: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Path != "treasury/state" || ev.Kind != store.EventPut {
			t.Fatalf("snapshot event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot event")
	}
}

func TestAdminStats(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	if _, err := h.SubmitGuess(ctx, "alice", "12345"); err != nil {
		t.Fatalf("guess: %v", err)
	}
	stats, err := h.AdminStats(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Players != 2 {
		t.Fatalf("players = %d, want 2", stats.Players)
	}
	if stats.PlayCounts["vault"] != 1 {
		t.Fatalf("playCounts = %v", stats.PlayCounts)
	}
}
