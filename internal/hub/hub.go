// Package hub wires the game services together behind one facade. The API
// layer talks to the hub only; the hub also keeps per-game play counters so
// operators can see what the community actually plays.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nexus/internal/account"
	"nexus/internal/auction"
	"nexus/internal/betting"
	"nexus/internal/bossraid"
	"nexus/internal/idle"
	"nexus/internal/ledger"
	"nexus/internal/store"
	"nexus/internal/territory"
	"nexus/internal/treasury"
	"nexus/internal/tuning"
	"nexus/internal/vault"
)

type Hub struct {
	Store     store.Store
	Accounts  *account.Service
	Ledger    *ledger.Ledger
	Treasury  *treasury.Service
	Boss      *bossraid.Service
	Vault     *vault.Service
	Auction   *auction.Service
	Territory *territory.Service
	Betting   *betting.Service
	Idle      *idle.Service

	// StartingBalance is what a freshly registered player receives.
	StartingBalance int64

	log *slog.Logger
}

func New(s store.Store, cfg tuning.Tuning, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	accounts := account.NewService(s, logger)
	l := ledger.New(accounts, logger)
	return &Hub{
		Store:     s,
		Accounts:  accounts,
		Ledger:    l,
		Treasury:  treasury.NewService(s, l, cfg.Treasury, logger),
		Boss:      bossraid.NewService(s, l, cfg.Boss, logger),
		Vault:     vault.NewService(s, l, cfg.Vault, logger),
		Auction:   auction.NewService(s, l, accounts, logger),
		Territory: territory.NewService(s, l, accounts, cfg.Territory, logger),
		Betting:   betting.NewService(s, l, cfg.Betting, logger),
		Idle:      idle.NewService(accounts, l, cfg.Idle, logger),

		StartingBalance: cfg.Accounts.StartingBalance,

		log: logger,
	}
}

// countPlay bumps the per-game play counter and the player's own counter.
// Both are best-effort; a failed metric never fails the play.
func (h *Hub) countPlay(ctx context.Context, game, username string) {
	if _, err := h.Store.Increment(ctx, "metrics/plays/"+game, 1); err != nil {
		h.log.Warn("play counter failed", "game", game, "err", err)
	}
	if err := h.Accounts.Update(ctx, username, func(acct *account.Account) error {
		acct.Stats.GamesPlayed++
		return nil
	}); err != nil {
		h.log.Warn("gamesPlayed counter failed", "username", username, "err", err)
	}
}

// PlayCounts returns the per-game play totals.
func (h *Hub) PlayCounts(ctx context.Context) (map[string]int64, error) {
	entries, err := h.Store.List(ctx, "metrics/plays")
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for path, entry := range entries {
		var n int64
		if err := entry.Decode(&n); err != nil {
			continue
		}
		out[path[len("metrics/plays/"):]] = n
	}
	return out, nil
}

func (h *Hub) Usurp(ctx context.Context, username string) (treasury.Result, error) {
	res, err := h.Treasury.Usurp(ctx, username)
	if err == nil {
		h.countPlay(ctx, "treasury", username)
	}
	return res, err
}

func (h *Hub) BuyTurret(ctx context.Context, username, turretID string) (bossraid.Result, error) {
	res, err := h.Boss.BuyTurret(ctx, username, turretID)
	if err == nil {
		h.countPlay(ctx, "core", username)
	}
	return res, err
}

func (h *Hub) SubmitGuess(ctx context.Context, username, guess string) (vault.Result, error) {
	res, err := h.Vault.SubmitGuess(ctx, username, guess)
	if err == nil {
		h.countPlay(ctx, "vault", username)
	}
	return res, err
}

func (h *Hub) Bid(ctx context.Context, username string, amount int64) (auction.Result, error) {
	res, err := h.Auction.Bid(ctx, username, amount)
	if err == nil {
		h.countPlay(ctx, "auction", username)
	}
	return res, err
}

func (h *Hub) Interact(ctx context.Context, username, sector, action string) (territory.Result, error) {
	res, err := h.Territory.Interact(ctx, username, sector, action)
	if err == nil {
		h.countPlay(ctx, "territory", username)
	}
	return res, err
}

func (h *Hub) PlaceBet(ctx context.Context, username, eventID, optionID string, amount int64) (betting.Result, error) {
	res, err := h.Betting.PlaceBet(ctx, username, eventID, optionID, amount)
	if err == nil {
		h.countPlay(ctx, "pmu", username)
	}
	return res, err
}

// watchable lists the prefixes clients may subscribe to. Session tokens,
// password hashes and the private vault code stay server-side.
var watchable = []string{
	"treasury", "core", "vault/public", "auction", "factions", "pmu", "metrics",
}

var ErrForbiddenPrefix = errors.New("hub: prefix not watchable")

// Watch streams store events under a public path prefix: one snapshot event
// per existing entry, then every change.
func (h *Hub) Watch(ctx context.Context, prefix string) (<-chan store.Event, error) {
	allowed := false
	for _, p := range watchable {
		if store.Under(prefix, p) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrForbiddenPrefix
	}
	return h.Store.Subscribe(ctx, prefix)
}

// EnsureSeeded lays down every record the games expect on a fresh store,
// including the admin account.
func (h *Hub) EnsureSeeded(ctx context.Context, adminPassword string, startingBalance int64) error {
	if _, err := h.Treasury.Get(ctx); err != nil {
		return err
	}
	if _, err := h.Boss.GetState(ctx); err != nil {
		return err
	}
	if _, err := h.Vault.Get(ctx); err != nil {
		return err
	}
	if err := h.Territory.EnsureSeeded(ctx); err != nil {
		return err
	}
	if adminPassword != "" {
		_, err := h.Accounts.Register(ctx, "admin", adminPassword, account.RoleAdmin, startingBalance)
		if err != nil && !errors.Is(err, account.ErrExists) {
			return err
		}
	}
	return nil
}

// Stats is the operator overview returned by the admin dashboard endpoint.
type Stats struct {
	Players    int              `json:"players"`
	PlayCounts map[string]int64 `json:"playCounts"`
	Uptime     string           `json:"uptime"`
}

func (h *Hub) AdminStats(ctx context.Context, since time.Time) (Stats, error) {
	accounts, err := h.Accounts.All(ctx)
	if err != nil {
		return Stats{}, err
	}
	plays, err := h.PlayCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Players:    len(accounts),
		PlayCounts: plays,
		Uptime:     time.Since(since).Round(time.Second).String(),
	}, nil
}
