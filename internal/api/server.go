// Package api is the HTTP surface of the hub. Protocol verdicts come back as
// {success, message} payloads with status 200; transport and auth problems
// use error statuses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nexus/internal/account"
	"nexus/internal/auction"
	"nexus/internal/betting"
	"nexus/internal/hub"
	"nexus/internal/territory"
)

type contextKey string

const accountContextKey contextKey = "account"

type Server struct {
	hub     *hub.Hub
	log     *slog.Logger
	mux     *chi.Mux
	started time.Time
}

func New(h *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:     h,
		log:     logger,
		mux:     chi.NewRouter(),
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Get("/treasury", s.handleTreasuryState)
			r.Post("/treasury/usurp", s.handleUsurp)

			r.Get("/vault", s.handleVaultState)
			r.Post("/vault/guess", s.handleVaultGuess)

			r.Get("/auction", s.handleAuctionState)
			r.Post("/auction/bid", s.handleAuctionBid)
			r.Post("/auction/claim", s.handleAuctionClaim)

			r.Get("/territory", s.handleTerritoryState)
			r.Post("/territory/{sector}/attack", s.handleTerritoryAction(territory.ActionAttack))
			r.Post("/territory/{sector}/reinforce", s.handleTerritoryAction(territory.ActionReinforce))
			r.Post("/factions/join", s.handleFactionJoin)

			r.Get("/betting/events", s.handleBettingEvents)
			r.Post("/bets", s.handlePlaceBet)

			r.Get("/core", s.handleCoreState)
			r.Post("/core/turrets/buy", s.handleBuyTurret)

			r.Get("/idle", s.handleIdleState)
			r.Post("/idle/save", s.handleIdleSave)
			r.Post("/idle/buy", s.handleIdleBuy)
			r.Post("/idle/cashout", s.handleIdleCashOut)
			r.Post("/idle/prestige", s.handleIdlePrestige)

			r.Get("/watch", s.handleWatch)

			r.Group(func(r chi.Router) {
				r.Use(s.adminMiddleware)
				r.Get("/admin/stats", s.handleAdminStats)
				r.Post("/admin/users", s.handleAdminRegister)
				r.Post("/admin/users/{name}/balance", s.handleAdminSetBalance)
				r.Post("/admin/auction", s.handleAdminAuctionCreate)
				r.Delete("/admin/auction", s.handleAdminAuctionCancel)
				r.Post("/admin/betting/events", s.handleAdminEventCreate)
				r.Post("/admin/betting/events/{id}/resolve", s.handleAdminEventResolve)
				r.Post("/admin/core/reset", s.handleAdminCoreReset)
				r.Post("/admin/territory/reset", s.handleAdminTerritoryReset)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token") // websocket clients cannot set headers everywhere
		}
		acct, err := s.hub.Accounts.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := accountFromContext(r.Context())
		if err != nil || !acct.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accountFromContext(ctx context.Context) (account.Account, error) {
	acct, ok := ctx.Value(accountContextKey).(account.Account)
	if !ok || acct.Username == "" {
		return account.Account{}, errors.New("missing auth context")
	}
	return acct, nil
}

// userView is the account as others may see it: no password hash, no session
// material.
type userView struct {
	Username  string           `json:"username"`
	Role      string           `json:"role"`
	Balance   int64            `json:"balance"`
	Inventory []string         `json:"inventory"`
	Faction   string           `json:"faction,omitempty"`
	Stats     account.Stats    `json:"stats"`
	Idle      account.IdleSave `json:"idle"`
}

func viewOf(acct account.Account) userView {
	return userView{
		Username:  acct.Username,
		Role:      acct.Role,
		Balance:   acct.Balance,
		Inventory: acct.Inventory,
		Faction:   acct.Faction,
		Stats:     acct.Stats,
		Idle:      acct.Idle,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, acct, err := s.hub.Accounts.Login(r.Context(), in.Username, in.Password)
	if errors.Is(err, account.ErrBadCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": viewOf(acct)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"))
	if err := s.hub.Accounts.Logout(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(acct))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.hub.Accounts.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]userView, 0, len(accounts))
	for _, acct := range accounts {
		views = append(views, viewOf(acct))
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": views})
}

func (s *Server) handleTreasuryState(w http.ResponseWriter, r *http.Request) {
	state, err := s.hub.Treasury.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleUsurp(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	res, err := s.hub.Usurp(r.Context(), acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVaultState(w http.ResponseWriter, r *http.Request) {
	pub, err := s.hub.Vault.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (s *Server) handleVaultGuess(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Guess string `json:"guess"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.hub.SubmitGuess(r.Context(), acct.Username, strings.TrimSpace(in.Guess))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuctionState(w http.ResponseWriter, r *http.Request) {
	listing, err := s.hub.Auction.Get(r.Context())
	if errors.Is(err, auction.ErrNoListing) {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "listing": listing})
}

func (s *Server) handleAuctionBid(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.hub.Bid(r.Context(), acct.Username, in.Amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuctionClaim(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	res, err := s.hub.Auction.Claim(r.Context(), acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTerritoryState(w http.ResponseWriter, r *http.Request) {
	sectors, err := s.hub.Territory.Map(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	war, err := s.hub.Territory.War(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"war": war, "sectors": sectors})
}

func (s *Server) handleTerritoryAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := accountFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		sector := chi.URLParam(r, "sector")
		res, err := s.hub.Interact(r.Context(), acct.Username, sector, action)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleFactionJoin(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Faction string `json:"faction"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	joined, err := s.hub.Accounts.JoinFaction(r.Context(), acct.Username, in.Faction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !joined {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Faction allegiance is permanent."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Welcome to " + in.Faction + "."})
}

func (s *Server) handleBettingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.hub.Betting.Events(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		EventID  string `json:"eventId"`
		OptionID string `json:"optionId"`
		Amount   int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.hub.PlaceBet(r.Context(), acct.Username, in.EventID, in.OptionID, in.Amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCoreState(w http.ResponseWriter, r *http.Request) {
	state, err := s.hub.Boss.GetState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	players, err := s.hub.Boss.Players(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state, "players": players})
}

func (s *Server) handleBuyTurret(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		TurretID string `json:"turretId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.hub.BuyTurret(r.Context(), acct.Username, in.TurretID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIdleState(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	snap, err := s.hub.Idle.Get(r.Context(), acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleIdleSave(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Abdous   float64 `json:"abdous"`
		Lifetime float64 `json:"lifetime"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.hub.Idle.Save(r.Context(), acct.Username, in.Abdous, in.Lifetime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleIdleBuy(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		UpgradeID string `json:"upgradeId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.hub.Idle.BuyUpgrade(r.Context(), acct.Username, in.UpgradeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIdleCashOut(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	res, err := s.hub.Idle.CashOut(r.Context(), acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIdlePrestige(w http.ResponseWriter, r *http.Request) {
	acct, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	res, err := s.hub.Idle.Prestige(r.Context(), acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.AdminStats(r.Context(), s.started)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		Role            string `json:"role"`
		StartingCredits *int64 `json:"startingCredits"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Role == "" {
		in.Role = account.RoleUser
	}
	starting := s.hub.StartingBalance
	if in.StartingCredits != nil {
		starting = *in.StartingCredits
	}
	acct, err := s.hub.Accounts.Register(r.Context(), in.Username, in.Password, in.Role, starting)
	if errors.Is(err, account.ErrExists) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(acct))
}

func (s *Server) handleAdminSetBalance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Balance int64 `json:"balance"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	err := s.hub.Accounts.SetBalance(r.Context(), name, in.Balance)
	if errors.Is(err, account.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminAuctionCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name            string `json:"name"`
		Description     string `json:"description"`
		ItemID          string `json:"itemId"`
		StartingBid     int64  `json:"startingBid"`
		MinIncrement    int64  `json:"minIncrement"`
		DurationSeconds int64  `json:"durationSeconds"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item := auction.Item{Name: in.Name, Description: in.Description, ItemID: in.ItemID}
	listing, err := s.hub.Auction.Create(r.Context(), item, in.StartingBid, in.MinIncrement,
		time.Duration(in.DurationSeconds)*time.Second)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (s *Server) handleAdminAuctionCancel(w http.ResponseWriter, r *http.Request) {
	err := s.hub.Auction.Cancel(r.Context())
	if errors.Is(err, auction.ErrNoListing) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminEventCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := s.hub.Betting.CreateEvent(r.Context(), in.Question, in.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleAdminEventResolve(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OptionID string `json:"optionId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.hub.Betting.Resolve(r.Context(), chi.URLParam(r, "id"), in.OptionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, betting.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, betting.ErrEventClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleAdminCoreReset(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Boss.AdminReset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminTerritoryReset(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Territory.AdminResetMap(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
