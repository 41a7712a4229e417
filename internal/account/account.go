// Package account owns the player records and session tokens. Accounts live
// at users/<username>; every mutation goes through the store's CAS loop so
// concurrent game payouts and admin edits cannot clobber each other.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nexus/internal/store"
)

var (
	ErrExists         = errors.New("account: username already taken")
	ErrNotFound       = errors.New("account: not found")
	ErrBadCredentials = errors.New("account: invalid credentials")
	ErrInvalidSession = errors.New("account: invalid or expired session")
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	sessionTTL = 30 * 24 * time.Hour
)

// Factions a player may pledge to. The first pledge is permanent.
var Factions = []string{"cyber", "steampunk", "nature"}

type Stats struct {
	GamesPlayed   int64 `json:"gamesPlayed"`
	Wins          int64 `json:"wins"`
	TotalEarnings int64 `json:"totalEarnings"`
}

// IdleSave is the idle-economy progress blob carried on the account.
type IdleSave struct {
	Abdous         float64        `json:"abdous"`
	LifetimeAbdous float64        `json:"lifetimeAbdous"`
	Upgrades       map[string]int `json:"upgrades"`
	Shares         int64          `json:"shares"`
}

type Account struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"passwordHash"`
	Role         string   `json:"role"`
	Balance      int64    `json:"balance"`
	Inventory    []string `json:"inventory"`
	Faction      string   `json:"faction,omitempty"`
	Stats        Stats    `json:"stats"`
	Idle         IdleSave `json:"idle"`
	CreatedAt    int64    `json:"createdAt"`
}

func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

type session struct {
	Username  string `json:"username"`
	ExpiresAt int64  `json:"expiresAt"`
}

func Path(username string) string     { return "users/" + username }
func sessionPath(token string) string { return "sessions/" + token }

type Service struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, log: logger, now: time.Now}
}

func validUsername(name string) bool {
	if len(name) < 2 || len(name) > 24 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Register creates an account. Accounts are admin-issued; self-signup is not
// part of the surface.
func (s *Service) Register(ctx context.Context, username, password, role string, startingCredits int64) (Account, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !validUsername(username) {
		return Account{}, fmt.Errorf("account: invalid username %q", username)
	}
	if role != RoleUser && role != RoleAdmin {
		return Account{}, fmt.Errorf("account: invalid role %q", role)
	}
	if len(password) < 4 {
		return Account{}, errors.New("account: password too short")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	acct := Account{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		Balance:      startingCredits,
		Inventory:    []string{},
		Idle:         IdleSave{Upgrades: map[string]int{}},
		CreatedAt:    s.now().Unix(),
	}

	err = s.store.CompareAndSwap(ctx, Path(username), acct, 0)
	if errors.Is(err, store.ErrVersionConflict) {
		return Account{}, ErrExists
	}
	if err != nil {
		return Account{}, err
	}
	s.log.Info("account registered", "username", username, "role", role, "balance", startingCredits)
	return acct, nil
}

func (s *Service) Get(ctx context.Context, username string) (Account, error) {
	entry, err := s.store.Read(ctx, Path(username))
	if errors.Is(err, store.ErrNotFound) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	var acct Account
	if err := entry.Decode(&acct); err != nil {
		return Account{}, fmt.Errorf("decode account %s: %w", username, err)
	}
	return acct, nil
}

// All returns every account sorted by balance descending, the leaderboard
// order.
func (s *Service) All(ctx context.Context) ([]Account, error) {
	entries, err := s.store.List(ctx, "users")
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(entries))
	for path, entry := range entries {
		var acct Account
		if err := entry.Decode(&acct); err != nil {
			return nil, fmt.Errorf("decode account at %s: %w", path, err)
		}
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Balance != accounts[j].Balance {
			return accounts[i].Balance > accounts[j].Balance
		}
		return accounts[i].Username < accounts[j].Username
	})
	return accounts, nil
}

// Update applies fn to the account under CAS, retrying on conflict. fn sees
// the current record and mutates it in place.
func (s *Service) Update(ctx context.Context, username string, fn func(*Account) error) error {
	return store.Update(ctx, s.store, Path(username), func(cur json.RawMessage) (any, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		var acct Account
		if err := json.Unmarshal(cur, &acct); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", username, err)
		}
		if err := fn(&acct); err != nil {
			return nil, err
		}
		return acct, nil
	})
}

// JoinFaction pledges the player to a faction. Returns false without error
// when the player already has one; the first pledge is irrevocable.
func (s *Service) JoinFaction(ctx context.Context, username, faction string) (bool, error) {
	valid := false
	for _, f := range Factions {
		if f == faction {
			valid = true
			break
		}
	}
	if !valid {
		return false, fmt.Errorf("account: unknown faction %q", faction)
	}

	joined := false
	err := s.Update(ctx, username, func(acct *Account) error {
		if acct.Faction != "" {
			joined = false
			return nil
		}
		acct.Faction = faction
		joined = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if joined {
		s.log.Info("faction joined", "username", username, "faction", faction)
	}
	return joined, nil
}

// GrantItem appends an item id to the player's inventory.
func (s *Service) GrantItem(ctx context.Context, username, itemID string) error {
	return s.Update(ctx, username, func(acct *Account) error {
		acct.Inventory = append(acct.Inventory, itemID)
		return nil
	})
}

// SetBalance is the admin override; it bypasses the ledger's non-negative
// checks deliberately but still refuses negative targets.
func (s *Service) SetBalance(ctx context.Context, username string, balance int64) error {
	if balance < 0 {
		return errors.New("account: balance cannot be negative")
	}
	err := s.Update(ctx, username, func(acct *Account) error {
		acct.Balance = balance
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("balance set", "username", username, "balance", balance)
	return nil
}

// Authenticate checks credentials and returns the account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, error) {
	acct, err := s.Get(ctx, strings.ToLower(strings.TrimSpace(username)))
	if errors.Is(err, ErrNotFound) {
		return Account{}, ErrBadCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return Account{}, ErrBadCredentials
	}
	return acct, nil
}

// Login authenticates and mints a bearer session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, Account, error) {
	acct, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", Account{}, err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", Account{}, fmt.Errorf("mint token: %w", err)
	}
	token := hex.EncodeToString(buf)
	sess := session{
		Username:  acct.Username,
		ExpiresAt: s.now().Add(sessionTTL).Unix(),
	}
	if err := s.store.Write(ctx, sessionPath(token), sess); err != nil {
		return "", Account{}, err
	}
	s.log.Info("login", "username", acct.Username)
	return token, acct, nil
}

// Resolve maps a bearer token to its account.
func (s *Service) Resolve(ctx context.Context, token string) (Account, error) {
	if token == "" {
		return Account{}, ErrInvalidSession
	}
	entry, err := s.store.Read(ctx, sessionPath(token))
	if errors.Is(err, store.ErrNotFound) {
		return Account{}, ErrInvalidSession
	}
	if err != nil {
		return Account{}, err
	}
	var sess session
	if err := entry.Decode(&sess); err != nil {
		return Account{}, ErrInvalidSession
	}
	if s.now().Unix() >= sess.ExpiresAt {
		_ = s.store.Delete(ctx, sessionPath(token))
		return Account{}, ErrInvalidSession
	}
	return s.Get(ctx, sess.Username)
}

// Logout discards a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.Delete(ctx, sessionPath(token))
}
