// Package vault is the code-breaking jackpot: a hidden 5-digit code, a fee
// per attempt, and Mastermind-style feedback. Misses feed the jackpot;
// cracking the code takes the whole pot.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"nexus/internal/ledger"
	"nexus/internal/store"
	"nexus/internal/tuning"
)

const (
	publicPath = "vault/public"
	codePath   = "vault/private/code"

	historyCap = 50
)

type GuessEntry struct {
	Username  string `json:"username"`
	Guess     string `json:"guess"`
	Exact     int    `json:"exact"`
	Partial   int    `json:"partial"`
	Timestamp int64  `json:"timestamp"`
}

type Public struct {
	Jackpot    int64        `json:"jackpot"`
	History    []GuessEntry `json:"history"`
	LastWinner string       `json:"lastWinner,omitempty"`
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Exact   int    `json:"matches"`
	Partial int    `json:"partial"`
}

type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	cfg    tuning.Vault
	log    *slog.Logger
	now    func() time.Time
}

func NewService(s store.Store, l *ledger.Ledger, cfg tuning.Vault, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, ledger: l, cfg: cfg, log: logger, now: time.Now}
}

// Score compares a guess against the secret, Mastermind style. The first
// pass consumes exact position matches; the second pairs each remaining
// guess digit with the first unconsumed equal secret digit. No digit is ever
// counted twice, so exact + partial never exceeds the code length.
func Score(guess, secret string) (exact, partial int) {
	n := len(secret)
	if len(guess) != n {
		return 0, 0
	}
	usedSecret := make([]bool, n)
	usedGuess := make([]bool, n)
	for i := 0; i < n; i++ {
		if guess[i] == secret[i] {
			exact++
			usedSecret[i] = true
			usedGuess[i] = true
		}
	}
	for i := 0; i < n; i++ {
		if usedGuess[i] {
			continue
		}
		for j := 0; j < n; j++ {
			if usedSecret[j] || guess[i] != secret[j] {
				continue
			}
			partial++
			usedSecret[j] = true
			break
		}
	}
	return exact, partial
}

func digitsOnly(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// newCode draws a fresh secret with no leading zero.
func (s *Service) newCode() (string, error) {
	low := int64(1)
	for i := 1; i < s.cfg.CodeDigits; i++ {
		low *= 10
	}
	span := low*10 - low
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("draw vault code: %w", err)
	}
	return fmt.Sprintf("%d", low+n.Int64()), nil
}

// Get returns the public vault state, seeding it on first touch.
func (s *Service) Get(ctx context.Context) (Public, error) {
	entry, err := s.store.Read(ctx, publicPath)
	if errors.Is(err, store.ErrNotFound) {
		seeded := Public{Jackpot: s.cfg.JackpotFloor, History: []GuessEntry{}}
		err := s.store.CompareAndSwap(ctx, publicPath, seeded, 0)
		if err == nil {
			return seeded, nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			return s.Get(ctx)
		}
		return Public{}, err
	}
	if err != nil {
		return Public{}, err
	}
	var pub Public
	if err := entry.Decode(&pub); err != nil {
		return Public{}, fmt.Errorf("decode vault state: %w", err)
	}
	return pub, nil
}

// secret returns the current code, replacing any missing or malformed value
// with a fresh draw.
func (s *Service) secret(ctx context.Context) (string, error) {
	entry, err := s.store.Read(ctx, codePath)
	if err == nil {
		var code string
		if entry.Decode(&code) == nil && digitsOnly(code, s.cfg.CodeDigits) {
			return code, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	code, err := s.newCode()
	if err != nil {
		return "", err
	}
	if err := s.store.Write(ctx, codePath, code); err != nil {
		return "", err
	}
	s.log.Info("vault code rotated")
	return code, nil
}

// SubmitGuess runs one attempt. The entry fee is charged on every valid
// attempt, win or lose.
func (s *Service) SubmitGuess(ctx context.Context, username, guess string) (Result, error) {
	if !digitsOnly(guess, s.cfg.CodeDigits) {
		return Result{Success: false, Message: fmt.Sprintf("Guess must be exactly %d digits.", s.cfg.CodeDigits)}, nil
	}
	if _, err := s.Get(ctx); err != nil {
		return Result{}, err
	}

	err := s.ledger.Debit(ctx, username, s.cfg.EntryFee, "vault entry fee")
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return Result{Success: false, Message: fmt.Sprintf("The vault charges %d credits per attempt.", s.cfg.EntryFee)}, nil
	}
	if err != nil {
		return Result{}, err
	}

	code, err := s.secret(ctx)
	if err != nil {
		return Result{}, err
	}
	exact, partial := Score(guess, code)

	if exact == s.cfg.CodeDigits {
		return s.settleWin(ctx, username)
	}

	entry := GuessEntry{
		Username:  username,
		Guess:     guess,
		Exact:     exact,
		Partial:   partial,
		Timestamp: s.now().Unix(),
	}
	err = store.Update(ctx, s.store, publicPath, func(cur json.RawMessage) (any, error) {
		var pub Public
		if cur != nil {
			if err := json.Unmarshal(cur, &pub); err != nil {
				return nil, fmt.Errorf("decode vault state: %w", err)
			}
		}
		pub.Jackpot += s.cfg.JackpotGrowth
		pub.History = append(pub.History, entry)
		if len(pub.History) > historyCap {
			pub.History = pub.History[len(pub.History)-historyCap:]
		}
		return pub, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success: false,
		Message: fmt.Sprintf("Access denied. %d exact, %d misplaced.", exact, partial),
		Exact:   exact,
		Partial: partial,
	}, nil
}

func (s *Service) settleWin(ctx context.Context, username string) (Result, error) {
	// The winning CAS claims the pot; the credit follows. Between two racing
	// winners only one swap lands, the loser sees the already-reset vault.
	var jackpot int64
	err := store.Update(ctx, s.store, publicPath, func(cur json.RawMessage) (any, error) {
		var pub Public
		if cur != nil {
			if err := json.Unmarshal(cur, &pub); err != nil {
				return nil, fmt.Errorf("decode vault state: %w", err)
			}
		}
		jackpot = pub.Jackpot
		return Public{
			Jackpot:    s.cfg.JackpotFloor,
			History:    []GuessEntry{},
			LastWinner: username,
		}, nil
	})
	if err != nil {
		return Result{}, err
	}

	if jackpot > 0 {
		if err := s.ledger.Credit(ctx, username, jackpot, "vault jackpot"); err != nil {
			return Result{}, err
		}
	}
	if err := s.ledger.RecordWin(ctx, username); err != nil {
		return Result{}, err
	}

	code, err := s.newCode()
	if err != nil {
		return Result{}, err
	}
	if err := s.store.Write(ctx, codePath, code); err != nil {
		return Result{}, err
	}

	s.log.Info("vault cracked", "username", username, "jackpot", jackpot)
	return Result{
		Success: true,
		Message: fmt.Sprintf("VAULT CRACKED. %d credits are yours.", jackpot),
		Exact:   s.cfg.CodeDigits,
	}, nil
}
