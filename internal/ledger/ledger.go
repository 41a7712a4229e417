// Package ledger is the single authority over credit balances. Every game
// protocol debits and credits through it; the non-negative balance rule is
// enforced here and nowhere else.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nexus/internal/account"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrBadAmount         = errors.New("ledger: amount must be positive")
)

type Ledger struct {
	accounts *account.Service
	log      *slog.Logger
}

func New(accounts *account.Service, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{accounts: accounts, log: logger}
}

// Credit adds amount to the player's balance and lifetime earnings.
func (l *Ledger) Credit(ctx context.Context, username string, amount int64, reason string) error {
	if amount <= 0 {
		return ErrBadAmount
	}
	err := l.accounts.Update(ctx, username, func(acct *account.Account) error {
		acct.Balance += amount
		acct.Stats.TotalEarnings += amount
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Info("credit", "username", username, "amount", amount, "reason", reason)
	return nil
}

// Refund returns previously debited credits. Unlike Credit it does not touch
// lifetime earnings: giving a bidder their own money back is not income.
func (l *Ledger) Refund(ctx context.Context, username string, amount int64, reason string) error {
	if amount <= 0 {
		return ErrBadAmount
	}
	err := l.accounts.Update(ctx, username, func(acct *account.Account) error {
		acct.Balance += amount
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Info("refund", "username", username, "amount", amount, "reason", reason)
	return nil
}

// Debit removes amount from the player's balance; ErrInsufficientFunds when
// the balance cannot cover it. The check and the write share one CAS, so two
// racing debits cannot both pass against the same funds.
func (l *Ledger) Debit(ctx context.Context, username string, amount int64, reason string) error {
	if amount <= 0 {
		return ErrBadAmount
	}
	err := l.accounts.Update(ctx, username, func(acct *account.Account) error {
		if acct.Balance < amount {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, username, acct.Balance, amount)
		}
		acct.Balance -= amount
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Info("debit", "username", username, "amount", amount, "reason", reason)
	return nil
}

// RecordWin bumps the player's win counter.
func (l *Ledger) RecordWin(ctx context.Context, username string) error {
	return l.accounts.Update(ctx, username, func(acct *account.Account) error {
		acct.Stats.Wins++
		return nil
	})
}

// Transfer moves amount between players. The debit leg settles first; the
// credit leg is then applied and must not be lost, so a failure there is
// surfaced loudly rather than rolled back (the account CAS loop already
// retries transient conflicts).
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64, reason string) error {
	if from == to {
		return errors.New("ledger: transfer to self")
	}
	if err := l.Debit(ctx, from, amount, reason); err != nil {
		return err
	}
	if err := l.Credit(ctx, to, amount, reason); err != nil {
		l.log.Error("transfer credit leg failed after debit settled",
			"from", from, "to", to, "amount", amount, "reason", reason, "err", err)
		return fmt.Errorf("transfer credit leg: %w", err)
	}
	return nil
}
