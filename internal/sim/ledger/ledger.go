package ledger

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Ledger owns the spendable currency and its lifetime statistics.
// Balance is derived, so Balance == Earned - Spent holds by construction.
type Ledger struct {
	earned float64
	spent  float64
}

// Resource is the persisted/observable shape of a Ledger.
type Resource struct {
	Balance        float64 `json:"balance"`
	LifetimeEarned float64 `json:"lifetime_earned"`
	LifetimeSpent  float64 `json:"lifetime_spent"`
}

// Restore builds a ledger from lifetime totals. Spent may not exceed earned.
func Restore(earned, spent float64) (*Ledger, error) {
	if !valid(earned) || !valid(spent) {
		return nil, fmt.Errorf("restore ledger: %w", ErrInvalidAmount)
	}
	if spent > earned {
		return nil, fmt.Errorf("restore ledger: spent %.6g exceeds earned %.6g: %w", spent, earned, ErrInvalidAmount)
	}
	return &Ledger{earned: earned, spent: spent}, nil
}

func (l *Ledger) Balance() float64 {
	b := l.earned - l.spent
	if b < 0 {
		return 0
	}
	return b
}

func (l *Ledger) LifetimeEarned() float64 { return l.earned }
func (l *Ledger) LifetimeSpent() float64  { return l.spent }

func (l *Ledger) Resource() Resource {
	return Resource{
		Balance:        l.Balance(),
		LifetimeEarned: l.earned,
		LifetimeSpent:  l.spent,
	}
}

func (l *Ledger) Credit(amount float64) error {
	if !valid(amount) {
		return fmt.Errorf("credit %v: %w", amount, ErrInvalidAmount)
	}
	l.earned += amount
	return nil
}

// Debit is all-or-nothing: either the whole amount is spent or nothing changes.
func (l *Ledger) Debit(amount float64) error {
	if !valid(amount) {
		return fmt.Errorf("debit %v: %w", amount, ErrInvalidAmount)
	}
	if amount > l.Balance() {
		return fmt.Errorf("debit %.6g with balance %.6g: %w", amount, l.Balance(), ErrInsufficientFunds)
	}
	// Spending the exact balance can round spent one step past earned.
	next := l.spent + amount
	if next > l.earned {
		next = l.earned
	}
	l.spent = next
	return nil
}

func valid(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
