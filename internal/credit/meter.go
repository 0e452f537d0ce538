// Package credit meters pipeline runs: one usage unit is reserved up front
// and later either committed or refunded, never both.
package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
)

// ErrAlreadySettled indicates a reservation that was committed or refunded
// twice. That is an orchestrator bug, not a recoverable condition.
var ErrAlreadySettled = errors.New("reservation already settled")

// Balance is a user's remaining credit as reported by the ledger.
type Balance struct {
	Remaining int
	Unlimited bool
}

// Ledger is the externally-owned credit ledger contract the meter consumes.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
	// Deduct appends a usage entry and returns the remaining balance.
	Deduct(ctx context.Context, userID string, amount int, reason, runID string) (int, error)
	// Add appends a refund entry and returns the remaining balance.
	Add(ctx context.Context, userID string, amount int, reason, runID string) (int, error)
}

// Reservation is a held usage deduction pending commit or refund.
type Reservation struct {
	ID     uuid.UUID
	UserID string
	RunID  string
	// Amount is the deducted amount: zero for unlimited users, who still get
	// a ledger entry for audit purposes.
	Amount int
	Reason string

	mu      sync.Mutex
	settled bool
}

// settle flips the reservation to settled exactly once.
func (r *Reservation) settle() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return ErrAlreadySettled
	}
	r.settled = true
	return nil
}

// Settled reports whether the reservation has been committed or refunded.
func (r *Reservation) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled
}

// Meter reserves, commits, and refunds usage credit. Concurrent reservations
// for the same user are serialized so the check-then-deduct sequence is
// atomic per user.
type Meter struct {
	ledger Ledger
	logger *observability.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMeter creates a Meter over the given ledger.
func NewMeter(ledger Ledger, logger *observability.Logger) *Meter {
	return &Meter{ledger: ledger, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (m *Meter) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// Reserve deducts amount from the user's balance and returns a handle. Fails
// fast with InsufficientCredit without mutating state when the balance does
// not cover the amount. Unlimited users get a zero-amount usage entry.
func (m *Meter) Reserve(ctx context.Context, userID string, amount int, reason, runID string) (*Reservation, error) {
	if amount < 0 {
		return nil, fmt.Errorf("invalid reservation amount %d", amount)
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	bal, err := m.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	deduct := amount
	if bal.Unlimited {
		deduct = 0
	} else if bal.Remaining < amount {
		return nil, domain.InsufficientCreditError(
			fmt.Sprintf("user %s has %d credits, needs %d", userID, bal.Remaining, amount))
	}

	remaining, err := m.ledger.Deduct(ctx, userID, deduct, reason, runID)
	if err != nil {
		return nil, fmt.Errorf("deduct: %w", err)
	}

	res := &Reservation{
		ID:     uuid.New(),
		UserID: userID,
		RunID:  runID,
		Amount: deduct,
		Reason: reason,
	}

	m.logger.Debug().
		Str("user_id", userID).
		Str("run_id", runID).
		Int("amount", deduct).
		Int("remaining", remaining).
		Msg("credit reserved")

	return res, nil
}

// Commit finalizes a reservation. The usage entry written at Reserve time
// stands; no new ledger entry is needed.
func (m *Meter) Commit(res *Reservation) error {
	if err := res.settle(); err != nil {
		return fmt.Errorf("commit reservation %s: %w", res.ID, err)
	}
	m.logger.Debug().Str("run_id", res.RunID).Str("user_id", res.UserID).Msg("credit committed")
	return nil
}

// Refund returns the reserved amount to the user. Zero-amount reservations
// still produce a refund entry so the ledger audit trail stays symmetric.
func (m *Meter) Refund(ctx context.Context, res *Reservation) error {
	if err := res.settle(); err != nil {
		return fmt.Errorf("refund reservation %s: %w", res.ID, err)
	}

	lock := m.userLock(res.UserID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.ledger.Add(ctx, res.UserID, res.Amount, "refund: "+res.Reason, res.RunID); err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	m.logger.Debug().
		Str("run_id", res.RunID).
		Str("user_id", res.UserID).
		Int("amount", res.Amount).
		Msg("credit refunded")
	return nil
}
