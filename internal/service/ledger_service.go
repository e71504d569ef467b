package service

import (
	"context"
	"log/slog"

	"github.com/digkill/PostMiniApp/internal/metrics"
	"github.com/digkill/PostMiniApp/internal/models"
)

// BalanceStore is the authoritative balance read.
type BalanceStore interface {
	Balance(ctx context.Context, userID int64) (models.Cents, error)
}

// DebitDispatcher accepts a debit for best-effort delivery. It must not block
// on the remote ledger and never reports failure to the caller.
type DebitDispatcher interface {
	Dispatch(ctx context.Context, debit models.Debit)
}

type ChargeOutcome struct {
	Charged models.Cents
	// EstimatedBalance is the balance read before the charge minus the
	// charged amount. It is not reconciled with the remote debit.
	EstimatedBalance models.Cents
}

// LedgerService gates paid operations on the user's balance.
type LedgerService struct {
	balances   BalanceStore
	dispatcher DebitDispatcher
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func NewLedgerService(balances BalanceStore, dispatcher DebitDispatcher, m *metrics.Metrics, log *slog.Logger) *LedgerService {
	return &LedgerService{
		balances:   balances,
		dispatcher: dispatcher,
		metrics:    m,
		log:        log.With("component", "ledger"),
	}
}

func (s *LedgerService) CheckBalance(ctx context.Context, user *models.User) (models.Cents, error) {
	balance, err := s.balances.Balance(ctx, user.ID)
	if err != nil {
		s.log.Error("balance read failed", "user_id", user.ID, "error", err)
		s.metrics.Error("ledger")
		return 0, newError(CodeLedgerUnavailable, "balance read failed", err)
	}
	return balance, nil
}

// Charge re-reads the balance and, when it covers amount, hands a debit to
// the dispatcher. A zero amount is free and touches nothing.
func (s *LedgerService) Charge(ctx context.Context, user *models.User, amount models.Cents, reason string) (ChargeOutcome, error) {
	if amount <= 0 {
		return ChargeOutcome{}, nil
	}

	balance, err := s.CheckBalance(ctx, user)
	if err != nil {
		s.observe(reason, "unavailable")
		return ChargeOutcome{}, err
	}
	if balance < amount {
		s.observe(reason, "insufficient")
		return ChargeOutcome{EstimatedBalance: balance}, newError(CodeInsufficientFunds, reason, nil)
	}

	s.dispatcher.Dispatch(ctx, models.Debit{
		UserID: user.ID,
		Amount: amount,
		Reason: reason,
	})
	s.observe(reason, "charged")
	s.log.Info("charged", "user_id", user.ID, "amount_cents", int64(amount), "reason", reason)

	return ChargeOutcome{Charged: amount, EstimatedBalance: balance - amount}, nil
}

func (s *LedgerService) observe(reason, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Charges.WithLabelValues(reason, outcome).Inc()
}
