package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/PostMiniApp/internal/metrics"
	"github.com/digkill/PostMiniApp/internal/models"
)

type DebitStore interface {
	Create(ctx context.Context, debit *models.Debit) error
	ListPending(ctx context.Context, limit int) ([]models.Debit, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause string) error
	MarkDead(ctx context.Context, id int64, cause string) error
}

// LedgerWriter performs the remote debit.
type LedgerWriter interface {
	Spend(ctx context.Context, debit models.Debit) error
}

// Outbox persists debits locally before the HTTP response is written and
// flushes them to the remote ledger in the background.
type Outbox struct {
	store    DebitStore
	ledger   LedgerWriter
	metrics  *metrics.Metrics
	log      *slog.Logger
	interval time.Duration
	batch    int
	// maxAttempts bounds delivery tries before a debit is dead-lettered.
	maxAttempts int
	wake        chan struct{}

	// flushMu keeps the background loop and manual flushes from sending the
	// same pending debit twice.
	flushMu sync.Mutex
}

func NewOutbox(store DebitStore, ledger LedgerWriter, m *metrics.Metrics, log *slog.Logger, interval time.Duration, batch, maxAttempts int) *Outbox {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Outbox{
		store:       store,
		ledger:      ledger,
		metrics:     m,
		log:         log.With("component", "outbox"),
		interval:    interval,
		batch:       batch,
		maxAttempts: maxAttempts,
		wake:        make(chan struct{}, 1),
	}
}

// Dispatch records the debit. The write is detached from ctx so a client that
// disconnects mid-request does not lose it. If the local store is down the
// debit is pushed straight to the ledger instead.
func (o *Outbox) Dispatch(ctx context.Context, debit models.Debit) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.Create(ctx, &debit); err != nil {
		o.log.Error("outbox write failed, sending debit directly", "user_id", debit.UserID, "reason", debit.Reason, "error", err)
		o.metrics.Error("outbox")
		go o.sendDirect(ctx, debit)
		return
	}
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) sendDirect(ctx context.Context, debit models.Debit) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := o.ledger.Spend(ctx, debit); err != nil {
		o.log.Error("direct debit failed", "user_id", debit.UserID, "amount_cents", int64(debit.Amount), "error", err)
		o.flushed("failed")
		return
	}
	o.flushed("delivered")
}

// Run flushes on every tick and whenever a debit is dispatched, until ctx is
// done.
func (o *Outbox) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.log.Info("outbox started", "interval", o.interval, "batch", o.batch)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("outbox stopped")
			return
		case <-ticker.C:
		case <-o.wake:
		}
		if _, err := o.Flush(ctx); err != nil {
			o.log.Error("outbox flush failed", "error", err)
		}
	}
}

// Flush delivers one batch of pending debits and returns how many succeeded.
func (o *Outbox) Flush(ctx context.Context) (int, error) {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	pending, err := o.store.ListPending(ctx, o.batch)
	if err != nil {
		o.metrics.Error("outbox")
		return 0, err
	}

	delivered := 0
	for _, debit := range pending {
		if err := o.ledger.Spend(ctx, debit); err != nil {
			o.retire(ctx, debit, err)
			continue
		}
		if err := o.store.MarkDelivered(ctx, debit.ID); err != nil {
			o.log.Error("mark debit delivered", "debit_id", debit.ID, "error", err)
			continue
		}
		o.flushed("delivered")
		delivered++
	}
	return delivered, nil
}

// retire records a failed attempt. Once maxAttempts is reached the debit
// leaves the pending queue for the admin dead-letter view.
func (o *Outbox) retire(ctx context.Context, debit models.Debit, cause error) {
	attempts := debit.Attempts + 1
	if attempts >= o.maxAttempts {
		o.log.Error("debit dead-lettered", "debit_id", debit.ID, "user_id", debit.UserID, "amount_cents", int64(debit.Amount), "attempts", attempts, "error", cause)
		o.flushed("dead")
		if err := o.store.MarkDead(ctx, debit.ID, cause.Error()); err != nil {
			o.log.Error("mark debit dead", "debit_id", debit.ID, "error", err)
		}
		return
	}
	o.log.Warn("debit delivery failed", "debit_id", debit.ID, "attempts", attempts, "error", cause)
	o.flushed("failed")
	if err := o.store.MarkFailed(ctx, debit.ID, cause.Error()); err != nil {
		o.log.Error("mark debit failed", "debit_id", debit.ID, "error", err)
	}
}

func (o *Outbox) flushed(status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.DebitsFlushed.WithLabelValues(status).Inc()
}
