package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/PostMiniApp/internal/models"
)

// DebitRepository is the local outbox of fire-and-forget ledger debits.
// Queries use "?" placeholders, which both MySQL and SQLite accept.
type DebitRepository struct {
	db *sql.DB
}

func NewDebitRepository(db *sql.DB) *DebitRepository {
	return &DebitRepository{db: db}
}

func (r *DebitRepository) Create(ctx context.Context, debit *models.Debit) error {
	const query = `
INSERT INTO debits (user_id, amount_cents, reason, status)
VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, debit.UserID, int64(debit.Amount), debit.Reason, models.DebitPending)
	if err != nil {
		return fmt.Errorf("insert debit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	debit.ID = id
	debit.Status = models.DebitPending
	return nil
}

// ListPending returns up to limit undelivered debits. Debits with fewer
// attempts come first so a run of rejected rows cannot starve newer ones.
func (r *DebitRepository) ListPending(ctx context.Context, limit int) ([]models.Debit, error) {
	const query = `
SELECT id, user_id, amount_cents, reason, status, attempts, COALESCE(last_error, ''), created_at
FROM debits WHERE status = ? ORDER BY attempts, id LIMIT ?`
	return r.list(ctx, query, models.DebitPending, limit)
}

// ListFailed returns dead-lettered debits, newest first.
func (r *DebitRepository) ListFailed(ctx context.Context, limit int) ([]models.Debit, error) {
	const query = `
SELECT id, user_id, amount_cents, reason, status, attempts, COALESCE(last_error, ''), created_at
FROM debits WHERE status = ? ORDER BY id DESC LIMIT ?`
	return r.list(ctx, query, models.DebitFailed, limit)
}

func (r *DebitRepository) list(ctx context.Context, query, status string, limit int) ([]models.Debit, error) {
	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s debits: %w", status, err)
	}
	defer rows.Close()

	var debits []models.Debit
	for rows.Next() {
		var d models.Debit
		var amount int64
		if err := rows.Scan(&d.ID, &d.UserID, &amount, &d.Reason, &d.Status, &d.Attempts, &d.LastError, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan debit: %w", err)
		}
		d.Amount = models.Cents(amount)
		debits = append(debits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate debits: %w", err)
	}
	return debits, nil
}

func (r *DebitRepository) MarkDelivered(ctx context.Context, id int64) error {
	const query = `UPDATE debits SET status = ?, attempts = attempts + 1, last_error = NULL, delivered_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, models.DebitDelivered, id); err != nil {
		return fmt.Errorf("mark debit delivered: %w", err)
	}
	return nil
}

func (r *DebitRepository) MarkFailed(ctx context.Context, id int64, cause string) error {
	const query = `UPDATE debits SET attempts = attempts + 1, last_error = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, cause, id); err != nil {
		return fmt.Errorf("mark debit failed: %w", err)
	}
	return nil
}

// MarkDead records the last failure and retires the debit from delivery.
func (r *DebitRepository) MarkDead(ctx context.Context, id int64, cause string) error {
	const query = `UPDATE debits SET status = ?, attempts = attempts + 1, last_error = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, models.DebitFailed, cause, id); err != nil {
		return fmt.Errorf("mark debit dead: %w", err)
	}
	return nil
}

// CountPending backs the admin view.
func (r *DebitRepository) CountPending(ctx context.Context) (int, error) {
	return r.count(ctx, models.DebitPending)
}

func (r *DebitRepository) CountFailed(ctx context.Context) (int, error) {
	return r.count(ctx, models.DebitFailed)
}

func (r *DebitRepository) count(ctx context.Context, status string) (int, error) {
	const query = `SELECT COUNT(*) FROM debits WHERE status = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, query, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s debits: %w", status, err)
	}
	return n, nil
}
