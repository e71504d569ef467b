package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/supabase-community/postgrest-go"

	"github.com/digkill/PostMiniApp/internal/models"
)

const spendBalanceRPC = "spend_balance"

// LedgerRepository reads balances from user_data and pushes debits through the
// spend_balance stored procedure.
type LedgerRepository struct {
	tables Tables

	rpcMu sync.Mutex
	rpc   *postgrest.Client
}

func NewLedgerRepository(tables Tables, rpc *postgrest.Client) *LedgerRepository {
	return &LedgerRepository{tables: tables, rpc: rpc}
}

// Balance returns the authoritative balance in cents.
func (r *LedgerRepository) Balance(ctx context.Context, userID int64) (models.Cents, error) {
	var rows []struct {
		Balance float64 `json:"balance"`
	}
	_, err := r.tables.From(userTable).
		Select("balance", "", false).
		Eq("user_id", strconv.FormatInt(userID, 10)).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	if len(rows) == 0 {
		return 0, ErrUserNotFound
	}
	return dollarsToCents(rows[0].Balance), nil
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Spend debits the ledger. Amounts travel in dollars, matching the balance
// column.
func (r *LedgerRepository) Spend(ctx context.Context, debit models.Debit) error {
	r.rpcMu.Lock()
	defer r.rpcMu.Unlock()

	r.rpc.ClientError = nil
	body := r.rpc.Rpc(spendBalanceRPC, "", map[string]any{
		"p_user_id":     debit.UserID,
		"p_amount":      debit.Amount.Dollars(),
		"p_description": debit.Reason,
	})
	if r.rpc.ClientError != nil {
		return fmt.Errorf("call %s: %w", spendBalanceRPC, r.rpc.ClientError)
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") {
		var perr rpcError
		if err := json.Unmarshal([]byte(trimmed), &perr); err == nil && perr.Message != "" {
			return fmt.Errorf("call %s: %s (%s)", spendBalanceRPC, perr.Message, perr.Code)
		}
	}
	return nil
}

func dollarsToCents(v float64) models.Cents {
	if v < 0 {
		return models.Cents(v*100 - 0.5)
	}
	return models.Cents(v*100 + 0.5)
}
