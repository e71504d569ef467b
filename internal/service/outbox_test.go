package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/models"
)

type memoryDebits struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*models.Debit
	createErr error
}

func newMemoryDebits() *memoryDebits {
	return &memoryDebits{rows: map[int64]*models.Debit{}}
}

func (m *memoryDebits) Create(_ context.Context, d *models.Debit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	d.ID = m.nextID
	d.Status = models.DebitPending
	cp := *d
	m.rows[d.ID] = &cp
	return nil
}

func (m *memoryDebits) ListPending(_ context.Context, limit int) ([]models.Debit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Debit
	for id := int64(1); id <= m.nextID; id++ {
		if d, ok := m.rows[id]; ok && d.Status == models.DebitPending {
			out = append(out, *d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempts < out[j].Attempts })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryDebits) MarkDelivered(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = models.DebitDelivered
	m.rows[id].Attempts++
	return nil
}

func (m *memoryDebits) MarkFailed(_ context.Context, id int64, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Attempts++
	m.rows[id].LastError = cause
	return nil
}

func (m *memoryDebits) MarkDead(_ context.Context, id int64, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = models.DebitFailed
	m.rows[id].Attempts++
	m.rows[id].LastError = cause
	return nil
}

func (m *memoryDebits) get(id int64) models.Debit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

type fakeLedgerWriter struct {
	mu    sync.Mutex
	err   error
	spent []models.Debit
	// rejectUser fails every debit of one user.
	rejectUser int64
}

func (f *fakeLedgerWriter) Spend(_ context.Context, d models.Debit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.rejectUser != 0 && d.UserID == f.rejectUser {
		return errors.New("insufficient balance")
	}
	f.spent = append(f.spent, d)
	return nil
}

func (f *fakeLedgerWriter) Spent() []models.Debit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Debit(nil), f.spent...)
}

func TestOutboxFlushDeliversPending(t *testing.T) {
	store := newMemoryDebits()
	writer := &fakeLedgerWriter{}
	ob := NewOutbox(store, writer, nil, discardLogger(), time.Hour, 10, 5)

	ob.Dispatch(context.Background(), models.Debit{UserID: 1, Amount: 5, Reason: ReasonImprovePrompt})
	ob.Dispatch(context.Background(), models.Debit{UserID: 1, Amount: 10, Reason: ReasonGenerateImage})

	n, err := ob.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, writer.Spent(), 2)
	require.Equal(t, models.DebitDelivered, store.get(1).Status)

	n, err = ob.Flush(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOutboxKeepsFailedDebitsPending(t *testing.T) {
	store := newMemoryDebits()
	writer := &fakeLedgerWriter{err: errors.New("rpc down")}
	ob := NewOutbox(store, writer, nil, discardLogger(), time.Hour, 10, 5)

	ob.Dispatch(context.Background(), models.Debit{UserID: 1, Amount: 5, Reason: ReasonCTA})
	n, err := ob.Flush(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	d := store.get(1)
	require.Equal(t, models.DebitPending, d.Status)
	require.Equal(t, 1, d.Attempts)
	require.Equal(t, "rpc down", d.LastError)
}

func TestOutboxDispatchSurvivesCancelledRequest(t *testing.T) {
	store := newMemoryDebits()
	ob := NewOutbox(store, &fakeLedgerWriter{}, nil, discardLogger(), time.Hour, 10, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ob.Dispatch(ctx, models.Debit{UserID: 1, Amount: 5, Reason: ReasonCTA})

	pending, err := store.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestOutboxFallsBackToDirectSpend(t *testing.T) {
	store := newMemoryDebits()
	store.createErr = errors.New("disk full")
	writer := &fakeLedgerWriter{}
	ob := NewOutbox(store, writer, nil, discardLogger(), time.Hour, 10, 5)

	ob.Dispatch(context.Background(), models.Debit{UserID: 3, Amount: 2, Reason: ReasonPrepareImage})
	require.Eventually(t, func() bool { return len(writer.Spent()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestOutboxRunFlushesOnDispatch(t *testing.T) {
	store := newMemoryDebits()
	writer := &fakeLedgerWriter{}
	ob := NewOutbox(store, writer, nil, discardLogger(), time.Hour, 10, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ob.Run(ctx)
		close(done)
	}()

	ob.Dispatch(context.Background(), models.Debit{UserID: 1, Amount: 1, Reason: ReasonCTA})
	require.Eventually(t, func() bool { return len(writer.Spent()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestOutboxRejectedDebitsDoNotStarveOthers(t *testing.T) {
	store := newMemoryDebits()
	writer := &fakeLedgerWriter{rejectUser: 1}
	ob := NewOutbox(store, writer, nil, discardLogger(), time.Hour, 2, 100)

	ctx := context.Background()
	ob.Dispatch(ctx, models.Debit{UserID: 1, Amount: 10, Reason: ReasonGenerateImage})
	ob.Dispatch(ctx, models.Debit{UserID: 1, Amount: 10, Reason: ReasonGenerateImage})
	ob.Dispatch(ctx, models.Debit{UserID: 2, Amount: 5, Reason: ReasonImprovePrompt})

	for i := 0; i < 3; i++ {
		_, err := ob.Flush(ctx)
		require.NoError(t, err)
	}

	spent := writer.Spent()
	require.Len(t, spent, 1)
	require.Equal(t, int64(2), spent[0].UserID)
	require.Equal(t, models.DebitDelivered, store.get(3).Status)
}

func TestOutboxDeadLettersAfterMaxAttempts(t *testing.T) {
	store := newMemoryDebits()
	writer := &fakeLedgerWriter{rejectUser: 1}
	ob := NewOutbox(store, writer, nil, discardLogger(), time.Hour, 10, 3)

	ctx := context.Background()
	ob.Dispatch(ctx, models.Debit{UserID: 1, Amount: 10, Reason: ReasonGenerateImage})

	for i := 0; i < 2; i++ {
		_, err := ob.Flush(ctx)
		require.NoError(t, err)
		require.Equal(t, models.DebitPending, store.get(1).Status)
	}
	_, err := ob.Flush(ctx)
	require.NoError(t, err)

	d := store.get(1)
	require.Equal(t, models.DebitFailed, d.Status)
	require.Equal(t, 3, d.Attempts)
	require.Equal(t, "insufficient balance", d.LastError)

	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	ob.Dispatch(ctx, models.Debit{UserID: 2, Amount: 5, Reason: ReasonCTA})
	n, err := ob.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
