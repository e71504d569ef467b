package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/PostMiniApp/internal/kie"
	"github.com/digkill/PostMiniApp/internal/llm"
	"github.com/digkill/PostMiniApp/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

type fakeBalances struct {
	mu      sync.Mutex
	balance models.Cents
	err     error
	reads   int
}

func (f *fakeBalances) Balance(context.Context, int64) (models.Cents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.balance, f.err
}

func (f *fakeBalances) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// fakeDispatcher applies debits to the balances so consecutive charges see
// the reduced balance.
type fakeDispatcher struct {
	mu       sync.Mutex
	balances *fakeBalances
	debits   []models.Debit
}

func (f *fakeDispatcher) Dispatch(_ context.Context, d models.Debit) {
	f.mu.Lock()
	f.debits = append(f.debits, d)
	f.mu.Unlock()
	if f.balances != nil {
		f.balances.mu.Lock()
		f.balances.balance -= d.Amount
		f.balances.mu.Unlock()
	}
}

func (f *fakeDispatcher) Debits() []models.Debit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Debit(nil), f.debits...)
}

func newTestLedger(balance models.Cents) (*LedgerService, *fakeBalances, *fakeDispatcher) {
	b := &fakeBalances{balance: balance}
	d := &fakeDispatcher{balances: b}
	return NewLedgerService(b, d, nil, discardLogger()), b, d
}

type fakeText struct {
	mu         sync.Mutex
	calls      map[string]int
	improved   string
	cta        string
	plan       llm.ImagePlan
	text       string
	err        error
	lastPrompt string
	lastLocale models.Locale
}

func (f *fakeText) record(name, prompt string, locale models.Locale) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	f.lastPrompt = prompt
	f.lastLocale = locale
}

func (f *fakeText) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeText) ImprovePrompt(_ context.Context, prompt string, locale models.Locale) (string, error) {
	f.record("improve", prompt, locale)
	return f.improved, f.err
}

func (f *fakeText) CTASuggestions(_ context.Context, prompt string, locale models.Locale) (string, error) {
	f.record("cta", prompt, locale)
	return f.cta, f.err
}

func (f *fakeText) PrepareImage(_ context.Context, prompt, _ string, locale models.Locale) (llm.ImagePlan, error) {
	f.record("prepare", prompt, locale)
	return f.plan, f.err
}

func (f *fakeText) GenerateText(_ context.Context, prompt string) (string, error) {
	f.record("text", prompt, "")
	return f.text, f.err
}

type fakeImages struct {
	mu       sync.Mutex
	failures int
	err      error
	url      string
	requests []kie.ImageRequest
	// hang blocks every call until ctx is done.
	hang bool
}

func (f *fakeImages) GenerateImage(ctx context.Context, req kie.ImageRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.hang {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.requests) <= f.failures {
		return "", errors.New("provider unavailable")
	}
	return f.url, nil
}

func (f *fakeImages) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeMedia struct {
	mu      sync.Mutex
	uploads int
	copied  []string
	err     error
}

func (f *fakeMedia) Upload(_ context.Context, folder string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/" + folder + "/file", nil
}

func (f *fakeMedia) UploadFromURL(_ context.Context, folder, src string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied = append(f.copied, src)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/" + folder + "/copy.png", nil
}
