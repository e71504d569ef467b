package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/PostMiniApp/internal/models"
)

// Registry keeps one orchestrator per launch, keyed by a random launch id.
type Registry struct {
	deps    Deps
	idleTTL time.Duration
	log     *slog.Logger

	mu       sync.RWMutex
	launches map[string]*Orchestrator
}

func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	return &Registry{
		deps:     deps,
		idleTTL:  idleTTL,
		log:      deps.Logger.With("component", "registry"),
		launches: make(map[string]*Orchestrator),
	}
}

// Launch creates an orchestrator for user and tries to create its session.
// The launch is usable even when session creation failed.
func (r *Registry) Launch(ctx context.Context, user models.User) (string, *Orchestrator) {
	id := uuid.NewString()
	o := New(user, r.deps)
	if err := o.Start(ctx); err != nil {
		r.log.Warn("launch without session", "launch_id", id, "user_id", user.ID, "error", err)
	}

	r.mu.Lock()
	r.launches[id] = o
	r.mu.Unlock()
	r.log.Info("launch started", "launch_id", id, "user_id", user.ID)
	return id, o
}

func (r *Registry) Get(id string) (*Orchestrator, bool) {
	r.mu.RLock()
	o, ok := r.launches[id]
	r.mu.RUnlock()
	return o, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	o, ok := r.launches[id]
	delete(r.launches, id)
	r.mu.Unlock()
	if ok {
		_ = o.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.launches)
}

// Evict drops launches idle since before now minus the TTL.
func (r *Registry) Evict(now time.Time) int {
	var stale []*Orchestrator
	r.mu.Lock()
	for id, o := range r.launches {
		if now.Sub(o.idleSince()) > r.idleTTL {
			stale = append(stale, o)
			delete(r.launches, id)
		}
	}
	r.mu.Unlock()

	for _, o := range stale {
		_ = o.Close()
	}
	if len(stale) > 0 {
		r.log.Info("evicted idle launches", "count", len(stale))
	}
	return len(stale)
}

// Run evicts idle launches until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Evict(now)
		}
	}
}
