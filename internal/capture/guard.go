package capture

import (
	"errors"
	"sync"
)

// Guard releases a set of hardware handles exactly once, whichever exit path
// gets there first.
type Guard struct {
	mu       sync.Mutex
	releases []func() error
	once     sync.Once
	released bool
	err      error
}

func NewGuard(releases ...func() error) *Guard {
	return &Guard{releases: releases}
}

// Add registers another release func. Adding to a released guard runs fn
// immediately.
func (g *Guard) Add(fn func() error) error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return fn()
	}
	g.releases = append(g.releases, fn)
	g.mu.Unlock()
	return nil
}

// Release runs the registered funcs in reverse order. Later calls return the
// first call's result.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.mu.Lock()
		fns := g.releases
		g.releases = nil
		g.released = true
		g.mu.Unlock()

		var errs []error
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				errs = append(errs, err)
			}
		}
		g.err = errors.Join(errs...)
	})
	return g.err
}

func (g *Guard) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}
