package worker

import (
	"context"
	"sync"
)

// Group tracks worker goroutines and provides a safe shutdown boundary so
// we never call WaitGroup.Add concurrently with Wait.
type Group struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

// Go starts a goroutine if the group is not stopping.
func (g *Group) Go(fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// StopAndWait prevents new goroutines from starting and waits for all
// current ones to exit, bounded by ctx.
func (g *Group) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
