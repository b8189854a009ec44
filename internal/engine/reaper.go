package engine

import (
	"context"
	"time"
)

// ReapIdle retires every active instance whose last update is older
// than idle, releasing its processor associations. It returns the
// number of instances reaped.
func (e *Engine) ReapIdle(ctx context.Context, idle time.Duration) (int, error) {
	if idle <= 0 {
		return 0, nil
	}
	ids, err := e.store.Active.Keys(ctx)
	if err != nil {
		return 0, err
	}
	now := e.now()
	reaped := 0
	for _, id := range ids {
		l := e.lockFor(id)
		l.Lock()
		t, ok, err := e.store.Active.Get(ctx, id)
		if err != nil {
			l.Unlock()
			return reaped, err
		}
		if !ok || t.Meta == nil || t.Meta.UpdatedAt == nil || now.Sub(*t.Meta.UpdatedAt) <= idle {
			l.Unlock()
			continue
		}
		if err := e.store.Active.Delete(ctx, id); err != nil {
			l.Unlock()
			return reaped, err
		}
		if err := e.alloc.Release(ctx, id); err != nil {
			l.Unlock()
			return reaped, err
		}
		l.Unlock()
		reaped++
		e.logger.WithTask(t.ID, id).Info("idle instance reaped")
	}
	return reaped, nil
}

// RunReaper sweeps idle instances every interval until ctx ends.
func (e *Engine) RunReaper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ReapIdle(ctx, idle); err != nil {
				e.logger.WithError(err).Warn("reap sweep failed")
			}
		}
	}
}
