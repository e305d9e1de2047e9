package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/stock-engine/signals"
	"go.uber.org/zap"
)

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (i *Instance) subscribe(ctx context.Context) error {
	var unsub []func()
	if i.deps.Ledger != nil {
		unsub = append(unsub, i.deps.Ledger.Subscribe(nil, i.onLedgerBatch))
	}
	if i.deps.Items != nil {
		unsub = append(unsub, i.deps.Items.Subscribe(nil, i.onCatalogBatch))
	}
	release := func() {
		for _, fn := range unsub {
			fn()
		}
	}
	if i.deps.Remote != nil {
		stop, err := i.deps.Remote.Observe(ctx, i.onLedgerBatch)
		if err != nil {
			release()
			return fmt.Errorf("observe remote ledger: %w", err)
		}
		unsub = append(unsub, stop)
	}
	if i.deps.Signals != nil {
		stop, err := i.deps.Signals.Observe(ctx, i.onSignal)
		if err != nil {
			release()
			return fmt.Errorf("observe signals: %w", err)
		}
		unsub = append(unsub, stop)
	}

	i.mu.Lock()
	i.unsubscribe = append(i.unsubscribe, unsub...)
	i.mu.Unlock()
	return nil
}

func (i *Instance) catchUp(ctx context.Context) {
	if i.deps.Signals == nil {
		return
	}
	applied, err := i.deps.Signals.CatchUp(ctx, i.cfg.CatchUpWindow, func(s signals.Signal) {
		if err := i.ApplyCatalogSignal(ctx, s); err != nil {
			i.logger.Warn("applying missed signal failed", zap.String("item_code", s.ItemCode), zap.Error(err))
		}
	})
	if err != nil {
		i.logger.Warn("reading last signal failed", zap.Error(err))
		return
	}
	if applied {
		i.logger.Debug("missed signal applied")
	}
}

// =============================================================================
// ACTIVITY & IDLE SUSPENSION
// =============================================================================

// Touch records user activity. A suspended instance resubscribes, catches
// up and invalidates.
func (i *Instance) Touch(ctx context.Context) error {
	i.mu.Lock()
	i.lastActivity = i.deps.Now()
	suspended := i.suspended && !i.closed
	i.mu.Unlock()

	if !suspended {
		return nil
	}
	return i.Resume(ctx)
}

// Resume resubscribes after a suspension. Events during the gap are lost,
// so the cache is invalidated.
func (i *Instance) Resume(ctx context.Context) error {
	i.mu.Lock()
	if !i.suspended || i.closed {
		i.mu.Unlock()
		return nil
	}
	i.suspended = false
	i.mu.Unlock()

	if err := i.subscribe(ctx); err != nil {
		i.mu.Lock()
		i.suspended = true
		i.mu.Unlock()
		return err
	}
	i.logger.Info("cache instance resumed")
	i.Invalidate("reactivated after idle")
	i.catchUp(ctx)
	return nil
}

// Suspended reports whether idle suspension tore down the subscriptions.
func (i *Instance) Suspended() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.suspended
}

// ConnectivityRestored invalidates: the feeds may have dropped events
// while offline.
func (i *Instance) ConnectivityRestored() {
	i.Invalidate("connectivity restored")
}

// VisibilityRestored invalidates after the instance was hidden.
func (i *Instance) VisibilityRestored() {
	i.Invalidate("visibility restored")
}

func (i *Instance) suspend() {
	i.mu.Lock()
	if i.suspended || i.closed {
		i.mu.Unlock()
		return
	}
	i.suspended = true
	unsub := i.unsubscribe
	i.unsubscribe = nil
	idle := i.deps.Now().Sub(i.lastActivity)
	i.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	i.repaint.Flush()
	i.logger.Info("cache instance suspended", zap.Duration("idle", idle))
}

// CheckIdle suspends the instance when it has been idle longer than
// IdleTimeout. The idle watcher calls it on every tick.
func (i *Instance) CheckIdle() bool {
	if i.cfg.IdleTimeout <= 0 {
		return false
	}
	i.mu.Lock()
	idle := i.deps.Now().Sub(i.lastActivity)
	skip := i.suspended || i.closed || !i.started
	i.mu.Unlock()

	if skip || idle < i.cfg.IdleTimeout {
		return false
	}
	i.suspend()
	return true
}

func (i *Instance) startIdleWatcher() {
	if i.cfg.IdleTimeout <= 0 {
		return
	}
	i.stopIdle = make(chan struct{})
	ticker := time.NewTicker(i.cfg.IdleCheck)
	i.wg.Add(1)

	go func() {
		defer i.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				i.CheckIdle()
			case <-i.stopIdle:
				return
			}
		}
	}()
}

func (i *Instance) stopIdleWatcher() {
	if i.stopIdle == nil {
		return
	}
	close(i.stopIdle)
	i.wg.Wait()
	i.stopIdle = nil
}
