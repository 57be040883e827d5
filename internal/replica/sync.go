package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/wardsync/internal/conflict"
	"github.com/roach88/wardsync/internal/engine"
	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/wal"
)

// Drain runs one sync cycle now, regardless of connectivity.
func (r *Replica) Drain(ctx context.Context) (engine.DrainResult, error) {
	if err := r.checkOpen(); err != nil {
		return engine.DrainResult{}, err
	}
	if r.engine == nil {
		return engine.DrainResult{}, ErrNoRemote
	}
	return r.engine.Drain(ctx)
}

// Resync returns a failed entry, terminal or not, to the outbox with a
// fresh retry budget.
func (r *Replica) Resync(ctx context.Context, id string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.log.Retry(ctx, id); err != nil {
		return err
	}
	r.triggerSync("resync")
	return nil
}

// ResyncAll resyncs every failed entry and returns how many were requeued.
// Entries superseded by a newer synced change of the same entity stay failed.
func (r *Replica) ResyncAll(ctx context.Context) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	failed, err := r.log.Failed(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range failed {
		err := r.log.Retry(ctx, e.ID)
		if errors.Is(err, wal.ErrSuperseded) {
			slog.Info("superseded mutation left failed", "event", "replica_resync_superseded", "id", e.ID, "entity", e.EntityKey())
			continue
		}
		if errors.Is(err, wal.ErrInvalidTransition) || errors.Is(err, wal.ErrNotFound) {
			// Changed state since it was listed.
			continue
		}
		if err != nil {
			return n, fmt.Errorf("resync all: %w", err)
		}
		n++
	}
	if n > 0 {
		slog.Info("failed mutations requeued", "event", "replica_resync_all", "count", n)
		r.triggerSync("resync")
	}
	return n, nil
}

// Pending returns the outbox in delivery order.
func (r *Replica) Pending(ctx context.Context) ([]ir.MutationEntry, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.log.GetPending(ctx)
}

// Failed returns every failed entry, retryable and terminal.
func (r *Replica) Failed(ctx context.Context) ([]ir.MutationEntry, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.log.Failed(ctx)
}

// Stats returns WAL entry counts.
func (r *Replica) Stats(ctx context.Context) (wal.Stats, error) {
	if err := r.checkOpen(); err != nil {
		return wal.Stats{}, err
	}
	return r.log.Stats(ctx)
}

// Cleanup applies the retention policy.
func (r *Replica) Cleanup(ctx context.Context) (wal.CleanupResult, error) {
	if err := r.checkOpen(); err != nil {
		return wal.CleanupResult{}, err
	}
	return r.log.AutoCleanup(ctx)
}

// Subscribe starts realtime updates for q under a logical key, replacing
// any subscription already under key.
func (r *Replica) Subscribe(ctx context.Context, key string, q remote.Query) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if r.listeners == nil {
		return ErrNoRemote
	}
	return r.listeners.Subscribe(ctx, key, q)
}

// Unsubscribe stops the subscription under key.
func (r *Replica) Unsubscribe(key string) {
	if r.listeners != nil {
		r.listeners.Unsubscribe(key)
	}
}

// Subscriptions returns the active subscription keys.
func (r *Replica) Subscriptions() []string {
	if r.listeners == nil {
		return nil
	}
	return r.listeners.Active()
}

// Connectivity returns the verified connectivity state. A local-only
// replica is always disconnected.
func (r *Replica) Connectivity() ir.ConnectivityState {
	if r.monitor == nil {
		return ir.Disconnected
	}
	return r.monitor.State()
}

// Hint passes a platform online/offline signal to the monitor, which
// verifies it with a probe.
func (r *Replica) Hint() {
	if r.monitor != nil {
		r.monitor.Hint()
	}
}

// Probe checks the remote now and updates the connectivity state.
func (r *Replica) Probe(ctx context.Context) error {
	if r.monitor == nil {
		return ErrNoRemote
	}
	return r.monitor.ProbeNow(ctx)
}

// ApplyRemote resolves one remote change event against local state exactly
// as a subscription would. It serves changes that arrive outside a
// subscription, such as a platform push.
func (r *Replica) ApplyRemote(ctx context.Context, ev ir.RemoteChangeEvent) (conflict.Decision, error) {
	if err := r.checkOpen(); err != nil {
		return "", err
	}
	if r.resolver == nil {
		return "", ErrNoRemote
	}
	return r.resolver.Apply(ctx, ev)
}
