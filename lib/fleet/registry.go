// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/store"
)

// DefaultRecentWindow is how long after its last heartbeat a worker
// still counts as recent.
const DefaultRecentWindow = 30 * time.Second

// WorkerStore is the subset of the record store the registry uses.
type WorkerStore interface {
	UpsertWorker(ctx context.Context, worker schema.Worker) (schema.Worker, error)
	FindWorker(ctx context.Context, guid string) (schema.Worker, error)
	FindWorkers(ctx context.Context, filter store.WorkerFilter) ([]schema.Worker, error)
	DeleteWorkers(ctx context.Context, filter store.WorkerFilter) (int, error)
	DeleteWorker(ctx context.Context, guid string) (schema.Worker, error)
}

// Config holds the parameters for a Registry.
type Config struct {
	Store WorkerStore
	Clock clock.Clock

	// RecentWindow defaults to DefaultRecentWindow.
	RecentWindow time.Duration

	// AfterSweep, if set, is called by RunSweep after each successful
	// DeleteDeadWorkers with the number deleted.
	AfterSweep func(ctx context.Context, deleted int)

	Logger *slog.Logger
}

// Registry answers liveness queries over the worker records.
type Registry struct {
	store      WorkerStore
	clock      clock.Clock
	window     time.Duration
	afterSweep func(ctx context.Context, deleted int)
	logger     *slog.Logger
}

// New returns a Registry. Store and Clock are required.
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("fleet: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("fleet: Clock is required")
	}
	window := cfg.RecentWindow
	if window <= 0 {
		window = DefaultRecentWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		store:      cfg.Store,
		clock:      cfg.Clock,
		window:     window,
		afterSweep: cfg.AfterSweep,
		logger:     logger,
	}, nil
}

// RecentWindow returns the configured window.
func (r *Registry) RecentWindow() time.Duration {
	return r.window
}

// cutoff is the oldest LastSeen that still counts as recent.
func (r *Registry) cutoff() time.Time {
	return r.clock.Now().Add(-r.window)
}

// IsRecent reports whether worker's last heartbeat is within the
// window.
func (r *Registry) IsRecent(worker schema.Worker) bool {
	return !worker.LastSeen.Before(r.cutoff())
}

// RecentWorkers returns the workers in workgroup whose last heartbeat
// is within the window.
func (r *Registry) RecentWorkers(ctx context.Context, workgroup string) ([]schema.Worker, error) {
	return r.store.FindWorkers(ctx, store.WorkerFilter{
		Workgroup: workgroup,
		SeenSince: r.cutoff(),
	})
}

// AvailableWorkers returns the recent workers in workgroup that are
// not bound to a session.
func (r *Registry) AvailableWorkers(ctx context.Context, workgroup string) ([]schema.Worker, error) {
	return r.store.FindWorkers(ctx, store.WorkerFilter{
		Workgroup: workgroup,
		SeenSince: r.cutoff(),
		Unbound:   true,
	})
}

// DeleteDeadWorkers deletes every worker, in any workgroup, whose last
// heartbeat is older than the window. It returns the number deleted.
func (r *Registry) DeleteDeadWorkers(ctx context.Context) (int, error) {
	cutoff := r.cutoff()
	deleted, err := r.store.DeleteWorkers(ctx, store.WorkerFilter{SeenBefore: cutoff})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.Info("dead workers deleted",
			"count", deleted,
			"cutoff", cutoff,
		)
	}
	return deleted, nil
}

// UpsertWorker records a heartbeat. A zero LastSeen is stamped with
// the current time and a zero FirstSeen with LastSeen. On update the
// stored FirstSeen is kept.
func (r *Registry) UpsertWorker(ctx context.Context, worker schema.Worker) (schema.Worker, error) {
	if worker.LastSeen.IsZero() {
		worker.LastSeen = r.clock.Now()
	}
	if worker.FirstSeen.IsZero() {
		worker.FirstSeen = worker.LastSeen
	}
	stored, err := r.store.UpsertWorker(ctx, worker)
	if err != nil {
		return schema.Worker{}, err
	}
	r.logger.Debug("worker heartbeat",
		"worker", stored.GUID,
		"workgroup", stored.Workgroup,
		"endpoint", stored.Endpoint(),
		"session", stored.SessionGUID,
	)
	return stored, nil
}

// FindWorker returns the worker with the given GUID regardless of
// liveness.
func (r *Registry) FindWorker(ctx context.Context, guid string) (schema.Worker, error) {
	return r.store.FindWorker(ctx, guid)
}

// DeleteWorker removes one worker and returns the deleted record.
func (r *Registry) DeleteWorker(ctx context.Context, guid string) (schema.Worker, error) {
	deleted, err := r.store.DeleteWorker(ctx, guid)
	if err != nil {
		return schema.Worker{}, err
	}
	r.logger.Info("worker deleted", "worker", guid, "workgroup", deleted.Workgroup)
	return deleted, nil
}

// RunSweep calls DeleteDeadWorkers, then the AfterSweep hook, every
// interval until ctx is done. Sweep failures are logged and the loop
// continues.
func (r *Registry) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := r.DeleteDeadWorkers(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("dead worker sweep failed", "error", err)
				}
				continue
			}
			if r.afterSweep != nil {
				r.afterSweep(ctx, deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
