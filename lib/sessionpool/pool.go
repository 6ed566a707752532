// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/sessionevent"
)

// Factory creates the resource for a session.
type Factory[T io.Closer] func(ctx context.Context, session schema.Session) (T, error)

// Config holds the parameters for a Pool.
type Config[T io.Closer] struct {
	// Factory is required.
	Factory Factory[T]

	// Bus, if set, is subscribed at construction; every termination
	// event evicts that session's entry. Close unsubscribes.
	Bus *sessionevent.Bus

	Logger *slog.Logger
}

// Pool maps session GUIDs to resources.
type Pool[T io.Closer] struct {
	factory     Factory[T]
	logger      *slog.Logger
	unsubscribe func()

	// base parents every creation; Close cancels it.
	base       context.Context
	cancelBase context.CancelFunc
	creating   sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry[T]
	order   []string
	closed  bool
}

// entry is a created or in-flight resource. Fields other than ready
// are guarded by the pool mutex.
type entry[T io.Closer] struct {
	ready    chan struct{}
	done     bool
	resource T
	err      error
	evicted  bool
}

// livenessReporter is implemented by resources that can fail on their
// own, such as a command channel whose connection dropped.
type livenessReporter interface {
	Done() <-chan struct{}
}

// New returns an empty pool.
func New[T io.Closer](cfg Config[T]) (*Pool[T], error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("sessionpool: Factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base, cancel := context.WithCancel(context.Background())
	pool := &Pool[T]{
		factory:    cfg.Factory,
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		entries:    make(map[string]*entry[T]),
	}
	if cfg.Bus != nil {
		pool.unsubscribe = cfg.Bus.Subscribe("sessionpool", pool.handleSessionEvent)
	}
	return pool, nil
}

func (p *Pool[T]) handleSessionEvent(event sessionevent.Event) {
	if err := p.Evict(event.SessionGUID); err != nil {
		p.logger.Warn("releasing session resource failed",
			"session", event.SessionGUID,
			"kind", string(event.Kind),
			"error", err,
		)
	}
}

// Get returns the session's resource, creating it if there is none.
// The factory runs once per session on its own goroutine, detached from
// the cancellation of whichever caller started it; ctx bounds only this
// caller's wait. Pool.Close cancels creations still in flight.
func (p *Pool[T]) Get(ctx context.Context, session schema.Session) (T, error) {
	var zero T
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, fault.New(fault.Conflict, "session pool get", "pool is closed")
		}
		existing, found := p.entries[session.GUID]
		if !found {
			existing = &entry[T]{ready: make(chan struct{})}
			p.entries[session.GUID] = existing
			p.order = append(p.order, session.GUID)
			p.creating.Add(1)
			creationCtx, release := p.creationContext(ctx)
			go func() {
				defer p.creating.Done()
				defer release()
				p.create(creationCtx, session, existing)
			}()
		}
		p.mu.Unlock()

		select {
		case <-existing.ready:
		case <-ctx.Done():
			return zero, waitError(ctx, session.GUID)
		}

		p.mu.Lock()
		resource, err := existing.resource, existing.err
		p.mu.Unlock()
		if err != nil {
			return zero, err
		}
		if !alive(resource) {
			p.logger.Info("session resource dead, recreating", "session", session.GUID)
			p.discard(session.GUID, existing)
			continue
		}
		return resource, nil
	}
}

// creationContext keeps the values of the caller's ctx but takes its
// cancellation from the pool.
func (p *Pool[T]) creationContext(ctx context.Context) (context.Context, func()) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(p.base, cancel)
	return detached, func() {
		stop()
		cancel()
	}
}

func (p *Pool[T]) create(ctx context.Context, session schema.Session, created *entry[T]) {
	resource, err := p.factory(ctx, session)

	p.mu.Lock()
	if err != nil {
		created.err = err
		p.removeLocked(session.GUID, created)
	} else if created.evicted || p.closed {
		created.err = fault.New(fault.Conflict, "session pool get",
			"session %s was released while its resource was being created", session.GUID)
	} else {
		created.resource = resource
	}
	created.done = true
	orphaned := err == nil && created.err != nil
	close(created.ready)
	p.mu.Unlock()

	switch {
	case err != nil:
		p.logger.Warn("session resource creation failed", "session", session.GUID, "error", err)
	case orphaned:
		if closeErr := resource.Close(); closeErr != nil {
			p.logger.Warn("closing orphaned session resource failed",
				"session", session.GUID, "error", closeErr)
		}
	default:
		p.logger.Info("session resource created", "session", session.GUID, "worker", session.WorkerGUID)
	}
}

// discard removes entry if it is still the current one for guid and
// closes its resource.
func (p *Pool[T]) discard(guid string, stale *entry[T]) {
	p.mu.Lock()
	current, found := p.entries[guid]
	removed := found && current == stale
	if removed {
		p.removeLocked(guid, stale)
	}
	p.mu.Unlock()
	if removed {
		_ = stale.resource.Close()
	}
}

// FindOne returns the first live resource, in session insertion order,
// for which match returns true. Entries still being created are
// skipped.
func (p *Pool[T]) FindOne(match func(T) bool) (T, bool) {
	p.mu.Lock()
	candidates := make([]T, 0, len(p.order))
	for _, guid := range p.order {
		current := p.entries[guid]
		if current.done && current.err == nil {
			candidates = append(candidates, current.resource)
		}
	}
	p.mu.Unlock()

	for _, candidate := range candidates {
		if match(candidate) {
			return candidate, true
		}
	}
	var zero T
	return zero, false
}

// Evict removes the session's entry and closes its resource. Evicting
// a session with no entry is a no-op. If the resource is still being
// created, it is closed by its creation goroutine once the factory
// returns.
func (p *Pool[T]) Evict(sessionGUID string) error {
	p.mu.Lock()
	current, found := p.entries[sessionGUID]
	if !found {
		p.mu.Unlock()
		return nil
	}
	p.removeLocked(sessionGUID, current)
	current.evicted = true
	release := current.done && current.err == nil
	p.mu.Unlock()

	if !release {
		p.logger.Info("session resource evicted during creation", "session", sessionGUID)
		return nil
	}
	p.logger.Info("session resource evicted", "session", sessionGUID)
	if err := current.resource.Close(); err != nil {
		return fmt.Errorf("sessionpool: closing resource for session %s: %w", sessionGUID, err)
	}
	return nil
}

// Len returns the number of entries, including in-flight creations.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close unsubscribes from session events and closes every resource.
// Creations in flight are canceled, and Close waits for them to
// return; a resource they still produce is closed. Get fails after
// Close.
func (p *Pool[T]) Close() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var release []T
	for _, guid := range p.order {
		current := p.entries[guid]
		current.evicted = true
		if current.done && current.err == nil {
			release = append(release, current.resource)
		}
	}
	p.entries = make(map[string]*entry[T])
	p.order = nil
	p.mu.Unlock()

	p.cancelBase()
	p.creating.Wait()

	var errs []error
	for _, resource := range release {
		if err := resource.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// removeLocked deletes guid's entry if it is target. Caller holds p.mu.
func (p *Pool[T]) removeLocked(guid string, target *entry[T]) {
	if p.entries[guid] != target {
		return
	}
	delete(p.entries, guid)
	if index := slices.Index(p.order, guid); index >= 0 {
		p.order = slices.Delete(p.order, index, index+1)
	}
}

func alive[T io.Closer](resource T) bool {
	reporter, ok := any(resource).(livenessReporter)
	if !ok {
		return true
	}
	select {
	case <-reporter.Done():
		return false
	default:
		return true
	}
}

func waitError(ctx context.Context, sessionGUID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, "waiting for session "+sessionGUID+" resource", ctx.Err())
	}
	return fmt.Errorf("waiting for session %s resource: %w", sessionGUID, ctx.Err())
}
