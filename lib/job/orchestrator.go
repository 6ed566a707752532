// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/maxscript"
	"github.com/bureau-foundation/renderfarm/lib/renderpreset"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/sessionevent"
	"github.com/bureau-foundation/renderfarm/lib/store"
)

// Renderer renders one camera view on a worker host.
type Renderer interface {
	RenderScene(ctx context.Context, request maxscript.RenderRequest) error
}

// RendererSource returns the renderer bound to a session.
type RendererSource interface {
	Renderer(ctx context.Context, session schema.Session) (Renderer, error)
}

// PoolSource adapts a session pool's Get method to a RendererSource:
//
//	job.PoolSource[*maxscript.Client](pool.Get)
type PoolSource[T Renderer] func(ctx context.Context, session schema.Session) (T, error)

// Renderer calls the pool.
func (get PoolSource[T]) Renderer(ctx context.Context, session schema.Session) (Renderer, error) {
	renderer, err := get(ctx, session)
	if err != nil {
		return nil, err
	}
	return renderer, nil
}

// JobStore is the subset of the record store the orchestrator uses.
type JobStore interface {
	InsertJob(ctx context.Context, job schema.Job) error
	UpdateJob(ctx context.Context, guid string, patch store.JobPatch) (schema.Job, error)
}

// Config holds the parameters for an Orchestrator.
type Config struct {
	Store     JobStore
	Renderers RendererSource
	Clock     clock.Clock

	// Presets resolves RenderPreset names. Nil uses the built-in
	// presets.
	Presets *renderpreset.Set

	// DefaultPreset is applied to submitted jobs that name none.
	DefaultPreset string

	Artifacts Artifacts

	// Bus, if set, is subscribed at construction: a session ending
	// cancels that session's active jobs. Close unsubscribes.
	Bus *sessionevent.Bus

	Logger *slog.Logger
}

// Request describes a job to Submit.
type Request struct {
	CameraName     string
	RenderWidth    int
	RenderHeight   int
	RenderPreset   string
	RenderSettings map[string]any
}

// Orchestrator runs jobs.
type Orchestrator struct {
	store         JobStore
	renderers     RendererSource
	clock         clock.Clock
	presets       *renderpreset.Set
	defaultPreset string
	artifacts     Artifacts
	logger        *slog.Logger
	unsubscribe   func()

	// base parents every job context; Close cancels it.
	base       context.Context
	cancelBase context.CancelFunc
	running    sync.WaitGroup

	mu        sync.Mutex
	active    map[string]*activeJob
	listeners []listener
	nextID    uint64
	closed    bool
}

type activeJob struct {
	job    schema.Job
	cancel context.CancelFunc
}

// New returns an Orchestrator. Store, Renderers, and Clock are
// required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("job: Store is required")
	}
	if cfg.Renderers == nil {
		return nil, fmt.Errorf("job: Renderers is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("job: Clock is required")
	}
	presets := cfg.Presets
	if presets == nil {
		presets = renderpreset.Builtin()
	}
	if cfg.DefaultPreset != "" {
		if _, ok := presets.Get(cfg.DefaultPreset); !ok {
			return nil, fmt.Errorf("job: default preset %q is not defined", cfg.DefaultPreset)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base, cancel := context.WithCancel(context.Background())
	orchestrator := &Orchestrator{
		store:         cfg.Store,
		renderers:     cfg.Renderers,
		clock:         cfg.Clock,
		presets:       presets,
		defaultPreset: cfg.DefaultPreset,
		artifacts:     cfg.Artifacts,
		logger:        logger,
		base:          base,
		cancelBase:    cancel,
		active:        make(map[string]*activeJob),
	}
	if cfg.Bus != nil {
		orchestrator.unsubscribe = cfg.Bus.Subscribe("job", orchestrator.handleSessionEvent)
	}
	return orchestrator, nil
}

// Subscribe registers fn for every job event and returns a function
// that removes it. The returned function is idempotent.
func (o *Orchestrator) Subscribe(name string, fn Listener) (unsubscribe func()) {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.listeners = append(o.listeners, listener{id: id, name: name, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.listeners = slices.DeleteFunc(o.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

func (o *Orchestrator) emit(kind EventKind, job schema.Job) {
	o.mu.Lock()
	listeners := slices.Clone(o.listeners)
	o.mu.Unlock()

	o.logger.Info(string(kind),
		"job", job.GUID,
		"session", job.SessionGUID,
		"state", string(job.State),
	)
	event := Event{Kind: kind, Job: job}
	for _, l := range listeners {
		o.deliver(l, event)
	}
}

func (o *Orchestrator) deliver(l listener, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			o.logger.Error("job event listener panicked",
				"listener", l.name,
				"job", event.Job.GUID,
				"kind", string(event.Kind),
				"panic", recovered,
			)
		}
	}()
	l.fn(event)
}

// checkSession rejects a job that does not belong to session or whose
// session has ended.
func checkSession(session schema.Session, job schema.Job) error {
	op := "start job " + job.GUID
	if job.SessionGUID != session.GUID {
		return fault.New(fault.Conflict, op, "job belongs to session %s, not %s", job.SessionGUID, session.GUID)
	}
	if session.Terminal() {
		return fault.New(fault.Conflict, op, "session %s is %s", session.GUID, session.State())
	}
	return nil
}

// Submit creates a queued job for session from request, persists it,
// and starts it. The job's preset must exist.
func (o *Orchestrator) Submit(ctx context.Context, session schema.Session, request Request) (schema.Job, error) {
	now := o.clock.Now()
	job := schema.Job{
		GUID:           uuid.NewString(),
		SessionGUID:    session.GUID,
		WorkerGUID:     session.WorkerGUID,
		CameraName:     request.CameraName,
		RenderWidth:    request.RenderWidth,
		RenderHeight:   request.RenderHeight,
		RenderPreset:   request.RenderPreset,
		RenderSettings: request.RenderSettings,
		State:          schema.JobQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if job.RenderPreset == "" {
		job.RenderPreset = o.defaultPreset
	}
	if err := checkSession(session, job); err != nil {
		return schema.Job{}, err
	}
	if _, err := o.presets.Resolve(job.RenderPreset, job.RenderSettings); err != nil {
		return schema.Job{}, err
	}
	if err := o.admitting(ctx, job.GUID); err != nil {
		return schema.Job{}, err
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		return schema.Job{}, err
	}
	if err := o.Start(ctx, session, job); err != nil {
		o.abandon(ctx, job, err)
		return schema.Job{}, err
	}
	return job, nil
}

// admitting reports why a new job cannot be started right now.
func (o *Orchestrator) admitting(ctx context.Context, jobGUID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fault.New(fault.Conflict, "start job "+jobGUID, "orchestrator is closed")
	}
	return nil
}

// abandon records a job that was persisted but could not be started as
// failed, so no queued row is left without a goroutine to drive it.
func (o *Orchestrator) abandon(ctx context.Context, job schema.Job, cause error) {
	now := o.clock.Now()
	failed := schema.JobFailed
	reason := fmt.Sprintf("not started: %v", cause)
	_, err := o.store.UpdateJob(context.WithoutCancel(ctx), job.GUID, store.JobPatch{
		State:      &failed,
		FailReason: &reason,
		UpdatedAt:  now,
		ClosedAt:   &now,
	})
	if err != nil {
		o.logger.Error("recording unstarted job failed",
			"job", job.GUID,
			"session", job.SessionGUID,
			"error", err,
		)
	}
}

// Start adds a queued job to the active set and runs it in the
// background. Starting a job that is already active, that is not
// queued, or whose session does not match or has ended is a Conflict.
// ctx bounds only the admission checks; the job runs until it finishes,
// is canceled, or the orchestrator closes.
func (o *Orchestrator) Start(ctx context.Context, session schema.Session, job schema.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkSession(session, job); err != nil {
		return err
	}
	if job.State != schema.JobQueued {
		return fault.New(fault.Conflict, "start job "+job.GUID, "job is %s", job.State)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fault.New(fault.Conflict, "start job "+job.GUID, "orchestrator is closed")
	}
	if _, running := o.active[job.GUID]; running {
		o.mu.Unlock()
		return fault.New(fault.Conflict, "start job "+job.GUID, "job is already active")
	}
	jobCtx, cancel := context.WithCancel(o.base)
	entry := &activeJob{job: job, cancel: cancel}
	o.active[job.GUID] = entry
	o.running.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.running.Done()
		defer cancel()
		o.run(jobCtx, session, entry)
	}()
	return nil
}

func (o *Orchestrator) run(ctx context.Context, session schema.Session, entry *activeJob) {
	job := entry.job
	logger := o.logger.With("job", job.GUID, "session", session.GUID)

	renderer, err := o.renderers.Renderer(ctx, session)
	if err != nil {
		o.finish(ctx, entry, schema.JobFailed, fmt.Sprintf("connecting to worker: %v", err))
		return
	}
	o.emit(Added, job)

	settings, err := o.presets.Resolve(job.RenderPreset, job.RenderSettings)
	if err != nil {
		o.finish(ctx, entry, schema.JobFailed, err.Error())
		return
	}

	rendering := schema.JobRendering
	workerGUID := session.WorkerGUID
	updated, err := o.store.UpdateJob(context.WithoutCancel(ctx), job.GUID, store.JobPatch{
		State:      &rendering,
		WorkerGUID: &workerGUID,
		UpdatedAt:  o.clock.Now(),
	})
	if err != nil {
		if fault.Is(err, fault.Conflict) {
			// Canceled before the render began.
			logger.Debug("job no longer queued, not rendering", "error", err)
			o.release(entry)
			return
		}
		o.finish(ctx, entry, schema.JobFailed, fmt.Sprintf("recording render start: %v", err))
		return
	}
	o.emit(Updated, updated)

	started := o.clock.Now()
	err = renderer.RenderScene(ctx, maxscript.RenderRequest{
		Camera:     job.CameraName,
		Width:      job.RenderWidth,
		Height:     job.RenderHeight,
		OutputPath: o.artifacts.OutputPath(job.GUID),
		Settings:   settings,
		UploadURL:  o.artifacts.UploadURL(),
		CurlPath:   o.artifacts.CurlPath,
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.Canceled) && o.base.Err() != nil {
			reason = "controller shutting down"
		}
		o.finish(ctx, entry, schema.JobFailed, reason)
		return
	}
	logger.Info("render finished", "elapsed", o.clock.Now().Sub(started))
	o.finish(ctx, entry, schema.JobCompleted, "")
}

// finish persists a terminal state and emits its event. When the store
// reports a Conflict the job already ended another way (a cancel won
// the race) and nothing is emitted.
func (o *Orchestrator) finish(ctx context.Context, entry *activeJob, state schema.JobState, reason string) {
	o.release(entry)

	now := o.clock.Now()
	patch := store.JobPatch{State: &state, UpdatedAt: now, ClosedAt: &now}
	switch state {
	case schema.JobCompleted:
		patch.URLs = []string{o.artifacts.URL(entry.job.GUID)}
	case schema.JobFailed:
		patch.FailReason = &reason
	}

	updated, err := o.store.UpdateJob(context.WithoutCancel(ctx), entry.job.GUID, patch)
	if err != nil {
		if fault.Is(err, fault.Conflict) {
			o.logger.Debug("job already ended",
				"job", entry.job.GUID,
				"state", string(state),
				"error", err,
			)
			return
		}
		o.logger.Error("persisting job outcome failed",
			"job", entry.job.GUID,
			"state", string(state),
			"error", err,
		)
		updated = entry.job
		updated.State = state
		updated.UpdatedAt = now
		updated.ClosedAt = now
		updated.URLs = patch.URLs
		if state == schema.JobFailed {
			updated.FailReason = reason
		}
	}
	if state == schema.JobFailed {
		o.logger.Warn("job failed", "job", entry.job.GUID, "reason", reason)
	}
	o.emit(terminalEvent(state), updated)
}

// release removes entry from the active set if it is still there.
func (o *Orchestrator) release(entry *activeJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if current, ok := o.active[entry.job.GUID]; ok && current == entry {
		delete(o.active, entry.job.GUID)
	}
}

// Cancel marks a job canceled and removes it from the active set. The
// remote render, if one is running, is not interrupted. A job that
// already ended is a Conflict; an unknown job is NotFound.
func (o *Orchestrator) Cancel(ctx context.Context, jobGUID string) (schema.Job, error) {
	o.mu.Lock()
	entry := o.active[jobGUID]
	if entry != nil {
		delete(o.active, jobGUID)
	}
	o.mu.Unlock()

	// Persist before canceling the job's context, so the job goroutine
	// cannot record its own failure first.
	now := o.clock.Now()
	canceled := schema.JobCanceled
	updated, err := o.store.UpdateJob(ctx, jobGUID, store.JobPatch{
		State:     &canceled,
		UpdatedAt: now,
		ClosedAt:  &now,
	})
	if entry != nil {
		entry.cancel()
	}
	if err != nil {
		return schema.Job{}, fmt.Errorf("cancel job %s: %w", jobGUID, err)
	}
	o.emit(Canceled, updated)
	return updated, nil
}

func (o *Orchestrator) handleSessionEvent(event sessionevent.Event) {
	for _, job := range o.Active() {
		if job.SessionGUID != event.SessionGUID {
			continue
		}
		if _, err := o.Cancel(o.base, job.GUID); err != nil && !fault.Is(err, fault.Conflict) {
			o.logger.Warn("canceling job of ended session failed",
				"job", job.GUID,
				"session", event.SessionGUID,
				"kind", string(event.Kind),
				"error", err,
			)
		}
	}
}

// Active returns the active jobs as they were when started, oldest
// first.
func (o *Orchestrator) Active() []schema.Job {
	o.mu.Lock()
	jobs := make([]schema.Job, 0, len(o.active))
	for _, entry := range o.active {
		jobs = append(jobs, entry.job)
	}
	o.mu.Unlock()

	slices.SortFunc(jobs, func(a, b schema.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.GUID < b.GUID {
			return -1
		}
		if a.GUID > b.GUID {
			return 1
		}
		return 0
	})
	return jobs
}

// IsActive reports whether jobGUID is in the active set.
func (o *Orchestrator) IsActive(jobGUID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobGUID]
	return ok
}

// Close stops accepting jobs, cancels the running ones, and waits for
// their goroutines to record an outcome, up to timeout. A zero timeout
// waits indefinitely.
func (o *Orchestrator) Close(timeout time.Duration) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.cancelBase()

	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-o.clock.After(timeout):
		return fault.New(fault.Timeout, "close job orchestrator", "jobs still running after %s", timeout)
	}
}
