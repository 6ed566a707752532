// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/fleet"
	"github.com/bureau-foundation/renderfarm/lib/job"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/sessionevent"
	"github.com/bureau-foundation/renderfarm/lib/store"
)

// defaultSessionTTL applies to sessions opened without a TTL.
const defaultSessionTTL = 30 * time.Minute

// Controller owns the session side of the control plane: it binds
// sessions to workers, ends them, and publishes the termination events
// the pool and the orchestrator react to.
type Controller struct {
	store        *store.Store
	registry     *fleet.Registry
	bus          *sessionevent.Bus
	orchestrator *job.Orchestrator
	artifacts    job.Artifacts
	clock        clock.Clock
	workgroup    string
	startedAt    time.Time
	logger       *slog.Logger

	// bindMu serializes changes to worker bindings so two sessions
	// cannot claim the same worker and a heartbeat cannot drop a
	// binding made concurrently.
	bindMu sync.Mutex
}

// SessionRequest describes a session to open.
type SessionRequest struct {
	APIKey        string
	TTLSeconds    int
	WorkerGUID    string
	SceneFilename string
	WorkspaceGUID string
	Debug         bool
}

// Heartbeat records a worker heartbeat. A reported session counts only
// if it is open and bound to this worker; otherwise the heartbeat keeps
// the binding the controller made.
func (c *Controller) Heartbeat(ctx context.Context, worker schema.Worker) (schema.Worker, error) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	if worker.SessionGUID != "" {
		reported, err := c.reportedSession(ctx, worker)
		if err != nil {
			return schema.Worker{}, err
		}
		worker.SessionGUID = reported
	}
	if worker.SessionGUID == "" {
		existing, err := c.registry.FindWorker(ctx, worker.GUID)
		switch {
		case err == nil:
			worker.SessionGUID = existing.SessionGUID
		case !fault.Is(err, fault.NotFound):
			return schema.Worker{}, err
		}
	}
	return c.registry.UpsertWorker(ctx, worker)
}

// reportedSession returns worker.SessionGUID if that session is open on
// worker, or "" for an ended, unknown, or foreign session.
func (c *Controller) reportedSession(ctx context.Context, worker schema.Worker) (string, error) {
	session, err := c.store.FindSession(ctx, worker.SessionGUID)
	switch {
	case fault.Is(err, fault.NotFound):
		c.logger.Debug("heartbeat names unknown session",
			"worker", worker.GUID, "session", worker.SessionGUID)
		return "", nil
	case err != nil:
		return "", err
	case session.Terminal() || session.WorkerGUID != worker.GUID:
		c.logger.Debug("heartbeat names a session not open on this worker",
			"worker", worker.GUID,
			"session", session.GUID,
			"state", string(session.State()),
			"session_worker", session.WorkerGUID,
		)
		return "", nil
	}
	return session.GUID, nil
}

// OpenSession creates a session and binds it to a worker. With no
// WorkerGUID the first available worker of the workgroup is taken; a
// named worker must be recent and unbound.
func (c *Controller) OpenSession(ctx context.Context, request SessionRequest) (schema.Session, error) {
	if request.APIKey == "" {
		return schema.Session{}, fault.New(fault.Schema, "open session", "api_key is required")
	}
	ttl := request.TTLSeconds
	if ttl <= 0 {
		ttl = int(defaultSessionTTL / time.Second)
	}

	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	worker, err := c.pickWorker(ctx, request.WorkerGUID)
	if err != nil {
		return schema.Session{}, err
	}

	now := c.clock.Now()
	session := schema.Session{
		GUID:          uuid.NewString(),
		APIKey:        request.APIKey,
		TTLSeconds:    ttl,
		WorkerGUID:    worker.GUID,
		SceneFilename: request.SceneFilename,
		WorkspaceGUID: request.WorkspaceGUID,
		FirstSeen:     now,
		LastSeen:      now,
		Debug:         request.Debug,
	}
	if err := c.store.InsertSession(ctx, session); err != nil {
		return schema.Session{}, err
	}
	if _, err := c.store.UpdateWorker(ctx, worker.GUID, store.WorkerPatch{SessionGUID: &session.GUID}); err != nil {
		reason := fmt.Sprintf("binding worker %s: %v", worker.GUID, err)
		if _, terminateErr := c.store.TerminateSession(ctx, session.GUID, schema.SessionFailed, reason, now); terminateErr != nil {
			c.logger.Error("failed to fail unbound session", "session", session.GUID, "error", terminateErr)
		}
		return schema.Session{}, fmt.Errorf("open session: %w", err)
	}

	c.logger.Info("session opened",
		"session", session.GUID,
		"worker", worker.GUID,
		"scene", session.SceneFilename,
		"ttl_seconds", session.TTLSeconds,
	)
	return session, nil
}

func (c *Controller) pickWorker(ctx context.Context, workerGUID string) (schema.Worker, error) {
	if workerGUID == "" {
		available, err := c.registry.AvailableWorkers(ctx, c.workgroup)
		if err != nil {
			return schema.Worker{}, err
		}
		if len(available) == 0 {
			return schema.Worker{}, fault.New(fault.NotFound, "open session",
				"no available worker in workgroup %q", c.workgroup)
		}
		return available[0], nil
	}

	worker, err := c.registry.FindWorker(ctx, workerGUID)
	if err != nil {
		return schema.Worker{}, err
	}
	if !c.registry.IsRecent(worker) {
		return schema.Worker{}, fault.New(fault.Conflict, "open session",
			"worker %s has not been seen since %s", worker.GUID, worker.LastSeen.Format(time.RFC3339))
	}
	if worker.Bound() {
		return schema.Worker{}, fault.New(fault.Conflict, "open session",
			"worker %s is bound to session %s", worker.GUID, worker.SessionGUID)
	}
	return worker, nil
}

// CloseSession ends a session at the client's request.
func (c *Controller) CloseSession(ctx context.Context, sessionGUID string) (schema.Session, error) {
	return c.terminate(ctx, sessionGUID, schema.SessionClosed, "")
}

// TouchSession records client activity, restarting the session's TTL.
func (c *Controller) TouchSession(ctx context.Context, sessionGUID string) (schema.Session, error) {
	now := c.clock.Now()
	return c.store.UpdateSession(ctx, sessionGUID, store.SessionPatch{LastSeen: &now})
}

// terminate ends the session, releases its worker, and publishes the
// termination event.
func (c *Controller) terminate(ctx context.Context, sessionGUID string, state schema.SessionState, reason string) (schema.Session, error) {
	now := c.clock.Now()
	session, err := c.store.TerminateSession(ctx, sessionGUID, state, reason, now)
	if err != nil {
		return schema.Session{}, err
	}
	c.releaseWorker(ctx, session)

	kind, _ := sessionevent.KindFor(state)
	c.bus.Publish(sessionevent.Event{
		Kind:        kind,
		SessionGUID: session.GUID,
		Reason:      reason,
		At:          now,
	})
	c.logger.Info("session ended",
		"session", session.GUID,
		"state", string(state),
		"reason", reason,
	)
	return session, nil
}

func (c *Controller) releaseWorker(ctx context.Context, session schema.Session) {
	if session.WorkerGUID == "" {
		return
	}
	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	worker, err := c.registry.FindWorker(ctx, session.WorkerGUID)
	if err != nil {
		if !fault.Is(err, fault.NotFound) {
			c.logger.Warn("cannot release worker", "session", session.GUID, "worker", session.WorkerGUID, "error", err)
		}
		return
	}
	if worker.SessionGUID != session.GUID {
		return
	}
	unbound := ""
	if _, err := c.store.UpdateWorker(ctx, worker.GUID, store.WorkerPatch{SessionGUID: &unbound}); err != nil {
		c.logger.Warn("cannot release worker", "session", session.GUID, "worker", worker.GUID, "error", err)
	}
}

// ReapSessions expires open sessions idle past their TTL and fails
// sessions whose worker has been swept. It returns the number of
// sessions ended.
func (c *Controller) ReapSessions(ctx context.Context) int {
	sessions, err := c.store.FindSessions(ctx, store.SessionFilter{Open: true})
	if err != nil {
		c.logger.Error("listing open sessions failed", "error", err)
		return 0
	}

	now := c.clock.Now()
	ended := 0
	for _, session := range sessions {
		state, reason := c.verdict(ctx, session, now)
		if state == schema.SessionOpen {
			continue
		}
		if _, err := c.terminate(ctx, session.GUID, state, reason); err != nil {
			// A Conflict means the client closed it first.
			if !fault.Is(err, fault.Conflict) {
				c.logger.Warn("reaping session failed", "session", session.GUID, "error", err)
			}
			continue
		}
		ended++
	}
	return ended
}

func (c *Controller) verdict(ctx context.Context, session schema.Session, now time.Time) (schema.SessionState, string) {
	ttl := time.Duration(session.TTLSeconds) * time.Second
	if ttl > 0 && now.Sub(session.LastSeen) > ttl {
		return schema.SessionExpired, ""
	}
	if session.WorkerGUID == "" {
		return schema.SessionOpen, ""
	}
	if _, err := c.registry.FindWorker(ctx, session.WorkerGUID); fault.Is(err, fault.NotFound) {
		return schema.SessionFailed, "worker " + session.WorkerGUID + " lost"
	}
	return schema.SessionOpen, ""
}

// SubmitJob creates a job in the session and starts it. Submitting
// counts as session activity.
func (c *Controller) SubmitJob(ctx context.Context, sessionGUID string, request job.Request) (schema.Job, error) {
	session, err := c.TouchSession(ctx, sessionGUID)
	if err != nil {
		return schema.Job{}, err
	}
	return c.orchestrator.Submit(ctx, session, request)
}

// CancelJob cancels an active job.
func (c *Controller) CancelJob(ctx context.Context, jobGUID string) (schema.Job, error) {
	return c.orchestrator.Cancel(ctx, jobGUID)
}

// Sweep deletes dead workers and reaps sessions immediately rather than
// waiting for the next tick.
func (c *Controller) Sweep(ctx context.Context) (deletedWorkers, endedSessions int, err error) {
	deletedWorkers, err = c.registry.DeleteDeadWorkers(ctx)
	if err != nil {
		return 0, 0, err
	}
	return deletedWorkers, c.ReapSessions(ctx), nil
}
