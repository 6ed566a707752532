// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/job"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/service"
	"github.com/bureau-foundation/renderfarm/lib/store"
	"github.com/bureau-foundation/renderfarm/lib/version"
)

// registerActions registers all socket API actions on the server.
func (c *Controller) registerActions(server *service.SocketServer) {
	server.Handle("status", c.handleStatus)
	server.Handle("workers", c.handleWorkers)
	server.Handle("heartbeat", c.handleHeartbeat)
	server.Handle("sessions", c.handleSessions)
	server.Handle("open-session", c.handleOpenSession)
	server.Handle("close-session", c.handleCloseSession)
	server.Handle("touch-session", c.handleTouchSession)
	server.Handle("jobs", c.handleJobs)
	server.Handle("submit-job", c.handleSubmitJob)
	server.Handle("cancel-job", c.handleCancelJob)
	server.Handle("sweep", c.handleSweep)
}

// --- Status ---

type statusResponse struct {
	Version       string `cbor:"version"`
	UptimeSeconds int    `cbor:"uptime_seconds"`
	Workgroup     string `cbor:"workgroup"`
	RecentWorkers int    `cbor:"recent_workers"`
	OpenSessions  int    `cbor:"open_sessions"`
	ActiveJobs    int    `cbor:"active_jobs"`
}

func (c *Controller) handleStatus(ctx context.Context, raw []byte) (any, error) {
	recent, err := c.registry.RecentWorkers(ctx, c.workgroup)
	if err != nil {
		return nil, err
	}
	sessions, err := c.store.FindSessions(ctx, store.SessionFilter{Open: true})
	if err != nil {
		return nil, err
	}
	return statusResponse{
		Version:       version.Info(),
		UptimeSeconds: int(c.clock.Now().Sub(c.startedAt) / time.Second),
		Workgroup:     c.workgroup,
		RecentWorkers: len(recent),
		OpenSessions:  len(sessions),
		ActiveJobs:    len(c.orchestrator.Active()),
	}, nil
}

// --- Workers ---

type workersRequest struct {
	// Workgroup defaults to the controller's workgroup.
	Workgroup string `cbor:"workgroup"`

	// Available restricts the list to recent workers with no session.
	Available bool `cbor:"available"`
}

type workersResponse struct {
	Workers []schema.Worker `cbor:"workers"`
}

func (c *Controller) handleWorkers(ctx context.Context, raw []byte) (any, error) {
	var request workersRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	workgroup := request.Workgroup
	if workgroup == "" {
		workgroup = c.workgroup
	}

	var workers []schema.Worker
	var err error
	if request.Available {
		workers, err = c.registry.AvailableWorkers(ctx, workgroup)
	} else {
		workers, err = c.registry.RecentWorkers(ctx, workgroup)
	}
	if err != nil {
		return nil, err
	}
	return workersResponse{Workers: workers}, nil
}

type heartbeatRequest struct {
	Worker schema.Worker `cbor:"worker"`
}

type workerResponse struct {
	Worker schema.Worker `cbor:"worker"`
}

func (c *Controller) handleHeartbeat(ctx context.Context, raw []byte) (any, error) {
	var request heartbeatRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.Worker.Workgroup == "" {
		request.Worker.Workgroup = c.workgroup
	}
	worker, err := c.Heartbeat(ctx, request.Worker)
	if err != nil {
		return nil, err
	}
	return workerResponse{Worker: worker}, nil
}

// --- Sessions ---

type sessionsRequest struct {
	All bool `cbor:"all"`
}

type sessionsResponse struct {
	Sessions []schema.Session `cbor:"sessions"`
}

func (c *Controller) handleSessions(ctx context.Context, raw []byte) (any, error) {
	var request sessionsRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	sessions, err := c.store.FindSessions(ctx, store.SessionFilter{Open: !request.All})
	if err != nil {
		return nil, err
	}
	return sessionsResponse{Sessions: sessions}, nil
}

type openSessionRequest struct {
	APIKey        string `cbor:"api_key"`
	TTLSeconds    int    `cbor:"ttl_seconds"`
	WorkerGUID    string `cbor:"worker_guid"`
	SceneFilename string `cbor:"scene_filename"`
	WorkspaceGUID string `cbor:"workspace_guid"`
	Debug         bool   `cbor:"debug"`
}

type sessionResponse struct {
	Session schema.Session `cbor:"session"`
}

func (c *Controller) handleOpenSession(ctx context.Context, raw []byte) (any, error) {
	var request openSessionRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	session, err := c.OpenSession(ctx, SessionRequest(request))
	if err != nil {
		return nil, err
	}
	return sessionResponse{Session: session}, nil
}

type sessionRequest struct {
	Session string `cbor:"session"`
}

func decodeSessionRequest(raw []byte, op string) (string, error) {
	var request sessionRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return "", err
	}
	if request.Session == "" {
		return "", fault.New(fault.Schema, op, "session is required")
	}
	return request.Session, nil
}

func (c *Controller) handleCloseSession(ctx context.Context, raw []byte) (any, error) {
	guid, err := decodeSessionRequest(raw, "close-session")
	if err != nil {
		return nil, err
	}
	session, err := c.CloseSession(ctx, guid)
	if err != nil {
		return nil, err
	}
	return sessionResponse{Session: session}, nil
}

func (c *Controller) handleTouchSession(ctx context.Context, raw []byte) (any, error) {
	guid, err := decodeSessionRequest(raw, "touch-session")
	if err != nil {
		return nil, err
	}
	session, err := c.TouchSession(ctx, guid)
	if err != nil {
		return nil, err
	}
	return sessionResponse{Session: session}, nil
}

// --- Jobs ---

type jobsRequest struct {
	Session string   `cbor:"session"`
	States  []string `cbor:"states"`

	// Active lists the orchestrator's in-flight jobs instead of
	// querying the store.
	Active bool `cbor:"active"`
}

type jobsResponse struct {
	Jobs []schema.Job `cbor:"jobs"`
}

func (c *Controller) handleJobs(ctx context.Context, raw []byte) (any, error) {
	var request jobsRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.Active {
		return jobsResponse{Jobs: c.orchestrator.Active()}, nil
	}

	filter := store.JobFilter{SessionGUID: request.Session}
	for _, name := range request.States {
		state := schema.JobState(name)
		if !state.Known() {
			return nil, fault.New(fault.Schema, "jobs", "unknown job state %q", name)
		}
		filter.States = append(filter.States, state)
	}
	jobs, err := c.store.FindJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return jobsResponse{Jobs: jobs}, nil
}

type submitJobRequest struct {
	Session        string         `cbor:"session"`
	CameraName     string         `cbor:"camera_name"`
	RenderWidth    int            `cbor:"render_width"`
	RenderHeight   int            `cbor:"render_height"`
	RenderPreset   string         `cbor:"render_preset"`
	RenderSettings map[string]any `cbor:"render_settings"`
}

type jobResponse struct {
	Job schema.Job `cbor:"job"`

	// URL is where the rendered image will be published.
	URL string `cbor:"url,omitempty"`
}

func (c *Controller) handleSubmitJob(ctx context.Context, raw []byte) (any, error) {
	var request submitJobRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.Session == "" {
		return nil, fault.New(fault.Schema, "submit-job", "session is required")
	}
	submitted, err := c.SubmitJob(ctx, request.Session, job.Request{
		CameraName:     request.CameraName,
		RenderWidth:    request.RenderWidth,
		RenderHeight:   request.RenderHeight,
		RenderPreset:   request.RenderPreset,
		RenderSettings: request.RenderSettings,
	})
	if err != nil {
		return nil, err
	}
	return jobResponse{Job: submitted, URL: c.artifacts.URL(submitted.GUID)}, nil
}

type cancelJobRequest struct {
	Job string `cbor:"job"`
}

func (c *Controller) handleCancelJob(ctx context.Context, raw []byte) (any, error) {
	var request cancelJobRequest
	if err := service.DecodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.Job == "" {
		return nil, fault.New(fault.Schema, "cancel-job", "job is required")
	}
	canceled, err := c.CancelJob(ctx, request.Job)
	if err != nil {
		return nil, err
	}
	return jobResponse{Job: canceled}, nil
}

// --- Maintenance ---

type sweepResponse struct {
	DeletedWorkers int `cbor:"deleted_workers"`
	EndedSessions  int `cbor:"ended_sessions"`
}

func (c *Controller) handleSweep(ctx context.Context, raw []byte) (any, error) {
	deleted, ended, err := c.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	return sweepResponse{DeletedWorkers: deleted, EndedSessions: ended}, nil
}
