// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package maxscript

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/renderfarm/lib/command"
	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/sessionpool"
)

// WorkerFinder resolves worker GUIDs to records.
type WorkerFinder interface {
	FindWorker(ctx context.Context, guid string) (schema.Worker, error)
}

// FactoryConfig holds the parameters for NewFactory.
type FactoryConfig struct {
	Workers WorkerFinder

	// Channel configures each dialed channel. Its Logger is replaced
	// with one carrying the session and worker.
	Channel command.Config

	// HomeDir is the worker-side root holding per-key workspaces. When
	// set, sessions that name a scene have their workspace selected and
	// the scene opened before the client is returned.
	HomeDir string

	Logger *slog.Logger
}

// NewFactory returns a session pool factory producing Clients. For a
// session it finds the bound worker, dials the worker's endpoint, and
// runs SetSession, then opens the session's scene when one is named
// and HomeDir is set. A session without a worker, or whose worker has no
// record, is a NotFound error.
func NewFactory(cfg FactoryConfig) (sessionpool.Factory[*Client], error) {
	if cfg.Workers == nil {
		return nil, fmt.Errorf("maxscript: Workers is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(ctx context.Context, session schema.Session) (*Client, error) {
		if session.WorkerGUID == "" {
			return nil, fault.New(fault.NotFound, "connect session "+session.GUID, "session has no worker")
		}
		worker, err := cfg.Workers.FindWorker(ctx, session.WorkerGUID)
		if err != nil {
			return nil, fmt.Errorf("connect session %s: %w", session.GUID, err)
		}

		channelConfig := cfg.Channel
		channelConfig.Logger = logger.With("session", session.GUID, "worker", worker.GUID)
		channel, err := command.Dial(ctx, worker.Endpoint(), channelConfig)
		if err != nil {
			return nil, err
		}

		client := NewClient(channel, session.GUID, worker.GUID)
		if err := client.SetSession(ctx, session.GUID); err != nil {
			client.Close()
			return nil, err
		}
		if cfg.HomeDir != "" && session.SceneFilename != "" {
			workspace := Workspace{HomeDir: cfg.HomeDir, APIKey: session.APIKey, GUID: session.WorkspaceGUID}
			if err := prepareScene(ctx, client, session.SceneFilename, workspace); err != nil {
				client.Close()
				return nil, err
			}
			logger.Info("scene opened",
				"session", session.GUID,
				"worker", worker.GUID,
				"scene", session.SceneFilename,
			)
		}
		return client, nil
	}, nil
}

func prepareScene(ctx context.Context, client *Client, sceneFilename string, workspace Workspace) error {
	if err := client.SetWorkspace(ctx, workspace); err != nil {
		return err
	}
	return client.OpenScene(ctx, sceneFilename, workspace)
}
