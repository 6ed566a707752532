// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package maxscript

import (
	"context"

	"github.com/bureau-foundation/renderfarm/lib/command"
)

// Client runs worker operations over a command channel. It owns the
// channel: closing the client closes the connection.
type Client struct {
	channel     *command.Channel
	sessionGUID string
	workerGUID  string
}

// NewClient wraps an open channel. sessionGUID and workerGUID are
// informational.
func NewClient(channel *command.Channel, sessionGUID, workerGUID string) *Client {
	return &Client{channel: channel, sessionGUID: sessionGUID, workerGUID: workerGUID}
}

// SessionGUID returns the session the client was created for.
func (c *Client) SessionGUID() string { return c.sessionGUID }

// WorkerGUID returns the worker host the client is connected to.
func (c *Client) WorkerGUID() string { return c.workerGUID }

// Done is closed when the underlying channel dies.
func (c *Client) Done() <-chan struct{} { return c.channel.Done() }

// Err reports why the channel died.
func (c *Client) Err() error { return c.channel.Err() }

// Close closes the channel.
func (c *Client) Close() error { return c.channel.Close() }

// ResetScene discards the host's open scene.
func (c *Client) ResetScene(ctx context.Context) error {
	return c.channel.Execute(ctx, ResetSceneScript(), "resetScene", nil)
}

// SetSession binds the host to a session.
func (c *Client) SetSession(ctx context.Context, sessionGUID string) error {
	return c.channel.Execute(ctx, SetSessionScript(sessionGUID), "setSession", nil)
}

// SetWorkspace points the host's map and xref paths at workspace.
func (c *Client) SetWorkspace(ctx context.Context, workspace Workspace) error {
	return c.channel.Execute(ctx, SetWorkspaceScript(workspace), "setWorkspace", nil)
}

// OpenScene resets the host and loads a scene from workspace.
func (c *Client) OpenScene(ctx context.Context, sceneFilename string, workspace Workspace) error {
	return c.channel.Execute(ctx, OpenSceneScript(sceneFilename, workspace), "openScene", nil)
}

// RenderScene renders and uploads one camera view.
func (c *Client) RenderScene(ctx context.Context, request RenderRequest) error {
	script, err := RenderSceneScript(request)
	if err != nil {
		return err
	}
	return c.channel.Execute(ctx, script, "renderScene", nil)
}
