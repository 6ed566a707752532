// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/config"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/service"
	"github.com/bureau-foundation/renderfarm/lib/testutil"
)

// waitFor polls check until it returns true or the deadline passes.
func waitFor(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !check() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func TestServeWiresControlPlane(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Root = root
	cfg.Store.Path = filepath.Join(root, "records.db")
	cfg.Control.SocketPath = filepath.Join(testutil.SocketDir(t), "control.sock")
	cfg.Render.PublicURL = "https://farm.example.com"
	cfg.Render.DefaultPreset = "preview"
	cfg.Channel.DialTimeout = "1s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, clock.Fake(epoch), testutil.Logger(t)) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 10*time.Second, "serve did not return"); err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	client := service.NewClient(cfg.Control.SocketPath)
	call := func(action string, fields map[string]any, result any) error {
		callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer callCancel()
		return client.Call(callCtx, action, fields, result)
	}
	waitFor(t, "control socket", func() bool { return call("status", nil, nil) == nil })

	err := call("heartbeat", map[string]any{
		"worker": map[string]any{"guid": "w-1", "ip": "127.0.0.1", "port": closedPort(t)},
	}, nil)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	var opened sessionResponse
	if err := call("open-session", map[string]any{"api_key": "key-1"}, &opened); err != nil {
		t.Fatalf("open-session: %v", err)
	}

	var submitted jobResponse
	err = call("submit-job", map[string]any{
		"session":       opened.Session.GUID,
		"camera_name":   "CAM_Main",
		"render_width":  320,
		"render_height": 240,
	}, &submitted)
	if err != nil {
		t.Fatalf("submit-job: %v", err)
	}
	if submitted.Job.RenderPreset != "preview" {
		t.Errorf("preset = %q, want the configured default", submitted.Job.RenderPreset)
	}

	// The worker refuses connections, so the job fails in the pool
	// factory's dial.
	var failed jobsResponse
	waitFor(t, "job to fail", func() bool {
		failed = jobsResponse{}
		err := call("jobs", map[string]any{"states": []string{string(schema.JobFailed)}}, &failed)
		return err == nil && len(failed.Jobs) == 1
	})
	if reason := failed.Jobs[0].FailReason; !strings.Contains(reason, "connecting to worker") {
		t.Errorf("fail reason = %q", reason)
	}
}
