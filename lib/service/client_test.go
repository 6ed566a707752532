// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/testutil"
)

func TestClientCall(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testutil.Logger(t))
	server.Handle("cancel-job", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Job string `cbor:"job"`
		}
		if err := DecodeRequest(raw, &request); err != nil {
			return nil, err
		}
		if request.Job == "" {
			return nil, fault.New(fault.Schema, "cancel job", "job is required")
		}
		return map[string]string{"job": request.Job, "state": "canceled"}, nil
	})
	startServer(t, server)

	client := NewClient(socketPath)
	var result struct {
		Job   string `cbor:"job"`
		State string `cbor:"state"`
	}
	if err := client.Call(context.Background(), "cancel-job", map[string]any{"job": "j-1"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Job != "j-1" || result.State != "canceled" {
		t.Errorf("result = %+v", result)
	}
}

func TestClientCallNilResult(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testutil.Logger(t))
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"workers": 1}, nil
	})
	startServer(t, server)

	// A nil result discards the response data.
	if err := NewClient(socketPath).Call(context.Background(), "status", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestClientCallServiceError(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testutil.Logger(t))
	server.Handle("cancel-job", func(ctx context.Context, raw []byte) (any, error) {
		return nil, fault.New(fault.NotFound, "cancel job", "job j-9 not found")
	})
	startServer(t, server)

	err := NewClient(socketPath).Call(context.Background(), "cancel-job", map[string]any{"job": "j-9"}, nil)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if serviceErr.Action != "cancel-job" || serviceErr.Kind != fault.NotFound {
		t.Errorf("unexpected service error: %+v", serviceErr)
	}
	if !fault.Is(err, fault.NotFound) {
		t.Errorf("fault.KindOf(%v) = %v, want not found", err, fault.KindOf(err))
	}
}

func TestClientCallUnknownAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testutil.Logger(t))
	startServer(t, server)

	err := NewClient(socketPath).Call(context.Background(), "reticulate", nil, nil)
	if !fault.Is(err, fault.NotFound) {
		t.Errorf("Call(unknown) = %v, want not found", err)
	}
}

func TestClientCallConnectionRefused(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	err := client.Call(context.Background(), "status", nil, nil)
	if err == nil {
		t.Fatal("expected error for missing socket")
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		t.Errorf("connection failure reported as service error: %v", err)
	}
	if !fault.Is(err, fault.Connection) {
		t.Errorf("Call(missing socket) = %v, want connection error", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testutil.Logger(t))
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value string `cbor:"value"`
		}
		if err := DecodeRequest(raw, &request); err != nil {
			return nil, err
		}
		return map[string]string{"value": request.Value}, nil
	})
	startServer(t, server)

	client := NewClient(socketPath)
	var wg sync.WaitGroup
	for _, value := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var result map[string]string
			if err := client.Call(context.Background(), "echo", map[string]any{"value": value}, &result); err != nil {
				t.Errorf("Call(%s): %v", value, err)
				return
			}
			if result["value"] != value {
				t.Errorf("echo %s returned %v", value, result)
			}
		}()
	}
	wg.Wait()
}
