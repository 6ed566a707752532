// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package maxscript

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/command"
	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/testutil"
)

type workerMap map[string]schema.Worker

func (m workerMap) FindWorker(_ context.Context, guid string) (schema.Worker, error) {
	worker, ok := m[guid]
	if !ok {
		return schema.Worker{}, fault.New(fault.NotFound, "find worker", "worker %s not found", guid)
	}
	return worker, nil
}

// fakeHost accepts one connection and answers every script with reply.
func fakeHost(t *testing.T, reply string) (schema.Worker, <-chan string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	scripts := make(chan string, 16)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buffer := make([]byte, 64*1024)
		for {
			n, err := conn.Read(buffer)
			if err != nil {
				return
			}
			scripts <- string(buffer[:n])
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()

	host, portText, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portText)
	now := time.Now()
	return schema.Worker{GUID: "w-1", IP: host, Port: port, Workgroup: "default", FirstSeen: now, LastSeen: now}, scripts
}

func TestFactoryDialsWorkerAndBindsSession(t *testing.T) {
	worker, scripts := fakeHost(t, "OK")
	factory, err := NewFactory(FactoryConfig{
		Workers: workerMap{worker.GUID: worker},
		Logger:  testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	client, err := factory(context.Background(), schema.Session{GUID: "s-1", WorkerGUID: "w-1"})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer client.Close()

	if got := testutil.RequireReceive(t, scripts, 5*time.Second, "setSession script"); got != SetSessionScript("s-1") {
		t.Errorf("first script = %q, want setSession", got)
	}
	if client.SessionGUID() != "s-1" || client.WorkerGUID() != "w-1" {
		t.Errorf("client bound to %s/%s", client.SessionGUID(), client.WorkerGUID())
	}

	if err := client.ResetScene(context.Background()); err != nil {
		t.Fatalf("ResetScene: %v", err)
	}
	if got := testutil.RequireReceive(t, scripts, 5*time.Second, "resetScene script"); got != ResetSceneScript() {
		t.Errorf("second script = %q", got)
	}
}

func TestFactoryMissingWorker(t *testing.T) {
	factory, err := NewFactory(FactoryConfig{Workers: workerMap{}})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	if _, err := factory(context.Background(), schema.Session{GUID: "s-1"}); !fault.Is(err, fault.NotFound) {
		t.Errorf("session without worker = %v, want not found", err)
	}
	if _, err := factory(context.Background(), schema.Session{GUID: "s-1", WorkerGUID: "gone"}); !fault.Is(err, fault.NotFound) {
		t.Errorf("unknown worker = %v, want not found", err)
	}
}

func TestFactoryRejectedSetSessionClosesChannel(t *testing.T) {
	worker, _ := fakeHost(t, "-- Exception: SessionGuid is read-only")
	factory, err := NewFactory(FactoryConfig{
		Workers: workerMap{worker.GUID: worker},
		Channel: command.Config{CommandTimeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	_, err = factory(context.Background(), schema.Session{GUID: "s-1", WorkerGUID: "w-1"})
	if !fault.Is(err, fault.Protocol) {
		t.Fatalf("factory = %v, want protocol error", err)
	}
}

func TestFactoryOpensSessionScene(t *testing.T) {
	worker, scripts := fakeHost(t, "OK | scene open")
	factory, err := NewFactory(FactoryConfig{
		Workers: workerMap{worker.GUID: worker},
		HomeDir: `C:\farm`,
		Logger:  testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	session := schema.Session{
		GUID:          "s-1",
		APIKey:        "key",
		WorkerGUID:    "w-1",
		WorkspaceGUID: "ws-1",
		SceneFilename: "street.max",
	}
	client, err := factory(context.Background(), session)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer client.Close()

	workspace := Workspace{HomeDir: `C:\farm`, APIKey: "key", GUID: "ws-1"}
	want := []string{
		SetSessionScript("s-1"),
		SetWorkspaceScript(workspace),
		OpenSceneScript("street.max", workspace),
	}
	for i, expected := range want {
		if got := testutil.RequireReceive(t, scripts, 5*time.Second, "scene script"); got != expected {
			t.Errorf("script %d = %q, want %q", i, got, expected)
		}
	}
}
