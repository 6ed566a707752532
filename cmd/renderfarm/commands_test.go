// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/process"
	"github.com/bureau-foundation/renderfarm/lib/schema"
	"github.com/bureau-foundation/renderfarm/lib/service"
	"github.com/bureau-foundation/renderfarm/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeController serves canned responses and records the last request
// of each action.
type fakeController struct {
	socketPath string
	requests   chan map[string]any
}

func startFakeController(t *testing.T, handlers map[string]func(request map[string]any) (any, error)) *fakeController {
	t.Helper()
	fake := &fakeController{
		socketPath: filepath.Join(testutil.SocketDir(t), "control.sock"),
		requests:   make(chan map[string]any, 16),
	}
	server := service.NewSocketServer(fake.socketPath, testutil.Logger(t))
	for action, handler := range handlers {
		server.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
			var request map[string]any
			if err := service.DecodeRequest(raw, &request); err != nil {
				return nil, err
			}
			fake.requests <- request
			return handler(request)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server did not start listening")
	return fake
}

func (f *fakeController) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(append([]string{"--socket", f.socketPath}, args...), &stdout, &stderr, clock.Fake(epoch.Add(time.Minute)))
	return stdout.String(), err
}

func (f *fakeController) lastRequest(t *testing.T) map[string]any {
	t.Helper()
	return testutil.RequireReceive(t, f.requests, 5*time.Second, "no request reached the controller")
}

func TestStatusCommand(t *testing.T) {
	fake := startFakeController(t, map[string]func(map[string]any) (any, error){
		"status": func(map[string]any) (any, error) {
			return map[string]any{"version": "1.2.3", "recent_workers": 4, "active_jobs": 2}, nil
		},
	})

	out, err := fake.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"1.2.3", "recent workers:  4", "active jobs:     2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWorkersCommand(t *testing.T) {
	worker := schema.Worker{
		GUID:        "w-1",
		IP:          "10.0.0.5",
		Port:        7000,
		Workgroup:   "default",
		FirstSeen:   epoch,
		LastSeen:    epoch,
		CPUUsage:    0.5,
		SessionGUID: "s-1",
	}
	fake := startFakeController(t, map[string]func(map[string]any) (any, error){
		"workers": func(map[string]any) (any, error) {
			return map[string]any{"workers": []schema.Worker{worker}}, nil
		},
	})

	out, err := fake.run(t, "workers", "--available", "--workgroup", "lighting")
	if err != nil {
		t.Fatalf("workers: %v", err)
	}
	request := fake.lastRequest(t)
	if request["available"] != true || request["workgroup"] != "lighting" {
		t.Errorf("request = %v", request)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got:\n%s", out)
	}
	for _, want := range []string{"w-1", "10.0.0.5:7000", "1m0s", "50%", "s-1"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row missing %q: %s", want, lines[1])
		}
	}

	out, err = fake.run(t, "--json", "workers")
	if err != nil {
		t.Fatalf("workers --json: %v", err)
	}
	fake.lastRequest(t)
	var decoded []schema.Worker
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decoding JSON output: %v\n%s", err, out)
	}
	if len(decoded) != 1 || decoded[0].GUID != "w-1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestEmptyListIsJSONArray(t *testing.T) {
	fake := startFakeController(t, map[string]func(map[string]any) (any, error){
		"jobs": func(map[string]any) (any, error) { return map[string]any{}, nil },
	})

	out, err := fake.run(t, "--json", "jobs", "--state", "failed,canceled")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("output = %q, want []", out)
	}
	states, _ := fake.lastRequest(t)["states"].([]any)
	if !reflect.DeepEqual(states, []any{"failed", "canceled"}) {
		t.Errorf("states = %v", states)
	}
}

func TestSubmitCommand(t *testing.T) {
	fake := startFakeController(t, map[string]func(map[string]any) (any, error){
		"submit-job": func(request map[string]any) (any, error) {
			return map[string]any{
				"job": schema.Job{GUID: "j-1", SessionGUID: "s-1", State: schema.JobQueued},
				"url": "https://farm.example.com/v1/renderoutput/j-1.png",
			}, nil
		},
	})

	out, err := fake.run(t, "submit", "--session", "s-1", "--camera", "CAM_Main",
		"--width", "640", "--preset", "preview", "--set", "gi_on=false")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "j-1 queued") || !strings.Contains(out, "renderoutput/j-1.png") {
		t.Errorf("output = %q", out)
	}
	request := fake.lastRequest(t)
	if request["session"] != "s-1" || request["camera_name"] != "CAM_Main" || request["render_preset"] != "preview" {
		t.Errorf("request = %v", request)
	}
	settings, _ := request["render_settings"].(map[string]any)
	if settings["gi_on"] != false {
		t.Errorf("render_settings = %v", request["render_settings"])
	}

	if _, err := fake.run(t, "submit", "--camera", "CAM_Main"); !fault.Is(err, fault.Schema) {
		t.Errorf("submit without session: err = %v, want Schema", err)
	}
}

func TestControllerErrorsKeepTheirKind(t *testing.T) {
	fake := startFakeController(t, map[string]func(map[string]any) (any, error){
		"cancel-job": func(request map[string]any) (any, error) {
			return nil, fault.New(fault.Conflict, "cancel job", "job %s is completed", request["job"])
		},
	})

	_, err := fake.run(t, "cancel", "j-1")
	if err == nil {
		t.Fatal("cancel succeeded, want error")
	}
	if !strings.Contains(err.Error(), "job j-1 is completed") {
		t.Errorf("error = %v", err)
	}
	if code := process.ExitCode(err); code != process.ExitConflict {
		t.Errorf("exit code = %d, want %d", code, process.ExitConflict)
	}
}

func TestConnectionFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	socket := filepath.Join(t.TempDir(), "absent.sock")
	err := run([]string{"--socket", socket, "sweep"}, &stdout, &stderr, clock.Fake(epoch))
	if code := process.ExitCode(err); code != process.ExitConnection {
		t.Errorf("exit code = %d, want %d (err %v)", code, process.ExitConnection, err)
	}
}

func TestUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	clk := clock.Fake(epoch)

	if err := run([]string{"launch"}, &stdout, &stderr, clk); err == nil || !strings.Contains(err.Error(), `unknown command "launch"`) {
		t.Errorf("unknown command: err = %v", err)
	}
	if err := run([]string{"close-session"}, &stdout, &stderr, clk); !fault.Is(err, fault.Schema) {
		t.Errorf("missing argument: err = %v, want Schema", err)
	}
	if err := run([]string{"jobs", "--bogus"}, &stdout, &stderr, clk); err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("unknown flag: err = %v", err)
	}

	stderr.Reset()
	if err := run([]string{"--help"}, &stdout, &stderr, clk); err != nil {
		t.Errorf("--help: %v", err)
	}
	if err := run([]string{"jobs", "--help"}, &stdout, &stderr, clk); err != nil {
		t.Errorf("jobs --help: %v", err)
	}
	if !strings.Contains(stderr.String(), "--state") {
		t.Errorf("jobs help does not list its flags:\n%s", stderr.String())
	}
}

func TestParseSettings(t *testing.T) {
	settings, err := parseSettings([]string{
		"imageSampler_type=1",
		"dmc_earlyTermination_threshold=0.01",
		"gi_on=true",
		"output_file=#png",
	})
	if err != nil {
		t.Fatalf("parseSettings: %v", err)
	}
	want := map[string]any{
		"imageSampler_type":              int64(1),
		"dmc_earlyTermination_threshold": 0.01,
		"gi_on":                          true,
		"output_file":                    "#png",
	}
	if !reflect.DeepEqual(settings, want) {
		t.Errorf("settings = %#v, want %#v", settings, want)
	}

	for _, bad := range []string{"gi_on", "=1", "gi_on="} {
		if _, err := parseSettings([]string{bad}); !fault.Is(err, fault.Schema) {
			t.Errorf("parseSettings(%q): err = %v, want Schema", bad, err)
		}
	}
}
