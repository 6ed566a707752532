// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"testing"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

var testEpoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func validWorker() Worker {
	return Worker{
		GUID:      "w-1",
		IP:        "10.0.0.5",
		Port:      29207,
		Workgroup: "default",
		FirstSeen: testEpoch,
		LastSeen:  testEpoch.Add(time.Minute),
	}
}

func TestWorkerValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Worker)
		valid  bool
	}{
		{"valid", func(*Worker) {}, true},
		{"missing guid", func(w *Worker) { w.GUID = "" }, false},
		{"missing ip", func(w *Worker) { w.IP = "" }, false},
		{"port zero", func(w *Worker) { w.Port = 0 }, false},
		{"port too large", func(w *Worker) { w.Port = 70000 }, false},
		{"last seen before first seen", func(w *Worker) { w.LastSeen = w.FirstSeen.Add(-time.Second) }, false},
		{"last seen equals first seen", func(w *Worker) { w.LastSeen = w.FirstSeen }, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			worker := validWorker()
			test.mutate(&worker)
			err := worker.Validate()
			if test.valid && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !test.valid && !fault.Is(err, fault.Schema) {
				t.Fatalf("Validate() = %v, want schema error", err)
			}
		})
	}
}

func TestWorkerEndpoint(t *testing.T) {
	worker := validWorker()
	if got := worker.Endpoint(); got != "10.0.0.5:29207" {
		t.Errorf("Endpoint() = %q", got)
	}
	worker.IP = "fe80::1"
	if got := worker.Endpoint(); got != "[fe80::1]:29207" {
		t.Errorf("Endpoint() = %q", got)
	}
}

func TestSessionState(t *testing.T) {
	tests := []struct {
		session Session
		want    SessionState
	}{
		{Session{GUID: "s"}, SessionOpen},
		{Session{GUID: "s", Closed: true}, SessionClosed},
		{Session{GUID: "s", Expired: true}, SessionExpired},
		{Session{GUID: "s", Failed: true, FailReason: "worker lost"}, SessionFailed},
	}
	for _, test := range tests {
		if got := test.session.State(); got != test.want {
			t.Errorf("State() = %q, want %q", got, test.want)
		}
		if got := test.session.Terminal(); got != (test.want != SessionOpen) {
			t.Errorf("Terminal() = %v for %q", got, test.want)
		}
		if err := test.session.Validate(); err != nil {
			t.Errorf("Validate() = %v for %q", err, test.want)
		}
	}
}

func TestSessionValidateRejectsTwoTerminalFlags(t *testing.T) {
	session := Session{GUID: "s", Closed: true, Expired: true}
	if err := session.Validate(); !fault.Is(err, fault.Schema) {
		t.Fatalf("Validate() = %v, want schema error", err)
	}
}

func TestJobTransitions(t *testing.T) {
	allowed := map[[2]JobState]bool{
		{JobQueued, JobRendering}:    true,
		{JobQueued, JobFailed}:       true,
		{JobQueued, JobCanceled}:     true,
		{JobRendering, JobCompleted}: true,
		{JobRendering, JobFailed}:    true,
		{JobRendering, JobCanceled}:  true,
	}
	states := []JobState{JobQueued, JobRendering, JobCompleted, JobFailed, JobCanceled}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]JobState{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: CanTransition = %v, want %v", from, to, got, want)
			}
		}
	}
	for _, terminal := range []JobState{JobCompleted, JobFailed, JobCanceled} {
		if !terminal.Terminal() {
			t.Errorf("%s should be terminal", terminal)
		}
	}
	if JobState("paused").Known() {
		t.Error("unknown state reported as known")
	}
}

func TestJobValidateStateFields(t *testing.T) {
	base := Job{
		GUID:         "j-1",
		SessionGUID:  "s-1",
		CameraName:   "Camera001",
		RenderWidth:  640,
		RenderHeight: 480,
		State:        JobQueued,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	completedWithoutURLs := base
	completedWithoutURLs.State = JobCompleted
	if err := completedWithoutURLs.Validate(); !fault.Is(err, fault.Schema) {
		t.Errorf("completed job without urls: Validate() = %v", err)
	}

	queuedWithURLs := base
	queuedWithURLs.URLs = []string{"https://example/x.png"}
	if err := queuedWithURLs.Validate(); !fault.Is(err, fault.Schema) {
		t.Errorf("queued job with urls: Validate() = %v", err)
	}

	canceledWithReason := base
	canceledWithReason.State = JobCanceled
	canceledWithReason.FailReason = "boom"
	if err := canceledWithReason.Validate(); !fault.Is(err, fault.Schema) {
		t.Errorf("canceled job with fail reason: Validate() = %v", err)
	}

	zeroSize := base
	zeroSize.RenderWidth = 0
	if err := zeroSize.Validate(); !fault.Is(err, fault.Schema) {
		t.Errorf("zero width: Validate() = %v", err)
	}
}
