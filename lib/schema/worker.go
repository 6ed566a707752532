// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"net"
	"strconv"
	"time"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

// Worker is the heartbeat record of one worker host. It is created by
// the first heartbeat, overwritten (except FirstSeen) by every
// following heartbeat, and deleted once LastSeen falls outside the
// fleet's recent window.
type Worker struct {
	// GUID identifies the worker host. Heartbeats are upserted by GUID.
	GUID string `json:"guid"`

	// MAC is the hardware address the worker reported. Informational.
	MAC string `json:"mac,omitempty"`

	// IP and Port are where the worker's command listener accepts
	// connections.
	IP   string `json:"ip"`
	Port int    `json:"port"`

	// Workgroup partitions the fleet. Registry queries are scoped to
	// one workgroup; the dead-worker sweep is not.
	Workgroup string `json:"workgroup"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// VrayProgress is the renderer's progress text from the last
	// heartbeat, empty when the worker is idle.
	VrayProgress string `json:"vray_progress,omitempty"`

	// CPUUsage and RAMUsage are utilization fractions (0..1) from the
	// last heartbeat. TotalRAM is in gigabytes.
	CPUUsage float64 `json:"cpu_usage"`
	RAMUsage float64 `json:"ram_usage"`
	TotalRAM float64 `json:"total_ram"`

	// SessionGUID is the session this worker is bound to. Empty when
	// the worker is free for new work.
	SessionGUID string `json:"session_guid,omitempty"`
}

// Endpoint returns the host:port address of the worker's command
// listener.
func (w Worker) Endpoint() string {
	return net.JoinHostPort(w.IP, strconv.Itoa(w.Port))
}

// Bound reports whether the worker is bound to a session.
func (w Worker) Bound() bool {
	return w.SessionGUID != ""
}

// Validate checks the fields the control plane depends on.
func (w Worker) Validate() error {
	switch {
	case w.GUID == "":
		return fault.New(fault.Schema, "worker", "guid is required")
	case w.IP == "":
		return fault.New(fault.Schema, "worker "+w.GUID, "ip is required")
	case w.Port <= 0 || w.Port > 65535:
		return fault.New(fault.Schema, "worker "+w.GUID, "port %d out of range", w.Port)
	case w.FirstSeen.IsZero() || w.LastSeen.IsZero():
		return fault.New(fault.Schema, "worker "+w.GUID, "first_seen and last_seen are required")
	case w.LastSeen.Before(w.FirstSeen):
		return fault.New(fault.Schema, "worker "+w.GUID, "last_seen %s precedes first_seen %s",
			w.LastSeen.Format(time.RFC3339), w.FirstSeen.Format(time.RFC3339))
	}
	return nil
}
