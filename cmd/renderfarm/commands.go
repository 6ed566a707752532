// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/renderfarm/lib/fault"
	"github.com/bureau-foundation/renderfarm/lib/schema"
)

func (a *app) root() *Command {
	return &Command{
		Name:    "renderfarm",
		Summary: "Operate the render farm controller over its control socket.",
		Subcommands: []*Command{
			a.statusCommand(),
			a.workersCommand(),
			a.sessionsCommand(),
			a.openSessionCommand(),
			a.sessionCommand("close-session", "End a session and release its worker"),
			a.sessionCommand("touch-session", "Record activity on a session, restarting its TTL"),
			a.jobsCommand(),
			a.submitCommand(),
			a.cancelCommand(),
			a.sweepCommand(),
		},
	}
}

// Response shapes of the controller's actions.
type (
	statusResult struct {
		Version       string `cbor:"version" json:"version"`
		UptimeSeconds int    `cbor:"uptime_seconds" json:"uptime_seconds"`
		Workgroup     string `cbor:"workgroup" json:"workgroup"`
		RecentWorkers int    `cbor:"recent_workers" json:"recent_workers"`
		OpenSessions  int    `cbor:"open_sessions" json:"open_sessions"`
		ActiveJobs    int    `cbor:"active_jobs" json:"active_jobs"`
	}
	workersResult struct {
		Workers []schema.Worker `cbor:"workers"`
	}
	sessionsResult struct {
		Sessions []schema.Session `cbor:"sessions"`
	}
	sessionResult struct {
		Session schema.Session `cbor:"session"`
	}
	jobsResult struct {
		Jobs []schema.Job `cbor:"jobs"`
	}
	jobResult struct {
		Job schema.Job `cbor:"job" json:"job"`
		URL string     `cbor:"url" json:"url,omitempty"`
	}
	sweepResult struct {
		DeletedWorkers int `cbor:"deleted_workers" json:"deleted_workers"`
		EndedSessions  int `cbor:"ended_sessions" json:"ended_sessions"`
	}
)

func (a *app) statusCommand() *Command {
	return &Command{
		Name:    "status",
		Summary: "Show controller health and counts",
		Run: func(args []string) error {
			var result statusResult
			if err := a.call("status", nil, &result); err != nil {
				return err
			}
			if done, err := a.emitJSON(result); done {
				return err
			}
			fmt.Fprintf(a.out, "version:         %s\n", result.Version)
			fmt.Fprintf(a.out, "uptime:          %ds\n", result.UptimeSeconds)
			fmt.Fprintf(a.out, "workgroup:       %s\n", result.Workgroup)
			fmt.Fprintf(a.out, "recent workers:  %d\n", result.RecentWorkers)
			fmt.Fprintf(a.out, "open sessions:   %d\n", result.OpenSessions)
			fmt.Fprintf(a.out, "active jobs:     %d\n", result.ActiveJobs)
			return nil
		},
	}
}

func (a *app) workersCommand() *Command {
	var (
		workgroup string
		available bool
	)
	return &Command{
		Name:    "workers",
		Summary: "List recently seen workers",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("workers", pflag.ContinueOnError)
			flags.StringVar(&workgroup, "workgroup", "", "workgroup to list (default: the controller's)")
			flags.BoolVar(&available, "available", false, "only workers with no session")
			return flags
		},
		Run: func(args []string) error {
			var result workersResult
			if err := a.call("workers", map[string]any{"workgroup": workgroup, "available": available}, &result); err != nil {
				return err
			}
			if done, err := a.emitJSON(result.Workers); done {
				return err
			}
			now := a.clock.Now()
			tw := a.table("GUID\tENDPOINT\tWORKGROUP\tLAST SEEN\tCPU\tRAM\tSESSION\tPROGRESS")
			for _, worker := range result.Workers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%.0f%% of %.0fGB\t%s\t%s\n",
					worker.GUID, worker.Endpoint(), worker.Workgroup, age(worker.LastSeen, now),
					worker.CPUUsage*100, worker.RAMUsage*100, worker.TotalRAM,
					orDash(worker.SessionGUID), orDash(worker.VrayProgress))
			}
			return tw.Flush()
		},
	}
}

func (a *app) sessionsCommand() *Command {
	var all bool
	return &Command{
		Name:    "sessions",
		Summary: "List open sessions",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("sessions", pflag.ContinueOnError)
			flags.BoolVar(&all, "all", false, "include sessions that have ended")
			return flags
		},
		Run: func(args []string) error {
			var result sessionsResult
			if err := a.call("sessions", map[string]any{"all": all}, &result); err != nil {
				return err
			}
			if done, err := a.emitJSON(result.Sessions); done {
				return err
			}
			now := a.clock.Now()
			tw := a.table("GUID\tSTATE\tWORKER\tSCENE\tIDLE\tTTL")
			for _, session := range result.Sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%ds\n",
					session.GUID, session.State(), orDash(session.WorkerGUID),
					orDash(session.SceneFilename), age(session.LastSeen, now), session.TTLSeconds)
			}
			return tw.Flush()
		},
	}
}

func (a *app) openSessionCommand() *Command {
	var (
		apiKey    string
		worker    string
		scene     string
		workspace string
		ttl       int
		debug     bool
	)
	return &Command{
		Name:    "open-session",
		Summary: "Open a session bound to a worker",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("open-session", pflag.ContinueOnError)
			flags.StringVar(&apiKey, "api-key", "", "credential that owns the session (required)")
			flags.StringVar(&worker, "worker", "", "worker to bind (default: any available)")
			flags.StringVar(&scene, "scene", "", "scene file the worker opens")
			flags.StringVar(&workspace, "workspace", "", "workspace GUID holding the scene")
			flags.IntVar(&ttl, "ttl", 0, "idle lifetime in seconds (default: the controller's)")
			flags.BoolVar(&debug, "debug", false, "mark the session for debugging")
			return flags
		},
		Run: func(args []string) error {
			if apiKey == "" {
				return fault.New(fault.Schema, "open-session", "--api-key is required")
			}
			var result sessionResult
			err := a.call("open-session", map[string]any{
				"api_key":        apiKey,
				"worker_guid":    worker,
				"scene_filename": scene,
				"workspace_guid": workspace,
				"ttl_seconds":    ttl,
				"debug":          debug,
			}, &result)
			if err != nil {
				return err
			}
			return a.printSession(result.Session)
		},
	}
}

// sessionCommand builds the commands that take one session GUID and
// return the updated session.
func (a *app) sessionCommand(action, summary string) *Command {
	return &Command{
		Name:    action,
		Summary: summary,
		Usage:   "renderfarm " + action + " <session>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fault.New(fault.Schema, action, "expected exactly one session GUID")
			}
			var result sessionResult
			if err := a.call(action, map[string]any{"session": args[0]}, &result); err != nil {
				return err
			}
			return a.printSession(result.Session)
		},
	}
}

func (a *app) printSession(session schema.Session) error {
	if done, err := a.emitJSON(session); done {
		return err
	}
	fmt.Fprintf(a.out, "%s %s on worker %s\n", session.GUID, session.State(), orDash(session.WorkerGUID))
	return nil
}

func (a *app) jobsCommand() *Command {
	var (
		session string
		states  []string
		active  bool
	)
	return &Command{
		Name:    "jobs",
		Summary: "List jobs",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("jobs", pflag.ContinueOnError)
			flags.StringVar(&session, "session", "", "only jobs of this session")
			flags.StringSliceVar(&states, "state", nil, "only jobs in these states (repeatable)")
			flags.BoolVar(&active, "active", false, "only jobs the controller is running now")
			return flags
		},
		Run: func(args []string) error {
			var result jobsResult
			err := a.call("jobs", map[string]any{
				"session": session,
				"states":  states,
				"active":  active,
			}, &result)
			if err != nil {
				return err
			}
			if done, err := a.emitJSON(result.Jobs); done {
				return err
			}
			tw := a.table("GUID\tSTATE\tSESSION\tWORKER\tCAMERA\tSIZE\tDETAIL")
			for _, job := range result.Jobs {
				detail := job.FailReason
				if job.State == schema.JobCompleted {
					detail = strings.Join(job.URLs, ",")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dx%d\t%s\n",
					job.GUID, job.State, job.SessionGUID, orDash(job.WorkerGUID),
					job.CameraName, job.RenderWidth, job.RenderHeight, orDash(detail))
			}
			return tw.Flush()
		},
	}
}

func (a *app) submitCommand() *Command {
	var (
		session  string
		camera   string
		width    int
		height   int
		preset   string
		settings []string
	)
	return &Command{
		Name:    "submit",
		Summary: "Submit a render job to a session",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("submit", pflag.ContinueOnError)
			flags.StringVar(&session, "session", "", "session to render in (required)")
			flags.StringVar(&camera, "camera", "", "camera to render through (required)")
			flags.IntVar(&width, "width", 1920, "output width in pixels")
			flags.IntVar(&height, "height", 1080, "output height in pixels")
			flags.StringVar(&preset, "preset", "", "render preset (default: the controller's)")
			flags.StringArrayVar(&settings, "set", nil, "renderer setting override name=value (repeatable)")
			return flags
		},
		Run: func(args []string) error {
			if session == "" || camera == "" {
				return fault.New(fault.Schema, "submit", "--session and --camera are required")
			}
			overrides, err := parseSettings(settings)
			if err != nil {
				return err
			}
			var result jobResult
			err = a.call("submit-job", map[string]any{
				"session":         session,
				"camera_name":     camera,
				"render_width":    width,
				"render_height":   height,
				"render_preset":   preset,
				"render_settings": overrides,
			}, &result)
			if err != nil {
				return err
			}
			if done, err := a.emitJSON(result); done {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", result.Job.GUID, result.Job.State)
			if result.URL != "" {
				fmt.Fprintf(a.out, "output: %s\n", result.URL)
			}
			return nil
		},
	}
}

// parseSettings turns name=value pairs into typed setting values:
// integers, floats, and booleans are parsed, anything else is kept as
// text.
func parseSettings(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	settings := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" || value == "" {
			return nil, fault.New(fault.Schema, "submit", "setting %q is not name=value", pair)
		}
		if integer, err := strconv.ParseInt(value, 10, 64); err == nil {
			settings[name] = integer
		} else if number, err := strconv.ParseFloat(value, 64); err == nil {
			settings[name] = number
		} else if flag, err := strconv.ParseBool(value); err == nil {
			settings[name] = flag
		} else {
			settings[name] = value
		}
	}
	return settings, nil
}

func (a *app) cancelCommand() *Command {
	return &Command{
		Name:    "cancel",
		Summary: "Cancel a running job",
		Usage:   "renderfarm cancel <job>...",
		Run: func(args []string) error {
			if len(args) == 0 {
				return fault.New(fault.Schema, "cancel", "expected at least one job GUID")
			}
			for _, guid := range args {
				var result jobResult
				if err := a.call("cancel-job", map[string]any{"job": guid}, &result); err != nil {
					return err
				}
				if done, err := a.emitJSON(result.Job); done {
					if err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(a.out, "%s %s\n", result.Job.GUID, result.Job.State)
			}
			return nil
		},
	}
}

func (a *app) sweepCommand() *Command {
	return &Command{
		Name:    "sweep",
		Summary: "Delete dead workers and reap idle sessions now",
		Run: func(args []string) error {
			var result sweepResult
			if err := a.call("sweep", nil, &result); err != nil {
				return err
			}
			if done, err := a.emitJSON(result); done {
				return err
			}
			fmt.Fprintf(a.out, "deleted %d dead workers, ended %d sessions\n", result.DeletedWorkers, result.EndedSessions)
			return nil
		},
	}
}
