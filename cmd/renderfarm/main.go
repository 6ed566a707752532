// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/renderfarm/lib/clock"
	"github.com/bureau-foundation/renderfarm/lib/process"
	"github.com/bureau-foundation/renderfarm/lib/service"
	"github.com/bureau-foundation/renderfarm/lib/version"
)

// defaultSocketPath matches the controller's default control.socket_path.
const defaultSocketPath = "/run/renderfarm/control.sock"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr, clock.Real()); err != nil {
		process.Fatal(err)
	}
}

// app carries the global flags into every command.
type app struct {
	socketPath string
	jsonOutput bool
	timeout    time.Duration
	out        io.Writer
	clock      clock.Clock
}

func run(args []string, stdout, stderr io.Writer, clk clock.Clock) error {
	a := &app{out: stdout, clock: clk}
	var showVersion bool

	global := pflag.NewFlagSet("renderfarm", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(stderr)
	global.StringVar(&a.socketPath, "socket", socketFromEnvironment(), "controller control socket")
	global.BoolVar(&a.jsonOutput, "json", false, "output as JSON")
	global.DurationVar(&a.timeout, "timeout", 30*time.Second, "per-request timeout")
	global.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "renderfarm %s\n", version.Info())
		return nil
	}

	root := a.root()
	root.helpOutput = stderr
	return root.Execute(global.Args())
}

func socketFromEnvironment() string {
	if path := os.Getenv("RENDERFARM_SOCKET"); path != "" {
		return path
	}
	return defaultSocketPath
}

// call sends one action to the controller.
func (a *app) call(action string, fields map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return service.NewClient(a.socketPath).Call(ctx, action, fields, result)
}
