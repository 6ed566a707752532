// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package maxscript

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

func TestRenderSceneScript(t *testing.T) {
	script, err := RenderSceneScript(RenderRequest{
		Camera:     "Camera001",
		Width:      800,
		Height:     600,
		OutputPath: `C:\Temp\job-1.png`,
		Settings: map[string]any{
			"imageSampler_type":    uint64(1),
			"dmc_earlyTermination": 0.01,
			"gi_on":                true,
			"output_splitgbuffer":  "false",
		},
		UploadURL: "https://farm.example/v1/renderoutput",
	})
	if err != nil {
		t.Fatalf("RenderSceneScript: %v", err)
	}

	want := strings.Join([]string{
		"pngio.settype(#true24) ;",
		"pngio.setAlpha false ;",
		"vr = renderers.current ;",
		"vr.dmc_earlyTermination = 0.01 ;",
		"vr.gi_on = true ;",
		"vr.imageSampler_type = 1 ;",
		"vr.output_splitgbuffer = false ;",
		"viewport.setLayout #layout_1 ;",
		"viewport.setCamera $Camera001 ;",
		"renderWidth  = 800 ;",
		"renderHeight = 600 ;",
		"rendUseActiveView = true ;",
		"rendSaveFile = true ;",
		`rendOutputFilename = "C:\\Temp\\job-1.png" ;`,
		"max quick render ;",
		`cmdexRun "C:\\bin\\curl.exe -F file=@C:\\Temp\\job-1.png https://farm.example/v1/renderoutput"`,
	}, "\r\n")
	if script != want {
		t.Errorf("script mismatch\ngot:\n%s\nwant:\n%s", script, want)
	}
}

func TestRenderSceneScriptQuotesCameraWithSpaces(t *testing.T) {
	script, err := RenderSceneScript(RenderRequest{
		Camera: "Hall Camera", Width: 1, Height: 1,
		OutputPath: `C:\Temp\x.png`, UploadURL: "https://farm.example/v1/renderoutput",
	})
	if err != nil {
		t.Fatalf("RenderSceneScript: %v", err)
	}
	if !strings.Contains(script, "viewport.setCamera $'Hall Camera' ;") {
		t.Errorf("camera path not quoted:\n%s", script)
	}
}

func TestRenderSceneScriptRejectsBadInput(t *testing.T) {
	base := RenderRequest{
		Camera: "Camera001", Width: 640, Height: 480,
		OutputPath: `C:\Temp\x.png`, UploadURL: "https://farm.example/v1/renderoutput",
	}
	tests := []struct {
		name   string
		mutate func(*RenderRequest)
	}{
		{"no camera", func(r *RenderRequest) { r.Camera = "" }},
		{"quote in camera", func(r *RenderRequest) { r.Camera = "it's" }},
		{"zero width", func(r *RenderRequest) { r.Width = 0 }},
		{"no upload url", func(r *RenderRequest) { r.UploadURL = "" }},
		{"bad setting name", func(r *RenderRequest) { r.Settings = map[string]any{"x; deleteFile": 1} }},
		{"unsupported value", func(r *RenderRequest) { r.Settings = map[string]any{"x": []int{1}} }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := base
			test.mutate(&request)
			if _, err := RenderSceneScript(request); !fault.Is(err, fault.Schema) {
				t.Errorf("RenderSceneScript = %v, want schema error", err)
			}
		})
	}
}

func TestWorkspaceScripts(t *testing.T) {
	workspace := Workspace{HomeDir: `C:\renderfarm`, APIKey: "key-1", GUID: "ws-1"}

	wantWorkspace := strings.Join([]string{
		"for i=1 to pathConfig.mapPaths.count() do ( pathConfig.mapPaths.delete 1 )",
		"for i=1 to pathConfig.xrefPaths.count() do ( pathConfig.xrefPaths.delete 1 )",
		`pathConfig.mapPaths.add "C:\\renderfarm\\api-keys\\key-1\\workspaces\\ws-1\\maps"`,
		`pathConfig.xrefPaths.add "C:\\renderfarm\\api-keys\\key-1\\workspaces\\ws-1\\xrefs"`,
	}, "\r\n")
	if got := SetWorkspaceScript(workspace); got != wantWorkspace {
		t.Errorf("SetWorkspaceScript:\n%s\nwant:\n%s", got, wantWorkspace)
	}

	open := OpenSceneScript("room.max", workspace)
	if !strings.Contains(open, `sceneFilename = "C:\\renderfarm\\api-keys\\key-1\\workspaces\\ws-1\\scenes\\room.max" ;`) {
		t.Errorf("OpenSceneScript does not load from the workspace scenes dir:\n%s", open)
	}
	if !strings.Contains(open, `print "OK | scene open"`) {
		t.Errorf("OpenSceneScript lacks the success line:\n%s", open)
	}
}

func TestSimpleScripts(t *testing.T) {
	if got := ResetSceneScript(); got != "resetMaxFile #noPrompt" {
		t.Errorf("ResetSceneScript = %q", got)
	}
	if got := SetSessionScript(`s"1`); got != `SessionGuid = "s\"1"` {
		t.Errorf("SetSessionScript = %q", got)
	}
}
