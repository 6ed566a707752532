// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package maxscript

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

const crlf = "\r\n"

// DefaultCurlPath is where worker hosts keep curl.exe.
const DefaultCurlPath = `C:\bin\curl.exe`

// Workspace locates a client's uploaded assets on the worker host's
// disk: <HomeDir>\api-keys\<APIKey>\workspaces\<GUID>\{scenes,maps,xrefs}.
type Workspace struct {
	HomeDir string
	APIKey  string
	GUID    string
}

func (w Workspace) dir(kind string) string {
	return strings.Join([]string{w.HomeDir, "api-keys", w.APIKey, "workspaces", w.GUID, kind}, `\`)
}

// RenderRequest is one camera render.
type RenderRequest struct {
	Camera string
	Width  int
	Height int

	// OutputPath is the PNG path on the worker host.
	OutputPath string

	// Settings are assigned to the current renderer (vr.<name> = value)
	// before rendering.
	Settings map[string]any

	// UploadURL receives the PNG as a multipart upload once the render
	// finishes.
	UploadURL string

	// CurlPath defaults to DefaultCurlPath.
	CurlPath string
}

var settingName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Quote returns s as a MAXScript string literal.
func Quote(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
	return `"` + escaped + `"`
}

// ResetSceneScript discards the open scene without prompting.
func ResetSceneScript() string {
	return "resetMaxFile #noPrompt"
}

// SetSessionScript records the session GUID in a host global.
func SetSessionScript(sessionGUID string) string {
	return "SessionGuid = " + Quote(sessionGUID)
}

// SetWorkspaceScript replaces the host's map and xref search paths with
// the workspace's directories.
func SetWorkspaceScript(workspace Workspace) string {
	return strings.Join([]string{
		"for i=1 to pathConfig.mapPaths.count() do ( pathConfig.mapPaths.delete 1 )",
		"for i=1 to pathConfig.xrefPaths.count() do ( pathConfig.xrefPaths.delete 1 )",
		"pathConfig.mapPaths.add " + Quote(workspace.dir("maps")),
		"pathConfig.xrefPaths.add " + Quote(workspace.dir("xrefs")),
	}, crlf)
}

// OpenSceneScript resets the host and loads sceneFilename from the
// workspace's scenes directory. The script prints "OK | scene open" on
// success and a FAIL line otherwise.
func OpenSceneScript(sceneFilename string, workspace Workspace) string {
	path := workspace.dir("scenes") + `\` + sceneFilename
	return strings.Join([]string{
		"resetMaxFile #noPrompt ;",
		"disableSceneRedraw() ;",
		"sceneFilename = " + Quote(path) + " ;",
		"if existFile sceneFilename then (",
		"    sceneLoaded = loadMaxFile sceneFilename useFileUnits:true quiet:true ;",
		"    if sceneLoaded then (",
		`        print "OK | scene open"`,
		"    ) else (",
		`        print "FAIL | failed to load scene"`,
		"    )",
		") else (",
		`    print "FAIL | scene file not found"`,
		")",
	}, crlf)
}

// RenderSceneScript renders request.Camera's view to a 24-bit PNG at
// request.OutputPath and uploads it to request.UploadURL.
func RenderSceneScript(request RenderRequest) (string, error) {
	if request.Camera == "" || strings.ContainsAny(request.Camera, "'\r\n") {
		return "", fault.New(fault.Schema, "render script", "invalid camera name %q", request.Camera)
	}
	if request.Width <= 0 || request.Height <= 0 {
		return "", fault.New(fault.Schema, "render script", "render size %dx%d must be positive", request.Width, request.Height)
	}
	if request.OutputPath == "" || request.UploadURL == "" {
		return "", fault.New(fault.Schema, "render script", "output path and upload url are required")
	}
	curlPath := request.CurlPath
	if curlPath == "" {
		curlPath = DefaultCurlPath
	}

	lines := []string{
		"pngio.settype(#true24) ;",
		"pngio.setAlpha false ;",
		"vr = renderers.current ;",
	}

	names := make([]string, 0, len(request.Settings))
	for name := range request.Settings {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !settingName.MatchString(name) {
			return "", fault.New(fault.Schema, "render script", "invalid renderer setting name %q", name)
		}
		value, err := formatValue(request.Settings[name])
		if err != nil {
			return "", fault.New(fault.Schema, "render script", "renderer setting %s: %v", name, err)
		}
		lines = append(lines, fmt.Sprintf("vr.%s = %s ;", name, value))
	}

	upload := fmt.Sprintf("%s -F file=@%s %s", curlPath, request.OutputPath, request.UploadURL)
	lines = append(lines,
		"viewport.setLayout #layout_1 ;",
		"viewport.setCamera "+nodePath(request.Camera)+" ;",
		fmt.Sprintf("renderWidth  = %d ;", request.Width),
		fmt.Sprintf("renderHeight = %d ;", request.Height),
		"rendUseActiveView = true ;",
		"rendSaveFile = true ;",
		"rendOutputFilename = "+Quote(request.OutputPath)+" ;",
		"max quick render ;",
		"cmdexRun "+Quote(upload),
	)
	return strings.Join(lines, crlf), nil
}

// nodePath returns the MAXScript path literal for a scene node.
func nodePath(name string) string {
	if settingName.MatchString(name) {
		return "$" + name
	}
	return "$'" + name + "'"
}

// formatValue renders a setting value as a MAXScript expression.
// Strings pass through unquoted so presets can use names (#true24) and
// expressions; use a quoted string inside the value for a literal.
func formatValue(value any) (string, error) {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		if v == "" {
			return "", fmt.Errorf("empty value")
		}
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}
