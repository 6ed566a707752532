// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"strconv"
	"strings"
)

// Artifacts names where a job's render lands: a PNG on the worker
// host, uploaded to the controller's public render output endpoint.
type Artifacts struct {
	// PublicURL is the externally reachable base URL, without a
	// trailing slash.
	PublicURL string

	// MajorVersion is the API version segment ("v1").
	MajorVersion int

	// WorkerTempDir is the directory on the worker host that receives
	// the PNG before upload.
	WorkerTempDir string

	// CurlPath is the upload tool on the worker host. Empty uses the
	// script builder's default.
	CurlPath string
}

// OutputPath is the worker-local PNG path for a job.
func (a Artifacts) OutputPath(jobGUID string) string {
	return strings.TrimRight(a.WorkerTempDir, `\`) + `\` + jobGUID + ".png"
}

// UploadURL is the endpoint the worker posts the PNG to.
func (a Artifacts) UploadURL() string {
	return strings.TrimRight(a.PublicURL, "/") + "/v" + strconv.Itoa(a.MajorVersion) + "/renderoutput"
}

// URL is the public location of a job's PNG once uploaded.
func (a Artifacts) URL(jobGUID string) string {
	return a.UploadURL() + "/" + jobGUID + ".png"
}
