// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package renderpreset loads named renderer-setting presets.
//
// Presets are authored as JSONC (JSON with // and /* */ comments and
// trailing commas):
//
//	{
//	  "presets": {
//	    "preview": {
//	      "description": "fast, noisy",
//	      "extends": "production",
//	      "settings": { "imageSampler_type": 0 },
//	    },
//	  },
//	}
//
// A preset may extend one other preset; its settings are laid over the
// parent's. A job's renderer settings are its preset's resolved
// settings with the job's explicit settings laid over those.
//
// A small set of presets is built in. A presets file named in the
// configuration adds to them and replaces built-in presets of the same
// name.
package renderpreset
