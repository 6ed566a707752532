// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package renderpreset

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/renderfarm/lib/fault"
)

//go:embed builtin.jsonc
var builtinSource []byte

// Preset is a named set of renderer settings.
type Preset struct {
	Description string         `json:"description,omitempty"`
	Extends     string         `json:"extends,omitempty"`
	Settings    map[string]any `json:"settings"`
}

type file struct {
	Presets map[string]Preset `json:"presets"`
}

// Set is a validated collection of presets.
type Set struct {
	presets map[string]Preset
}

// Parse strips JSONC comments and trailing commas from data and parses
// the presets it defines.
func Parse(data []byte) (*Set, error) {
	var parsed file
	if err := json.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
		return nil, fmt.Errorf("parsing render presets: %w", err)
	}
	set := &Set{presets: parsed.Presets}
	if set.presets == nil {
		set.presets = make(map[string]Preset)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// ReadFile reads and parses a JSONC presets file.
func ReadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Builtin returns the presets compiled into the binary.
func Builtin() *Set {
	set, err := Parse(builtinSource)
	if err != nil {
		panic("renderpreset: built-in presets are invalid: " + err.Error())
	}
	return set
}

// Load returns the built-in presets overlaid with the presets in path.
// An empty path returns the built-in presets alone.
func Load(path string) (*Set, error) {
	builtin := Builtin()
	if path == "" {
		return builtin, nil
	}
	overlay, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return builtin.Overlay(overlay)
}

// Overlay returns a new Set holding s's presets replaced and extended
// by other's.
func (s *Set) Overlay(other *Set) (*Set, error) {
	merged := &Set{presets: maps.Clone(s.presets)}
	maps.Copy(merged.presets, other.presets)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Names returns the preset names in sorted order.
func (s *Set) Names() []string {
	return slices.Sorted(maps.Keys(s.presets))
}

// Get returns the named preset as written, without resolving Extends.
func (s *Set) Get(name string) (Preset, bool) {
	preset, ok := s.presets[name]
	return preset, ok
}

// Validate checks that every Extends names a preset, that no chain of
// Extends loops, and that every setting value is a scalar.
func (s *Set) Validate() error {
	var errs []error
	for _, name := range s.Names() {
		preset := s.presets[name]
		if preset.Extends != "" {
			if _, ok := s.presets[preset.Extends]; !ok {
				errs = append(errs, fmt.Errorf("preset %q extends unknown preset %q", name, preset.Extends))
			}
		}
		for key, value := range preset.Settings {
			switch value.(type) {
			case bool, float64, string:
			default:
				errs = append(errs, fmt.Errorf("preset %q setting %q: value must be a bool, number, or string", name, key))
			}
		}
		if _, err := s.chain(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// chain returns name followed by its ancestors, nearest first.
func (s *Set) chain(name string) ([]string, error) {
	var chain []string
	seen := make(map[string]bool)
	for current := name; current != ""; current = s.presets[current].Extends {
		if seen[current] {
			return nil, fmt.Errorf("preset %q: extends loop %s", name, strings.Join(append(chain, current), " -> "))
		}
		if _, ok := s.presets[current]; !ok {
			break
		}
		seen[current] = true
		chain = append(chain, current)
	}
	return chain, nil
}

// Resolve returns the settings for a job: the named preset's settings
// (with its ancestors' beneath them) overlaid with overrides. An empty
// name uses overrides alone. An unknown name is a NotFound error.
func (s *Set) Resolve(name string, overrides map[string]any) (map[string]any, error) {
	resolved := make(map[string]any)
	if name != "" {
		if _, ok := s.presets[name]; !ok {
			return nil, fault.New(fault.NotFound, "resolve render preset", "preset %q not found", name)
		}
		chain, err := s.chain(name)
		if err != nil {
			return nil, err
		}
		for i := len(chain) - 1; i >= 0; i-- {
			maps.Copy(resolved, s.presets[chain[i]].Settings)
		}
	}
	maps.Copy(resolved, overrides)
	return resolved, nil
}
