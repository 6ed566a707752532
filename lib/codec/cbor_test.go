// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalSettingsDeterministic(t *testing.T) {
	// Two maps with identical content built in different insertion
	// orders must encode to identical bytes.
	first := map[string]any{}
	first["imageSampler_type"] = 1
	first["gi_on"] = true
	first["dmc_earlyTermination_amount"] = 0.85

	second := map[string]any{}
	second["dmc_earlyTermination_amount"] = 0.85
	second["gi_on"] = true
	second["imageSampler_type"] = 1

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal(first): %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal(second): %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("encoding depends on insertion order: %x != %x", firstBytes, secondBytes)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"fov": 45}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", top["nested"])
	}
}

func TestStreamCarriesSequentialValues(t *testing.T) {
	type request struct {
		Action string `cbor:"action"`
		Job    string `cbor:"job,omitempty"`
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, action := range []string{"status", "cancel-job"} {
		if err := encoder.Encode(request{Action: action, Job: "j-1"}); err != nil {
			t.Fatalf("Encode(%s): %v", action, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"status", "cancel-job"} {
		var got request
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Action != want {
			t.Errorf("Action = %q, want %q", got.Action, want)
		}
	}
}

func TestDuplicateKeysRejected(t *testing.T) {
	// {"gi_on": true, "gi_on": false}
	data := []byte{0xa2, 0x65, 'g', 'i', '_', 'o', 'n', 0xf5, 0x65, 'g', 'i', '_', 'o', 'n', 0xf4}

	var settings map[string]any
	if err := Unmarshal(data, &settings); err == nil {
		t.Errorf("Unmarshal accepted a repeated key: %v", settings)
	}

	var request struct {
		GIOn bool `cbor:"gi_on"`
	}
	if err := Unmarshal(data, &request); err == nil {
		t.Error("Unmarshal into a struct accepted a repeated key")
	}
}
