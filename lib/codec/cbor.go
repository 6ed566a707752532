// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Control requests and stored render settings are flat maps of scalars.
// Equal settings encode to equal blobs, so encoding is Core
// Deterministic.
var (
	encMode = mustEncMode(cbor.CoreDetEncOptions())

	decMode = mustDecMode(cbor.DecOptions{
		// Settings decoded into any are handed to the script builder,
		// which expects string keys.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),

		// A request that names "session" twice, or settings that set
		// the same renderer property twice, are rejected.
		DupMapKey: cbor.DupMapKeyEnforcedAPF,

		MaxNestedLevels: 16,
	})
)

func mustEncMode(options cbor.EncOptions) cbor.EncMode {
	mode, err := options.EncMode()
	if err != nil {
		panic("codec: CBOR encoder options: " + err.Error())
	}
	return mode
}

func mustDecMode(options cbor.DecOptions) cbor.DecMode {
	mode, err := options.DecMode()
	if err != nil {
		panic("codec: CBOR decoder options: " + err.Error())
	}
	return mode
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Unknown struct fields are ignored;
// duplicate map keys are an error.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is an encoded value decoded later, such as the fields of
// a control request after its action has been read.
type RawMessage = cbor.RawMessage

type (
	Encoder = cbor.Encoder
	Decoder = cbor.Decoder
)

// NewEncoder returns a deterministic stream encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
