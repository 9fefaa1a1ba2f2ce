// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package rpc exposes the lightwallet service over gRPC. The wire
// schema is an opaque message contract serialized with CBOR; no
// protobuf code generation is involved. The same message types are
// reused verbatim by the mixnet bridge.
package rpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

const codecName = "cbor"

// CBORCodec implements grpc/encoding.Codec using canonical CBOR.
type CBORCodec struct{}

func (CBORCodec) Marshal(v any) ([]byte, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal: %w", err)
	}
	return data, nil
}

func (CBORCodec) Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal: %w", err)
	}
	return nil
}

func (CBORCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(CBORCodec{})
}
