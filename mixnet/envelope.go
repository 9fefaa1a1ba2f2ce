// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package mixnet bridges the lightwallet service onto an anonymous
// transport. Requests arrive as CBOR envelopes carrying a client-chosen
// correlation token and a single-use reply handle; the bridge answers
// through the handle without ever learning who asked.
package mixnet

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// TokenSize is the length of a correlation token in bytes.
const TokenSize = 16

// CorrelationToken is a client-chosen identifier that ties a response
// back to its request. The bridge treats it as opaque: it has meaning
// only to the client that minted it.
type CorrelationToken [TokenSize]byte

// String returns the token as hex.
func (t CorrelationToken) String() string {
	return hex.EncodeToString(t[:])
}

// Method identifies the service operation a mixnet request invokes.
type Method uint8

const (
	MethodGetTip Method = iota + 1
	MethodGetBlock
	MethodGetMempool
	MethodGetMempoolDiff
	MethodGetTransaction
	MethodSubmitTransaction
	MethodGetServerInfo
)

var methodStrings = map[Method]string{
	MethodGetTip:            "GetTip",
	MethodGetBlock:          "GetBlock",
	MethodGetMempool:        "GetMempool",
	MethodGetMempoolDiff:    "GetMempoolDiff",
	MethodGetTransaction:    "GetTransaction",
	MethodSubmitTransaction: "SubmitTransaction",
	MethodGetServerInfo:     "GetServerInfo",
}

// String returns the Method in human-readable form.
func (m Method) String() string {
	if s, ok := methodStrings[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

// Request is the CBOR payload of an inbound envelope. Body holds the
// CBOR encoding of the method's request message.
type Request struct {
	Token  CorrelationToken `cbor:"token"`
	Method Method           `cbor:"method"`
	Body   []byte           `cbor:"body,omitempty"`
}

// Response is the CBOR payload sent back through the reply handle.
// Status carries a gRPC status code; 0 means OK and Body holds the
// CBOR encoding of the method's response message.
type Response struct {
	Token  CorrelationToken `cbor:"token"`
	Status uint32           `cbor:"status"`
	Error  string           `cbor:"error,omitempty"`
	Body   []byte           `cbor:"body,omitempty"`
}

// Envelope is one message received from the anonymous transport.
type Envelope struct {
	// ReplyTag is the opaque single-use handle the transport uses to
	// route the response back to the sender.
	ReplyTag []byte

	// Payload is the CBOR-encoded Request.
	Payload []byte
}

// Transport is the capability set the bridge requires from an
// anonymous messaging layer.
type Transport interface {
	// Receive returns the channel inbound envelopes are delivered on.
	// The transport closes it when it shuts down.
	Receive() <-chan *Envelope

	// SendReply routes a payload back through a single-use reply
	// handle.
	SendReply(replyTag []byte, payload []byte) error
}

// decodeRequest parses an envelope payload.
func decodeRequest(payload []byte) (*Request, error) {
	req := new(Request)
	if err := cbor.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}
