// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the node does not have the requested
	// block or transaction. It is never retried.
	ErrNotFound = errors.New("not found")

	// ErrNodeUnreachable is returned after the retry budget for a call
	// has been exhausted. Callers decide whether to back off further or
	// surface a degraded-health signal.
	ErrNodeUnreachable = errors.New("node unreachable")

	// ErrUnauthorized is returned when the node refuses the configured
	// RPC credentials. It is never retried.
	ErrUnauthorized = errors.New("node rejected rpc credentials")
)

// RejectionError is returned by SubmitTransaction when the node accepted
// the call but rejected the transaction itself.
type RejectionError struct {
	Reason string
}

func (e RejectionError) Error() string {
	return "transaction rejected: " + e.Reason
}

// RPCError is a structured error returned by the node's JSON-RPC
// interface.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
