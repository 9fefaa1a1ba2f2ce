// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package chaincache

import (
	"errors"
	"fmt"
)

var (
	// ErrEvicted is returned when the requested height has fallen out of
	// the cache's retention window. The caller should fetch the block
	// from the node directly or adjust its query.
	ErrEvicted = errors.New("block evicted from cache window")

	// ErrNotYetFetched is returned when the requested height is above
	// the cached tip.
	ErrNotYetFetched = errors.New("block not yet fetched")

	// ErrCacheFailed is returned for new subscriptions after the cache
	// has entered the Failed state. Recovery requires an external
	// resync; the cache never silently repairs a too-deep reorg.
	ErrCacheFailed = errors.New("cache is in failed state")
)

// ReorgDepthError is the fatal error recorded when the node reports a
// branch whose common ancestor lies deeper than the configured maximum
// reorg depth.
type ReorgDepthError struct {
	MaxDepth uint32
}

func (e ReorgDepthError) Error() string {
	return fmt.Sprintf("reorg exceeds max depth %d", e.MaxDepth)
}

// AssertError identifies an error that indicates an internal code
// consistency issue and should be treated as a critical and
// unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and
// satisfies the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}
