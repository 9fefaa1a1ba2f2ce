// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mempool

import "errors"

var (
	// ErrGenerationEvicted is returned by DiffSince when the requested
	// generation is older than the retained diff history. The caller
	// should fall back to CurrentSet and resume diffing from there.
	ErrGenerationEvicted = errors.New("generation evicted from diff history")

	// ErrFutureGeneration is returned by DiffSince when the requested
	// generation is ahead of the tracker's current generation.
	ErrFutureGeneration = errors.New("generation is in the future")
)
