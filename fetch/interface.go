// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package fetch

import (
	"context"

	"github.com/project-illium/lantern/types"
)

// Fetcher is the capability set the serving layer requires from a full
// node backend. Concrete backends are selected at construction time.
//
// Implementations must be safe for concurrent use. Every method blocks
// on network I/O and honors context cancellation.
type Fetcher interface {
	// BestHeight returns the height of the node's current chain tip.
	BestHeight(ctx context.Context) (uint32, error)

	// FetchBlock returns the compact block at the given height on the
	// node's current best chain. Returns ErrNotFound if the node has
	// no block at that height.
	FetchBlock(ctx context.Context, height uint32) (*types.CompactBlock, error)

	// FetchHeader returns the header at the given height on the node's
	// current best chain.
	FetchHeader(ctx context.Context, height uint32) (*types.BlockHeader, error)

	// FetchHeaderRange returns the headers for heights [start, end],
	// inclusive, ordered by ascending height.
	FetchHeaderRange(ctx context.Context, start, end uint32) ([]types.BlockHeader, error)

	// FetchMempool returns the node's current pending transaction set.
	FetchMempool(ctx context.Context) ([]types.MempoolEntry, error)

	// FetchTransaction returns the raw transaction with the given ID
	// along with the height it was mined at, or 0 if unmined.
	FetchTransaction(ctx context.Context, txid types.ID) ([]byte, uint32, error)

	// SubmitTransaction relays a raw transaction to the node. A
	// RejectionError is returned if the node refuses it.
	SubmitTransaction(ctx context.Context, raw []byte) (types.ID, error)
}
