// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import "github.com/project-illium/lantern/types"

// Request/response types for the lightwallet service. These are used
// at the gRPC serialization boundary and inside mixnet envelopes.

// GetTipRequest requests the current chain tip.
type GetTipRequest struct{}

// TipResponse is the current chain tip.
type TipResponse struct {
	Height uint32   `cbor:"height"`
	Hash   types.ID `cbor:"hash"`
}

// GetBlockRequest requests the compact block at a height.
type GetBlockRequest struct {
	Height uint32 `cbor:"height"`
}

// GetBlockRangeRequest requests the compact blocks for the inclusive
// height range [Start, End], streamed in ascending order.
type GetBlockRangeRequest struct {
	Start uint32 `cbor:"start"`
	End   uint32 `cbor:"end"`
}

// GetMempoolRequest requests the full pending transaction set.
type GetMempoolRequest struct{}

// MempoolResponse carries the full pending set and its generation.
type MempoolResponse struct {
	Generation uint64               `cbor:"generation"`
	Entries    []types.MempoolEntry `cbor:"entries"`
}

// GetMempoolDiffRequest requests the mempool changes since a
// previously observed generation. Generation 0 requests the full set.
type GetMempoolDiffRequest struct {
	Generation uint64 `cbor:"generation"`
}

// MempoolDiffResponse carries the cumulative changes between the
// requested generation and Generation.
type MempoolDiffResponse struct {
	Added      []types.ID `cbor:"added"`
	Removed    []types.ID `cbor:"removed"`
	Generation uint64     `cbor:"generation"`
}

// SubmitTransactionRequest relays a raw transaction to the node.
type SubmitTransactionRequest struct {
	Raw []byte `cbor:"raw"`
}

// SubmitTransactionResponse acknowledges a relayed transaction.
type SubmitTransactionResponse struct {
	Txid types.ID `cbor:"txid"`
}

// GetTransactionRequest requests a raw transaction by ID.
type GetTransactionRequest struct {
	Txid types.ID `cbor:"txid"`
}

// RawTransactionResponse is a raw transaction and the height it was
// mined at, or 0 if unmined.
type RawTransactionResponse struct {
	Raw    []byte `cbor:"raw"`
	Height uint32 `cbor:"height"`
}

// GetServerInfoRequest requests information about this server.
type GetServerInfoRequest struct{}

// ServerInfoResponse describes this server and its view of the chain.
type ServerInfoResponse struct {
	Version           string   `cbor:"version"`
	Vendor            string   `cbor:"vendor"`
	ChainName         string   `cbor:"chainname"`
	TipHeight         uint32   `cbor:"tipheight"`
	TipHash           types.ID `cbor:"tiphash"`
	Health            string   `cbor:"health"`
	MempoolGeneration uint64   `cbor:"mempoolgeneration"`
}

// SubscribeBlocksRequest opens a block subscription. FromHeight 0
// subscribes from the next connected block; any other value backfills
// from that height first.
type SubscribeBlocksRequest struct {
	FromHeight uint32 `cbor:"fromheight"`
}

// BlockNotificationType discriminates the payload of a
// BlockNotification.
type BlockNotificationType uint8

const (
	// BNBlock carries a connected compact block.
	BNBlock BlockNotificationType = iota

	// BNGap informs the client that the server dropped one or more
	// blocks because the client was too slow. The client recovers the
	// range with GetBlockRange.
	BNGap

	// BNReorg informs the client that heights above CommonAncestor were
	// orphaned and will be re-delivered under the new branch.
	BNReorg
)

// GapNotice identifies the inclusive height range the client must
// recover with a point query.
type GapNotice struct {
	FromHeight uint32 `cbor:"fromheight"`
	ToHeight   uint32 `cbor:"toheight"`
}

// ReorgNotice identifies the highest height still valid after a chain
// reorganization.
type ReorgNotice struct {
	CommonAncestor uint32 `cbor:"commonancestor"`
}

// BlockNotification is one item on a block subscription stream.
// Exactly one of Block, Gap and Reorg is set, per Type.
type BlockNotification struct {
	Type  BlockNotificationType `cbor:"type"`
	Block *types.CompactBlock   `cbor:"block,omitempty"`
	Gap   *GapNotice            `cbor:"gap,omitempty"`
	Reorg *ReorgNotice          `cbor:"reorg,omitempty"`
}
