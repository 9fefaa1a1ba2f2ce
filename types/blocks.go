// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package types

import "time"

// BlockHeader is the subset of a block header that the serving layer
// tracks. Continuity of the canonical chain is judged solely on
// Parent matching the ID of the block at Height-1.
type BlockHeader struct {
	Height    uint32 `cbor:"height" json:"height"`
	ID        ID     `cbor:"id" json:"hash"`
	Parent    ID     `cbor:"parent" json:"previousblockhash"`
	Timestamp int64  `cbor:"timestamp" json:"time"`
}

// CompactTx is the pruned transaction summary carried inside a
// CompactBlock. The Outputs payload is opaque to the serving layer;
// light clients trial-decrypt it.
type CompactTx struct {
	Txid    ID       `cbor:"txid" json:"txid"`
	Index   uint32   `cbor:"index" json:"index"`
	Outputs [][]byte `cbor:"outputs" json:"outputs"`
}

// CompactBlock is the pruned block representation served to light
// clients: a header plus transaction summaries.
type CompactBlock struct {
	Header       BlockHeader `cbor:"header" json:"header"`
	Transactions []CompactTx `cbor:"transactions" json:"transactions"`
}

// ID returns the block's hash.
func (b *CompactBlock) ID() ID {
	return b.Header.ID
}

// Height returns the block's height.
func (b *CompactBlock) Height() uint32 {
	return b.Header.Height
}

// ChainTip identifies the highest block currently considered canonical.
type ChainTip struct {
	Height uint32 `cbor:"height"`
	ID     ID     `cbor:"id"`
}

// MempoolEntry is a transaction currently pending in the node's mempool.
type MempoolEntry struct {
	Txid      ID        `cbor:"txid" json:"txid"`
	Raw       []byte    `cbor:"raw" json:"hex"`
	FirstSeen time.Time `cbor:"firstseen" json:"-"`
}
