// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package chaincache

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-datastore"
	"github.com/project-illium/lantern/types"
)

const dsBlockPrefix = "/lantern/block/"

var dsTipKey = datastore.NewKey("/lantern/tip")

func blockKey(height uint32) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("%s%010d", dsBlockPrefix, height))
}

// persistBlock writes blk through to the datastore, trims evicted
// heights and advances the persisted tip in a single batch.
func persistBlock(ds datastore.Batching, blk *types.CompactBlock, evicted []uint32) error {
	ctx := context.Background()
	batch, err := ds.Batch(ctx)
	if err != nil {
		return err
	}

	ser, err := cbor.Marshal(blk)
	if err != nil {
		return err
	}
	if err := batch.Put(ctx, blockKey(blk.Height()), ser); err != nil {
		return err
	}
	for _, h := range evicted {
		if err := batch.Delete(ctx, blockKey(h)); err != nil {
			return err
		}
	}

	tip, err := cbor.Marshal(&types.ChainTip{Height: blk.Height(), ID: blk.ID()})
	if err != nil {
		return err
	}
	if err := batch.Put(ctx, dsTipKey, tip); err != nil {
		return err
	}
	return batch.Commit(ctx)
}

// removeBlocks deletes orphaned heights and rewinds the persisted tip.
func removeBlocks(ds datastore.Batching, orphaned []uint32, newTip types.ChainTip) error {
	ctx := context.Background()
	batch, err := ds.Batch(ctx)
	if err != nil {
		return err
	}
	for _, h := range orphaned {
		if err := batch.Delete(ctx, blockKey(h)); err != nil {
			return err
		}
	}
	tip, err := cbor.Marshal(&newTip)
	if err != nil {
		return err
	}
	if err := batch.Put(ctx, dsTipKey, tip); err != nil {
		return err
	}
	return batch.Commit(ctx)
}

// loadSnapshot rebuilds the cached window from the datastore. A fresh
// datastore yields an empty snapshot, not an error.
func loadSnapshot(ds datastore.Batching, window uint32) (*snapshot, error) {
	ctx := context.Background()

	raw, err := ds.Get(ctx, dsTipKey)
	if errors.Is(err, datastore.ErrNotFound) {
		return newSnapshot(), nil
	}
	if err != nil {
		return nil, err
	}
	var tip types.ChainTip
	if err := cbor.Unmarshal(raw, &tip); err != nil {
		return nil, err
	}

	start := uint32(0)
	if tip.Height+1 > window {
		start = tip.Height + 1 - window
	}

	snap := newSnapshot()
	for h := start; h <= tip.Height; h++ {
		raw, err := ds.Get(ctx, blockKey(h))
		if errors.Is(err, datastore.ErrNotFound) {
			// A hole below the tip invalidates everything beneath it;
			// restart the window from the next height up.
			snap = newSnapshot()
			continue
		}
		if err != nil {
			return nil, err
		}
		blk := new(types.CompactBlock)
		if err := cbor.Unmarshal(raw, blk); err != nil {
			return nil, err
		}
		next, _ := snap.extend(blk, window)
		snap = next
	}
	return snap, nil
}
