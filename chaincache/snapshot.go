// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package chaincache

import (
	"github.com/project-illium/lantern/types"
)

// snapshot is an immutable view of the cached chain tail. The writer
// builds a new snapshot for every mutation and publishes it with an
// atomic pointer swap, so readers never observe a partial update and
// never block the writer.
type snapshot struct {
	blocks map[uint32]*types.CompactBlock
	tip    types.ChainTip
	lowest uint32
}

func newSnapshot() *snapshot {
	return &snapshot{blocks: make(map[uint32]*types.CompactBlock)}
}

func (s *snapshot) initialized() bool {
	return len(s.blocks) > 0
}

func (s *snapshot) block(height uint32) (*types.CompactBlock, bool) {
	blk, ok := s.blocks[height]
	return blk, ok
}

func (s *snapshot) hashAt(height uint32) (types.ID, bool) {
	blk, ok := s.blocks[height]
	if !ok {
		return types.ID{}, false
	}
	return blk.Header.ID, true
}

// extend returns a new snapshot with blk appended as the tip. Heights
// falling outside the retention window are evicted; the evicted heights
// are returned so the writer can trim persistent storage to match.
func (s *snapshot) extend(blk *types.CompactBlock, window uint32) (*snapshot, []uint32) {
	next := &snapshot{
		blocks: make(map[uint32]*types.CompactBlock, len(s.blocks)+1),
		tip:    types.ChainTip{Height: blk.Height(), ID: blk.ID()},
		lowest: s.lowest,
	}
	for h, b := range s.blocks {
		next.blocks[h] = b
	}
	next.blocks[blk.Height()] = blk
	if !s.initialized() {
		next.lowest = blk.Height()
	}

	var evicted []uint32
	if next.tip.Height+1 >= window {
		cutoff := next.tip.Height + 1 - window
		for next.lowest <= cutoff {
			if _, ok := next.blocks[next.lowest]; ok {
				delete(next.blocks, next.lowest)
				evicted = append(evicted, next.lowest)
			}
			next.lowest++
		}
	}
	return next, evicted
}

// truncate returns a new snapshot with every height above ancestor
// discarded, along with the list of orphaned heights.
func (s *snapshot) truncate(ancestor uint32) (*snapshot, []uint32) {
	next := &snapshot{
		blocks: make(map[uint32]*types.CompactBlock, len(s.blocks)),
		lowest: s.lowest,
	}
	var orphaned []uint32
	for h, b := range s.blocks {
		if h > ancestor {
			orphaned = append(orphaned, h)
			continue
		}
		next.blocks[h] = b
	}
	if blk, ok := next.blocks[ancestor]; ok {
		next.tip = types.ChainTip{Height: blk.Height(), ID: blk.ID()}
	}
	return next, orphaned
}
