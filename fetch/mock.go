// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/project-illium/lantern/types"
)

// MockFetcher is an in-memory Fetcher for use in tests. The chain it
// serves can be extended or reorganized between calls.
type MockFetcher struct {
	mtx    sync.Mutex
	blocks map[uint32]*types.CompactBlock
	best   uint32
	pool   []types.MempoolEntry
	txs    map[types.ID][]byte

	// Err, when set, fails every call.
	Err error
}

// NewMockFetcher returns an empty mock backend.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		blocks: make(map[uint32]*types.CompactBlock),
		txs:    make(map[types.ID][]byte),
	}
}

// MockBlock fabricates a deterministic compact block at the given
// height linking to the given parent. The salt varies the block's
// identity so competing branches differ.
func MockBlock(height uint32, parent types.ID, salt byte) *types.CompactBlock {
	var seed [8]byte
	binary.BigEndian.PutUint32(seed[:4], height)
	seed[4] = salt
	digest := sha256.Sum256(seed[:])
	id := types.NewID(digest[:])
	return &types.CompactBlock{
		Header: types.BlockHeader{
			Height:    height,
			ID:        id,
			Parent:    parent,
			Timestamp: time.Now().Unix(),
		},
	}
}

// MockChain builds a linked chain of n blocks starting at height
// start.
func MockChain(start, n uint32, salt byte) []*types.CompactBlock {
	chain := make([]*types.CompactBlock, 0, n)
	var parent types.ID
	for h := start; h < start+n; h++ {
		blk := MockBlock(h, parent, salt)
		parent = blk.ID()
		chain = append(chain, blk)
	}
	return chain
}

// SetChain replaces the entire served chain.
func (m *MockFetcher) SetChain(blocks []*types.CompactBlock) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.blocks = make(map[uint32]*types.CompactBlock)
	m.best = 0
	for _, blk := range blocks {
		m.blocks[blk.Height()] = blk
		if blk.Height() > m.best {
			m.best = blk.Height()
		}
	}
}

// Extend appends blocks to the served chain.
func (m *MockFetcher) Extend(blocks ...*types.CompactBlock) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, blk := range blocks {
		m.blocks[blk.Height()] = blk
		if blk.Height() > m.best {
			m.best = blk.Height()
		}
	}
}

// Reorg replaces every block at or above the first replacement's
// height with the provided branch.
func (m *MockFetcher) Reorg(branch ...*types.CompactBlock) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if len(branch) == 0 {
		return
	}
	for h := branch[0].Height(); h <= m.best; h++ {
		delete(m.blocks, h)
	}
	m.best = 0
	for h := range m.blocks {
		if h > m.best {
			m.best = h
		}
	}
	for _, blk := range branch {
		m.blocks[blk.Height()] = blk
		if blk.Height() > m.best {
			m.best = blk.Height()
		}
	}
}

// Tip returns the highest served block.
func (m *MockFetcher) Tip() *types.CompactBlock {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.blocks[m.best]
}

// SetMempool replaces the served pending transaction set.
func (m *MockFetcher) SetMempool(entries []types.MempoolEntry) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.pool = entries
}

// PutTransaction registers a raw transaction for FetchTransaction.
func (m *MockFetcher) PutTransaction(txid types.ID, raw []byte) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.txs[txid] = raw
}

func (m *MockFetcher) BestHeight(ctx context.Context) (uint32, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.best, nil
}

func (m *MockFetcher) FetchBlock(ctx context.Context, height uint32) (*types.CompactBlock, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	blk, ok := m.blocks[height]
	if !ok {
		return nil, ErrNotFound
	}
	return blk, nil
}

func (m *MockFetcher) FetchHeader(ctx context.Context, height uint32) (*types.BlockHeader, error) {
	blk, err := m.FetchBlock(ctx, height)
	if err != nil {
		return nil, err
	}
	header := blk.Header
	return &header, nil
}

func (m *MockFetcher) FetchHeaderRange(ctx context.Context, start, end uint32) ([]types.BlockHeader, error) {
	headers := make([]types.BlockHeader, 0, end-start+1)
	for h := start; h <= end; h++ {
		header, err := m.FetchHeader(ctx, h)
		if err != nil {
			return nil, err
		}
		headers = append(headers, *header)
	}
	return headers, nil
}

func (m *MockFetcher) FetchMempool(ctx context.Context) ([]types.MempoolEntry, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	pool := make([]types.MempoolEntry, len(m.pool))
	copy(pool, m.pool)
	return pool, nil
}

func (m *MockFetcher) FetchTransaction(ctx context.Context, txid types.ID) ([]byte, uint32, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}
	raw, ok := m.txs[txid]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return raw, 0, nil
}

func (m *MockFetcher) SubmitTransaction(ctx context.Context, raw []byte) (types.ID, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.Err != nil {
		return types.ID{}, m.Err
	}
	digest := sha256.Sum256(raw)
	txid := types.NewID(digest[:])
	m.txs[txid] = raw
	return txid, nil
}
