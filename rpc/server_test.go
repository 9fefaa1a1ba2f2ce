// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/project-illium/lantern/chaincache"
	"github.com/project-illium/lantern/fetch"
	"github.com/project-illium/lantern/mempool"
	"github.com/project-illium/lantern/types"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// fakeStream is a grpc.ServerStream that records sent messages. An
// optional gate blocks the first send until the test releases it.
type fakeStream struct {
	ctx context.Context
	out chan interface{}

	gate      chan struct{}
	enteredMu sync.Once
	entered   chan struct{}
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{
		ctx:     ctx,
		out:     make(chan interface{}, 128),
		entered: make(chan struct{}),
	}
}

func (s *fakeStream) Context() context.Context     { return s.ctx }
func (s *fakeStream) SetHeader(metadata.MD) error  { return nil }
func (s *fakeStream) SendHeader(metadata.MD) error { return nil }
func (s *fakeStream) SetTrailer(metadata.MD)       {}
func (s *fakeStream) RecvMsg(m interface{}) error  { return nil }

func (s *fakeStream) SendMsg(m interface{}) error {
	s.enteredMu.Do(func() {
		close(s.entered)
		if s.gate != nil {
			<-s.gate
		}
	})
	s.out <- m
	return nil
}

func (s *fakeStream) next(t *testing.T) interface{} {
	t.Helper()
	select {
	case m := <-s.out:
		return m
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for stream message")
		return nil
	}
}

type testEnv struct {
	server *GrpcServer
	node   *fetch.MockFetcher
	chain  *chaincache.Cache
	pool   *mempool.Tracker
}

func newTestEnv(t *testing.T, queueSize int, overflow OverflowPolicy) *testEnv {
	node := fetch.NewMockFetcher()
	node.SetChain(fetch.MockChain(0, 11, 0))

	chain, err := chaincache.NewCache(
		chaincache.DefaultOptions(),
		chaincache.Node(node),
		chaincache.WindowSize(10),
		chaincache.PollInterval(10*time.Millisecond),
	)
	assert.NoError(t, err)

	pool, err := mempool.NewTracker(
		mempool.DefaultOptions(),
		mempool.Node(node),
		mempool.PollInterval(10*time.Millisecond),
	)
	assert.NoError(t, err)

	server := NewGrpcServer(&GrpcServerConfig{
		Server:              grpc.NewServer(),
		Chain:               chain,
		Mempool:             pool,
		Node:                node,
		ChainName:           "testnet",
		Version:             "0.1.0",
		SubscriberQueueSize: queueSize,
		OverflowPolicy:      overflow,
	})

	chain.Start()
	pool.Start()
	t.Cleanup(func() {
		pool.Stop()
		chain.Stop()
	})

	env := &testEnv{server: server, node: node, chain: chain, pool: pool}
	env.waitForTip(t, 10)
	return env
}

func (e *testEnv) waitForTip(t *testing.T, height uint32) {
	t.Helper()
	assert.Eventually(t, func() bool {
		tip, err := e.chain.Tip()
		return err == nil && tip.Height == height
	}, time.Second*5, 10*time.Millisecond)
}

// extend appends n linked blocks to the mock chain.
func (e *testEnv) extend(n int) []*types.CompactBlock {
	parent := e.node.Tip()
	blocks := make([]*types.CompactBlock, 0, n)
	for i := 0; i < n; i++ {
		blk := fetch.MockBlock(parent.Height()+1, parent.ID(), 0)
		e.node.Extend(blk)
		blocks = append(blocks, blk)
		parent = blk
	}
	return blocks
}

func TestPointQueries(t *testing.T) {
	env := newTestEnv(t, 8, OverflowGap)
	ctx := context.Background()

	tip, err := env.server.GetTip(ctx, &GetTipRequest{})
	assert.NoError(t, err)
	assert.EqualValues(t, 10, tip.Height)

	blk, err := env.server.GetBlock(ctx, &GetBlockRequest{Height: 7})
	assert.NoError(t, err)
	assert.EqualValues(t, 7, blk.Height())

	// Evicted from the window.
	_, err = env.server.GetBlock(ctx, &GetBlockRequest{Height: 0})
	assert.Equal(t, codes.OutOfRange, status.Code(err))

	// Not fetched yet.
	_, err = env.server.GetBlock(ctx, &GetBlockRequest{Height: 50})
	assert.Equal(t, codes.NotFound, status.Code(err))

	info, err := env.server.GetServerInfo(ctx, &GetServerInfoRequest{})
	assert.NoError(t, err)
	assert.Equal(t, "0.1.0", info.Version)
	assert.Equal(t, "lantern", info.Vendor)
	assert.Equal(t, "testnet", info.ChainName)
	assert.EqualValues(t, 10, info.TipHeight)
	assert.Equal(t, "Healthy", info.Health)
}

func TestTransactions(t *testing.T) {
	env := newTestEnv(t, 8, OverflowGap)
	ctx := context.Background()

	raw := []byte{0x01, 0x02, 0x03}
	resp, err := env.server.SubmitTransaction(ctx, &SubmitTransactionRequest{Raw: raw})
	assert.NoError(t, err)

	got, err := env.server.GetTransaction(ctx, &GetTransactionRequest{Txid: resp.Txid})
	assert.NoError(t, err)
	assert.Equal(t, raw, got.Raw)

	_, err = env.server.GetTransaction(ctx, &GetTransactionRequest{Txid: types.ID{0xff}})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGetBlockRange(t *testing.T) {
	env := newTestEnv(t, 8, OverflowGap)

	// A reversed range is normalized, not rejected.
	stream := newFakeStream(context.Background())
	err := env.server.GetBlockRange(&GetBlockRangeRequest{Start: 9, End: 5}, stream)
	assert.NoError(t, err)
	for h := uint32(5); h <= 9; h++ {
		blk := stream.next(t).(*types.CompactBlock)
		assert.Equal(t, h, blk.Height())
	}

	// Heights evicted from the cache window are fetched from the node.
	stream = newFakeStream(context.Background())
	err = env.server.GetBlockRange(&GetBlockRangeRequest{Start: 0, End: 3}, stream)
	assert.NoError(t, err)
	for h := uint32(0); h <= 3; h++ {
		blk := stream.next(t).(*types.CompactBlock)
		assert.Equal(t, h, blk.Height())
	}

	// An oversized range is rejected.
	stream = newFakeStream(context.Background())
	err = env.server.GetBlockRange(&GetBlockRangeRequest{Start: 5, End: 5 + maxRangeSize}, stream)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// Including one whose span wraps 32-bit arithmetic.
	stream = newFakeStream(context.Background())
	err = env.server.GetBlockRange(&GetBlockRangeRequest{Start: 0, End: math.MaxUint32}, stream)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestMempoolQueries(t *testing.T) {
	env := newTestEnv(t, 8, OverflowGap)
	ctx := context.Background()

	raw := []byte{0xaa}
	txid := types.ID{0x01}
	env.node.SetMempool([]types.MempoolEntry{{Txid: txid, Raw: raw, FirstSeen: time.Now()}})

	assert.Eventually(t, func() bool {
		resp, err := env.server.GetMempool(ctx, &GetMempoolRequest{})
		return err == nil && len(resp.Entries) == 1
	}, time.Second*5, 10*time.Millisecond)

	resp, err := env.server.GetMempool(ctx, &GetMempoolRequest{})
	assert.NoError(t, err)
	assert.Equal(t, txid, resp.Entries[0].Txid)

	diff, err := env.server.GetMempoolDiff(ctx, &GetMempoolDiffRequest{Generation: 0})
	assert.NoError(t, err)
	assert.Equal(t, []types.ID{txid}, diff.Added)

	_, err = env.server.GetMempoolDiff(ctx, &GetMempoolDiffRequest{Generation: diff.Generation + 1000})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSubscribeBlocksBackfillThenLive(t *testing.T) {
	env := newTestEnv(t, 16, OverflowGap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newFakeStream(ctx)

	done := make(chan error, 1)
	go func() {
		done <- env.server.SubscribeBlocks(&SubscribeBlocksRequest{FromHeight: 5}, stream)
	}()

	// Backfill 5-10 first.
	for h := uint32(5); h <= 10; h++ {
		n := stream.next(t).(*BlockNotification)
		assert.Equal(t, BNBlock, n.Type)
		assert.Equal(t, h, n.Block.Height())
	}

	// Then live delivery continues with no gap and no duplicate.
	env.extend(3)
	for h := uint32(11); h <= 13; h++ {
		n := stream.next(t).(*BlockNotification)
		assert.Equal(t, BNBlock, n.Type)
		assert.Equal(t, h, n.Block.Height())
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscribeBlocksGapPolicy(t *testing.T) {
	env := newTestEnv(t, 2, OverflowGap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newFakeStream(ctx)
	stream.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- env.server.SubscribeBlocks(&SubscribeBlocksRequest{FromHeight: 0}, stream)
	}()

	// Block the client on the first delivery.
	env.extend(1)
	env.waitForTip(t, 11)
	select {
	case <-stream.entered:
	case <-time.After(time.Second * 5):
		t.Fatal("subscriber never received the first block")
	}

	// Publish five more blocks into the stalled two-slot queue. The
	// oldest three fall out.
	env.extend(5)
	env.waitForTip(t, 16)
	close(stream.gate)

	n := stream.next(t).(*BlockNotification)
	assert.Equal(t, BNBlock, n.Type)
	assert.EqualValues(t, 11, n.Block.Height())

	n = stream.next(t).(*BlockNotification)
	assert.Equal(t, BNGap, n.Type)
	assert.EqualValues(t, 12, n.Gap.FromHeight)
	assert.EqualValues(t, 14, n.Gap.ToHeight)

	n = stream.next(t).(*BlockNotification)
	assert.Equal(t, BNBlock, n.Type)
	assert.EqualValues(t, 15, n.Block.Height())

	n = stream.next(t).(*BlockNotification)
	assert.Equal(t, BNBlock, n.Type)
	assert.EqualValues(t, 16, n.Block.Height())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscribeBlocksDisconnectPolicy(t *testing.T) {
	env := newTestEnv(t, 2, OverflowDisconnect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newFakeStream(ctx)
	stream.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- env.server.SubscribeBlocks(&SubscribeBlocksRequest{FromHeight: 0}, stream)
	}()

	env.extend(1)
	env.waitForTip(t, 11)
	select {
	case <-stream.entered:
	case <-time.After(time.Second * 5):
		t.Fatal("subscriber never received the first block")
	}

	env.extend(5)
	env.waitForTip(t, 16)
	close(stream.gate)

	// First block is delivered, then the overflow terminates the
	// subscription.
	n := stream.next(t).(*BlockNotification)
	assert.EqualValues(t, 11, n.Block.Height())

	err := <-done
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestSubscribeBlocksReorg(t *testing.T) {
	env := newTestEnv(t, 16, OverflowGap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newFakeStream(ctx)

	done := make(chan error, 1)
	go func() {
		done <- env.server.SubscribeBlocks(&SubscribeBlocksRequest{FromHeight: 10}, stream)
	}()

	n := stream.next(t).(*BlockNotification)
	assert.Equal(t, BNBlock, n.Type)
	assert.EqualValues(t, 10, n.Block.Height())

	// Orphan heights 9-10 in favor of a longer sibling branch.
	old9, err := env.chain.GetBlock(9)
	assert.NoError(t, err)
	b9 := fetch.MockBlock(9, old9.Header.Parent, 1)
	b10 := fetch.MockBlock(10, b9.ID(), 1)
	b11 := fetch.MockBlock(11, b10.ID(), 1)
	env.node.Reorg(b9, b10, b11)

	n = stream.next(t).(*BlockNotification)
	assert.Equal(t, BNReorg, n.Type)
	assert.EqualValues(t, 8, n.Reorg.CommonAncestor)

	// The replacement branch is re-delivered under the new identity.
	for _, want := range []*types.CompactBlock{b9, b10, b11} {
		n = stream.next(t).(*BlockNotification)
		assert.Equal(t, BNBlock, n.Type)
		assert.Equal(t, want.ID(), n.Block.ID())
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscribeBlocksReorgWhileLagging(t *testing.T) {
	env := newTestEnv(t, 2, OverflowGap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newFakeStream(ctx)
	stream.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- env.server.SubscribeBlocks(&SubscribeBlocksRequest{FromHeight: 9}, stream)
	}()

	// Stall the client on the first backfilled block, leaving block 10
	// queued.
	select {
	case <-stream.entered:
	case <-time.After(time.Second * 5):
		t.Fatal("subscriber never received the first block")
	}

	// While the client is stalled, orphan heights 9-10 in favor of a
	// longer sibling branch. The reorg notification plus four blocks
	// overflow the stalled two-slot queue, pushing out the stale block
	// 10 and the reorg notification itself.
	old9, err := env.chain.GetBlock(9)
	assert.NoError(t, err)
	b9 := fetch.MockBlock(9, old9.Header.Parent, 1)
	b10 := fetch.MockBlock(10, b9.ID(), 1)
	b11 := fetch.MockBlock(11, b10.ID(), 1)
	b12 := fetch.MockBlock(12, b11.ID(), 1)
	env.node.Reorg(b9, b10, b11, b12)
	env.waitForTip(t, 12)
	close(stream.gate)

	n := stream.next(t).(*BlockNotification)
	assert.Equal(t, BNBlock, n.Type)
	assert.EqualValues(t, 9, n.Block.Height())

	// The client must learn heights 9+ were replaced before any block
	// from the new branch arrives, even though the reorg notification
	// was lost to the overflow.
	n = stream.next(t).(*BlockNotification)
	assert.Equal(t, BNReorg, n.Type)
	assert.EqualValues(t, 8, n.Reorg.CommonAncestor)

	for _, want := range []*types.CompactBlock{b9, b10, b11, b12} {
		n = stream.next(t).(*BlockNotification)
		assert.Equal(t, BNBlock, n.Type)
		assert.Equal(t, want.ID(), n.Block.ID())
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestOverflowPolicyParsing(t *testing.T) {
	p, err := ParseOverflowPolicy("gap")
	assert.NoError(t, err)
	assert.Equal(t, OverflowGap, p)

	p, err = ParseOverflowPolicy("Disconnect")
	assert.NoError(t, err)
	assert.Equal(t, OverflowDisconnect, p)

	_, err = ParseOverflowPolicy("bogus")
	assert.Error(t, err)

	assert.Equal(t, "gap", OverflowGap.String())
	assert.Equal(t, "disconnect", OverflowDisconnect.String())
}
