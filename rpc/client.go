// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import (
	"context"

	"github.com/project-illium/lantern/types"
	"google.golang.org/grpc"
)

// Client is a hand-written client for the lightwallet service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

// GetTip returns the server's current chain tip.
func (c *Client) GetTip(ctx context.Context, opts ...grpc.CallOption) (*TipResponse, error) {
	out := new(TipResponse)
	err := c.cc.Invoke(ctx, fullMethod("GetTip"), &GetTipRequest{}, out, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBlock returns the compact block at the given height.
func (c *Client) GetBlock(ctx context.Context, height uint32, opts ...grpc.CallOption) (*types.CompactBlock, error) {
	out := new(types.CompactBlock)
	err := c.cc.Invoke(ctx, fullMethod("GetBlock"), &GetBlockRequest{Height: height}, out, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMempool returns the full pending transaction set.
func (c *Client) GetMempool(ctx context.Context, opts ...grpc.CallOption) (*MempoolResponse, error) {
	out := new(MempoolResponse)
	err := c.cc.Invoke(ctx, fullMethod("GetMempool"), &GetMempoolRequest{}, out, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMempoolDiff returns the mempool changes since generation.
func (c *Client) GetMempoolDiff(ctx context.Context, generation uint64, opts ...grpc.CallOption) (*MempoolDiffResponse, error) {
	out := new(MempoolDiffResponse)
	err := c.cc.Invoke(ctx, fullMethod("GetMempoolDiff"), &GetMempoolDiffRequest{Generation: generation}, out, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction returns a raw transaction by ID.
func (c *Client) GetTransaction(ctx context.Context, txid types.ID, opts ...grpc.CallOption) (*RawTransactionResponse, error) {
	out := new(RawTransactionResponse)
	err := c.cc.Invoke(ctx, fullMethod("GetTransaction"), &GetTransactionRequest{Txid: txid}, out, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitTransaction relays a raw transaction.
func (c *Client) SubmitTransaction(ctx context.Context, raw []byte, opts ...grpc.CallOption) (*SubmitTransactionResponse, error) {
	out := new(SubmitTransactionResponse)
	err := c.cc.Invoke(ctx, fullMethod("SubmitTransaction"), &SubmitTransactionRequest{Raw: raw}, out, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetServerInfo returns server metadata.
func (c *Client) GetServerInfo(ctx context.Context, opts ...grpc.CallOption) (*ServerInfoResponse, error) {
	out := new(ServerInfoResponse)
	err := c.cc.Invoke(ctx, fullMethod("GetServerInfo"), &GetServerInfoRequest{}, out, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BlockRangeStream receives the blocks of a GetBlockRange call.
type BlockRangeStream struct {
	grpc.ClientStream
}

// Recv returns the next block in the range.
func (s *BlockRangeStream) Recv() (*types.CompactBlock, error) {
	blk := new(types.CompactBlock)
	if err := s.ClientStream.RecvMsg(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// GetBlockRange streams the blocks in the inclusive range [start, end].
func (c *Client) GetBlockRange(ctx context.Context, start, end uint32, opts ...grpc.CallOption) (*BlockRangeStream, error) {
	desc := &grpc.StreamDesc{StreamName: "GetBlockRange", ServerStreams: true}
	cs, err := c.cc.NewStream(ctx, desc, fullMethod("GetBlockRange"), callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&GetBlockRangeRequest{Start: start, End: end}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &BlockRangeStream{ClientStream: cs}, nil
}

// BlockSubscription receives the notifications of a SubscribeBlocks
// call.
type BlockSubscription struct {
	grpc.ClientStream
}

// Recv returns the next block notification.
func (s *BlockSubscription) Recv() (*BlockNotification, error) {
	n := new(BlockNotification)
	if err := s.ClientStream.RecvMsg(n); err != nil {
		return nil, err
	}
	return n, nil
}

// SubscribeBlocks opens a block subscription. fromHeight 0 subscribes
// from the next connected block.
func (c *Client) SubscribeBlocks(ctx context.Context, fromHeight uint32, opts ...grpc.CallOption) (*BlockSubscription, error) {
	desc := &grpc.StreamDesc{StreamName: "SubscribeBlocks", ServerStreams: true}
	cs, err := c.cc.NewStream(ctx, desc, fullMethod("SubscribeBlocks"), callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&SubscribeBlocksRequest{FromHeight: fromHeight}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &BlockSubscription{ClientStream: cs}, nil
}
