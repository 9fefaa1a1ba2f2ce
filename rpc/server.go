// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/project-illium/lantern/chaincache"
	"github.com/project-illium/lantern/fetch"
	"github.com/project-illium/lantern/mempool"
	"github.com/project-illium/lantern/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxRangeSize caps the number of blocks a single GetBlockRange call
// may stream.
const maxRangeSize = 2000

// OverflowPolicy selects what happens to a block subscription whose
// delivery queue overflows.
type OverflowPolicy int

const (
	// OverflowGap drops the oldest queued blocks and sends the client a
	// gap notice covering the lost heights.
	OverflowGap OverflowPolicy = iota

	// OverflowDisconnect terminates the subscription with
	// RESOURCE_EXHAUSTED.
	OverflowDisconnect
)

var overflowStrings = map[OverflowPolicy]string{
	OverflowGap:        "gap",
	OverflowDisconnect: "disconnect",
}

// String returns the OverflowPolicy in human-readable form.
func (p OverflowPolicy) String() string {
	if s, ok := overflowStrings[p]; ok {
		return s
	}
	return "unknown"
}

// ParseOverflowPolicy parses an overflow policy name.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case "gap":
		return OverflowGap, nil
	case "disconnect":
		return OverflowDisconnect, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

// GrpcServerConfig holds the various objects needed by the GrpcServer
// to perform its functions.
type GrpcServerConfig struct {
	// Server is the gRPC server this service is registered on.
	Server *grpc.Server

	// HTTPServer optionally wraps Server for grpc-web clients. It is
	// shut down with the GrpcServer.
	HTTPServer *http.Server

	// Chain is the chain state cache point and subscription queries are
	// served from.
	Chain *chaincache.Cache

	// Mempool tracks the node's pending transaction set.
	Mempool *mempool.Tracker

	// Node is used for data outside the cache window and for relaying
	// transactions.
	Node fetch.Fetcher

	// ChainName names the network this server indexes.
	ChainName string

	// Version is reported by GetServerInfo.
	Version string

	// SubscriberQueueSize bounds each block subscription's delivery
	// queue.
	SubscriberQueueSize int

	// OverflowPolicy is applied when a subscriber's queue overflows.
	OverflowPolicy OverflowPolicy
}

// GrpcServer serves the lightwallet service.
type GrpcServer struct {
	chain     *chaincache.Cache
	mempool   *mempool.Tracker
	node      fetch.Fetcher
	chainName string
	version   string
	queueSize int
	overflow  OverflowPolicy

	httpServer *http.Server
	quit       chan struct{}
}

// NewGrpcServer builds the server and registers it on cfg.Server.
func NewGrpcServer(cfg *GrpcServerConfig) *GrpcServer {
	s := &GrpcServer{
		chain:      cfg.Chain,
		mempool:    cfg.Mempool,
		node:       cfg.Node,
		chainName:  cfg.ChainName,
		version:    cfg.Version,
		queueSize:  cfg.SubscriberQueueSize,
		overflow:   cfg.OverflowPolicy,
		httpServer: cfg.HTTPServer,
		quit:       make(chan struct{}),
	}
	RegisterLightwalletServiceServer(cfg.Server, s)
	return s
}

// Close signals open streams to terminate and shuts down the wrapping
// HTTP server if one was configured. The gRPC server itself is owned,
// and stopped, by the caller.
func (s *GrpcServer) Close() error {
	close(s.quit)
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// GetTip returns the height and hash of the best cached block.
func (s *GrpcServer) GetTip(ctx context.Context, req *GetTipRequest) (*TipResponse, error) {
	tip, err := s.chain.Tip()
	if err != nil {
		return nil, mapError(err)
	}
	return &TipResponse{Height: tip.Height, Hash: tip.ID}, nil
}

// GetBlock returns the compact block at the requested height.
func (s *GrpcServer) GetBlock(ctx context.Context, req *GetBlockRequest) (*types.CompactBlock, error) {
	blk, err := s.chain.GetBlock(req.Height)
	if err != nil {
		return nil, mapError(err)
	}
	return blk, nil
}

// GetBlockRange streams the compact blocks in the inclusive range
// [Start, End] in ascending height order. A reversed range is
// normalized rather than rejected. Heights already evicted from the
// cache window are fetched from the node.
func (s *GrpcServer) GetBlockRange(req *GetBlockRangeRequest, stream grpc.ServerStream) error {
	start, end := req.Start, req.End
	if start > end {
		start, end = end, start
	}
	if end-start >= maxRangeSize {
		return status.Errorf(codes.InvalidArgument, "range exceeds %d blocks", maxRangeSize)
	}

	ctx := stream.Context()
	for height := start; height <= end; height++ {
		blk, err := s.chain.GetBlock(height)
		if errors.Is(err, chaincache.ErrEvicted) {
			blk, err = s.node.FetchBlock(ctx, height)
		}
		if err != nil {
			return mapError(err)
		}
		if err := stream.SendMsg(blk); err != nil {
			return err
		}
	}
	return nil
}

// GetMempool returns the full pending transaction set and its
// generation.
func (s *GrpcServer) GetMempool(ctx context.Context, req *GetMempoolRequest) (*MempoolResponse, error) {
	gen, entries := s.mempool.Entries()
	return &MempoolResponse{Generation: gen, Entries: entries}, nil
}

// GetMempoolDiff returns the cumulative mempool changes since the
// requested generation.
func (s *GrpcServer) GetMempoolDiff(ctx context.Context, req *GetMempoolDiffRequest) (*MempoolDiffResponse, error) {
	added, removed, current, err := s.mempool.DiffSince(req.Generation)
	if err != nil {
		return nil, mapError(err)
	}
	return &MempoolDiffResponse{Added: added, Removed: removed, Generation: current}, nil
}

// GetTransaction returns a raw transaction by ID, looking through the
// node since raw transactions are not cached.
func (s *GrpcServer) GetTransaction(ctx context.Context, req *GetTransactionRequest) (*RawTransactionResponse, error) {
	raw, height, err := s.node.FetchTransaction(ctx, req.Txid)
	if err != nil {
		return nil, mapError(err)
	}
	return &RawTransactionResponse{Raw: raw, Height: height}, nil
}

// SubmitTransaction relays a raw transaction to the node and returns
// its ID.
func (s *GrpcServer) SubmitTransaction(ctx context.Context, req *SubmitTransactionRequest) (*SubmitTransactionResponse, error) {
	txid, err := s.node.SubmitTransaction(ctx, req.Raw)
	if err != nil {
		return nil, mapError(err)
	}
	return &SubmitTransactionResponse{Txid: txid}, nil
}

// GetServerInfo describes the server and its current view of the
// chain. It never fails: before the initial sync the tip fields are
// zero.
func (s *GrpcServer) GetServerInfo(ctx context.Context, req *GetServerInfoRequest) (*ServerInfoResponse, error) {
	resp := &ServerInfoResponse{
		Version:           s.version,
		Vendor:            "lantern",
		ChainName:         s.chainName,
		Health:            s.chain.Health().String(),
		MempoolGeneration: s.mempool.Generation(),
	}
	if tip, err := s.chain.Tip(); err == nil {
		resp.TipHeight = tip.Height
		resp.TipHash = tip.ID
	}
	return resp, nil
}

// SubscribeBlocks streams connected blocks to the client, optionally
// backfilled from req.FromHeight. Delivery is bounded: if the client
// cannot keep up the configured overflow policy decides between a gap
// notice and disconnection. Gaps are detected by height discontinuity
// so the stream never silently skips a block.
func (s *GrpcServer) SubscribeBlocks(req *SubscribeBlocksRequest, stream grpc.ServerStream) error {
	from := req.FromHeight
	if from == 0 {
		tip, err := s.chain.Tip()
		if err != nil {
			return mapError(err)
		}
		from = tip.Height + 1
	}

	sub, err := s.chain.SubscribeFrom(from, s.queueSize)
	if err != nil {
		return mapError(err)
	}
	defer sub.Close()

	ctx := stream.Context()
	expected := from
	for {
		select {
		case <-s.quit:
			return status.Error(codes.Unavailable, "server shutting down")
		case <-ctx.Done():
			return ctx.Err()
		case n := <-sub.C:
			switch n.Type {
			case chaincache.NTBlockConnected:
				blk := n.Data.(*types.CompactBlock)
				if blk.Height() < expected {
					// A height can only repeat when the branch above it
					// was replaced. The reorg notification itself may
					// have been dropped from a full queue, so recover it
					// here rather than leak a block whose parent the
					// client never saw.
					msg := &BlockNotification{
						Type:  BNReorg,
						Reorg: &ReorgNotice{CommonAncestor: blk.Height() - 1},
					}
					if err := stream.SendMsg(msg); err != nil {
						return err
					}
					expected = blk.Height()
				}
				if blk.Height() > expected {
					if s.overflow == OverflowDisconnect {
						return status.Error(codes.ResourceExhausted, "subscriber queue overflowed")
					}
					gap := &BlockNotification{
						Type: BNGap,
						Gap:  &GapNotice{FromHeight: expected, ToHeight: blk.Height() - 1},
					}
					if err := stream.SendMsg(gap); err != nil {
						return err
					}
				}
				msg := &BlockNotification{Type: BNBlock, Block: blk}
				if err := stream.SendMsg(msg); err != nil {
					return err
				}
				expected = blk.Height() + 1

			case chaincache.NTReorg:
				ev := n.Data.(*chaincache.ReorgEvent)
				if ev.CommonAncestor+1 >= expected {
					continue
				}
				msg := &BlockNotification{
					Type:  BNReorg,
					Reorg: &ReorgNotice{CommonAncestor: ev.CommonAncestor},
				}
				if err := stream.SendMsg(msg); err != nil {
					return err
				}
				expected = ev.CommonAncestor + 1

			case chaincache.NTHealthChanged:
				if n.Data.(chaincache.Health) == chaincache.Failed {
					return status.Error(codes.FailedPrecondition, "chain cache failed")
				}
			}
		}
	}
}

// mapError converts internal errors to gRPC status errors.
func mapError(err error) error {
	var rejection fetch.RejectionError
	switch {
	case errors.Is(err, chaincache.ErrNotYetFetched):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, chaincache.ErrEvicted):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, chaincache.ErrCacheFailed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, mempool.ErrGenerationEvicted):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, mempool.ErrFutureGeneration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &rejection):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, fetch.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, fetch.ErrNodeUnreachable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	log.Errorf("internal rpc error: %s", err)
	return status.Error(codes.Internal, err.Error())
}
