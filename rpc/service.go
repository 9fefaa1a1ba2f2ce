// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"fmt"

	"github.com/project-illium/lantern/types"
	"google.golang.org/grpc"
)

const serviceName = "lantern.v1.LightwalletService"

// LightwalletServiceServer is the server-side interface for the
// lightwallet gRPC service.
type LightwalletServiceServer interface {
	GetTip(context.Context, *GetTipRequest) (*TipResponse, error)
	GetBlock(context.Context, *GetBlockRequest) (*types.CompactBlock, error)
	GetBlockRange(*GetBlockRangeRequest, grpc.ServerStream) error
	GetMempool(context.Context, *GetMempoolRequest) (*MempoolResponse, error)
	GetMempoolDiff(context.Context, *GetMempoolDiffRequest) (*MempoolDiffResponse, error)
	GetTransaction(context.Context, *GetTransactionRequest) (*RawTransactionResponse, error)
	SubmitTransaction(context.Context, *SubmitTransactionRequest) (*SubmitTransactionResponse, error)
	GetServerInfo(context.Context, *GetServerInfoRequest) (*ServerInfoResponse, error)
	SubscribeBlocks(*SubscribeBlocksRequest, grpc.ServerStream) error
}

// RegisterLightwalletServiceServer registers the service on a gRPC
// server.
func RegisterLightwalletServiceServer(s *grpc.Server, srv LightwalletServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func handlerGetTip(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetTipRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LightwalletServiceServer).GetTip(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetTip")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LightwalletServiceServer).GetTip(ctx, req.(*GetTipRequest))
	})
}

func handlerGetBlock(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetBlockRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LightwalletServiceServer).GetBlock(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetBlock")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LightwalletServiceServer).GetBlock(ctx, req.(*GetBlockRequest))
	})
}

func handlerGetBlockRange(srv any, stream grpc.ServerStream) error {
	req := new(GetBlockRangeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(LightwalletServiceServer).GetBlockRange(req, stream)
}

func handlerGetMempool(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetMempoolRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LightwalletServiceServer).GetMempool(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetMempool")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LightwalletServiceServer).GetMempool(ctx, req.(*GetMempoolRequest))
	})
}

func handlerGetMempoolDiff(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetMempoolDiffRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LightwalletServiceServer).GetMempoolDiff(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetMempoolDiff")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LightwalletServiceServer).GetMempoolDiff(ctx, req.(*GetMempoolDiffRequest))
	})
}

func handlerGetTransaction(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetTransactionRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LightwalletServiceServer).GetTransaction(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetTransaction")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LightwalletServiceServer).GetTransaction(ctx, req.(*GetTransactionRequest))
	})
}

func handlerSubmitTransaction(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(SubmitTransactionRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LightwalletServiceServer).SubmitTransaction(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("SubmitTransaction")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LightwalletServiceServer).SubmitTransaction(ctx, req.(*SubmitTransactionRequest))
	})
}

func handlerGetServerInfo(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetServerInfoRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LightwalletServiceServer).GetServerInfo(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetServerInfo")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(LightwalletServiceServer).GetServerInfo(ctx, req.(*GetServerInfoRequest))
	})
}

func handlerSubscribeBlocks(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeBlocksRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(LightwalletServiceServer).SubscribeBlocks(req, stream)
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor for the
// lightwallet service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LightwalletServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTip", Handler: handlerGetTip},
		{MethodName: "GetBlock", Handler: handlerGetBlock},
		{MethodName: "GetMempool", Handler: handlerGetMempool},
		{MethodName: "GetMempoolDiff", Handler: handlerGetMempoolDiff},
		{MethodName: "GetTransaction", Handler: handlerGetTransaction},
		{MethodName: "SubmitTransaction", Handler: handlerSubmitTransaction},
		{MethodName: "GetServerInfo", Handler: handlerGetServerInfo},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetBlockRange",
			Handler:       handlerGetBlockRange,
			ServerStreams: true,
		},
		{
			StreamName:    "SubscribeBlocks",
			Handler:       handlerSubscribeBlocks,
			ServerStreams: true,
		},
	},
	Metadata: "lantern/v1/lightwallet.cbor",
}
