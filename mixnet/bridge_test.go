// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mixnet

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/project-illium/lantern/rpc"
	"github.com/project-illium/lantern/types"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	tag     []byte
	payload []byte
}

// memTransport is an in-memory Transport for tests.
type memTransport struct {
	in  chan *Envelope
	out chan reply
}

func newMemTransport() *memTransport {
	return &memTransport{
		in:  make(chan *Envelope, 64),
		out: make(chan reply, 64),
	}
}

func (m *memTransport) Receive() <-chan *Envelope { return m.in }

func (m *memTransport) SendReply(replyTag []byte, payload []byte) error {
	m.out <- reply{tag: replyTag, payload: payload}
	return nil
}

func (m *memTransport) nextReply(t *testing.T) *Response {
	t.Helper()
	select {
	case r := <-m.out:
		resp := new(Response)
		assert.NoError(t, cbor.Unmarshal(r.payload, resp))
		return resp
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}

// stubService answers GetTip and GetBlock with canned data.
type stubService struct{}

func (s *stubService) GetTip(context.Context, *rpc.GetTipRequest) (*rpc.TipResponse, error) {
	return &rpc.TipResponse{Height: 42}, nil
}

func (s *stubService) GetBlock(_ context.Context, req *rpc.GetBlockRequest) (*types.CompactBlock, error) {
	if req.Height > 100 {
		return nil, status.Error(codes.NotFound, "no block at height")
	}
	return &types.CompactBlock{Header: types.BlockHeader{Height: req.Height}}, nil
}

func (s *stubService) GetBlockRange(*rpc.GetBlockRangeRequest, grpc.ServerStream) error {
	return nil
}

func (s *stubService) GetMempool(context.Context, *rpc.GetMempoolRequest) (*rpc.MempoolResponse, error) {
	return &rpc.MempoolResponse{Generation: 7}, nil
}

func (s *stubService) GetMempoolDiff(context.Context, *rpc.GetMempoolDiffRequest) (*rpc.MempoolDiffResponse, error) {
	return &rpc.MempoolDiffResponse{Generation: 7}, nil
}

func (s *stubService) GetTransaction(context.Context, *rpc.GetTransactionRequest) (*rpc.RawTransactionResponse, error) {
	return &rpc.RawTransactionResponse{Raw: []byte{0x01}}, nil
}

func (s *stubService) SubmitTransaction(context.Context, *rpc.SubmitTransactionRequest) (*rpc.SubmitTransactionResponse, error) {
	return &rpc.SubmitTransactionResponse{}, nil
}

func (s *stubService) GetServerInfo(context.Context, *rpc.GetServerInfoRequest) (*rpc.ServerInfoResponse, error) {
	return &rpc.ServerInfoResponse{Vendor: "lantern"}, nil
}

func (s *stubService) SubscribeBlocks(*rpc.SubscribeBlocksRequest, grpc.ServerStream) error {
	return nil
}

func token(n uint64) CorrelationToken {
	var tok CorrelationToken
	binary.BigEndian.PutUint64(tok[:8], n)
	return tok
}

func envelope(t *testing.T, tok CorrelationToken, method Method, body interface{}) *Envelope {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = cbor.Marshal(body)
		assert.NoError(t, err)
	}
	payload, err := cbor.Marshal(&Request{Token: tok, Method: method, Body: raw})
	assert.NoError(t, err)
	return &Envelope{ReplyTag: tok[:], Payload: payload}
}

func newTestBridge(t *testing.T, transport Transport, opts ...Option) *Bridge {
	options := append([]Option{
		WithTransport(transport),
		Service(&stubService{}),
	}, opts...)
	b, err := NewBridge(options...)
	assert.NoError(t, err)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestBridgeDispatch(t *testing.T) {
	transport := newMemTransport()
	newTestBridge(t, transport)

	tok := token(1)
	transport.in <- envelope(t, tok, MethodGetTip, nil)

	resp := transport.nextReply(t)
	assert.Equal(t, tok, resp.Token)
	assert.EqualValues(t, 0, resp.Status)

	tip := new(rpc.TipResponse)
	assert.NoError(t, cbor.Unmarshal(resp.Body, tip))
	assert.EqualValues(t, 42, tip.Height)
}

func TestBridgeErrorStatus(t *testing.T) {
	transport := newMemTransport()
	newTestBridge(t, transport)

	transport.in <- envelope(t, token(2), MethodGetBlock, &rpc.GetBlockRequest{Height: 500})

	resp := transport.nextReply(t)
	assert.EqualValues(t, codes.NotFound, resp.Status)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Body)
}

func TestBridgeUnknownMethod(t *testing.T) {
	transport := newMemTransport()
	newTestBridge(t, transport)

	transport.in <- envelope(t, token(3), Method(99), nil)

	resp := transport.nextReply(t)
	assert.EqualValues(t, codes.Unimplemented, resp.Status)
}

func TestBridgeConcurrentRequests(t *testing.T) {
	transport := newMemTransport()
	newTestBridge(t, transport, Workers(4))

	const n = 20
	for i := uint64(0); i < n; i++ {
		transport.in <- envelope(t, token(i), MethodGetBlock, &rpc.GetBlockRequest{Height: uint32(i)})
	}

	// Replies may arrive out of order; each must correlate to its
	// request through the token alone.
	seen := make(map[CorrelationToken]uint32)
	for i := 0; i < n; i++ {
		resp := transport.nextReply(t)
		assert.EqualValues(t, 0, resp.Status)
		blk := new(types.CompactBlock)
		assert.NoError(t, cbor.Unmarshal(resp.Body, blk))
		seen[resp.Token] = blk.Height()
	}
	assert.Len(t, seen, n)
	for i := uint64(0); i < n; i++ {
		assert.Equal(t, uint32(i), seen[token(i)])
	}
}

func TestBridgeDuplicateTokenDropped(t *testing.T) {
	transport := newMemTransport()
	newTestBridge(t, transport, Workers(1))

	tok := token(4)
	transport.in <- envelope(t, tok, MethodGetTip, nil)
	transport.in <- envelope(t, tok, MethodGetTip, nil)

	resp := transport.nextReply(t)
	assert.Equal(t, tok, resp.Token)

	select {
	case <-transport.out:
		t.Fatal("duplicate request produced a second reply")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridgeSweepExpiresCorrelations(t *testing.T) {
	transport := newMemTransport()
	bridge := newTestBridge(t, transport, CorrelationTTL(time.Minute))

	tok := token(5)
	transport.in <- envelope(t, tok, MethodGetTip, nil)
	transport.nextReply(t)

	// Before the TTL passes the token is still remembered.
	bridge.sweep(time.Now())
	assert.False(t, bridge.begin(tok))

	// After the TTL the token is forgotten and may be reused.
	bridge.sweep(time.Now().Add(2 * time.Minute))
	assert.True(t, bridge.begin(tok))
}

func TestBridgeUndecodableEnvelopeDropped(t *testing.T) {
	transport := newMemTransport()
	newTestBridge(t, transport)

	transport.in <- &Envelope{ReplyTag: []byte{0x01}, Payload: []byte{0xff, 0xff, 0xff}}

	select {
	case <-transport.out:
		t.Fatal("undecodable envelope produced a reply")
	case <-time.After(100 * time.Millisecond):
	}
}
