// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mixnet

import (
	"context"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/project-illium/lantern/rpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// correlationState tracks a token through its lifecycle. A token is
// pending while a worker is handling it and done once a response has
// been sent; either way a duplicate arrival is dropped.
type correlationState struct {
	receivedAt time.Time
	done       bool
}

// Bridge dispatches lightwallet requests received over an anonymous
// transport. It never learns a client identity: responses travel back
// through the envelope's single-use reply handle and requests are tied
// to responses only by the client-chosen correlation token.
type Bridge struct {
	cfg *config

	correlationMtx sync.Mutex
	correlations   map[CorrelationToken]*correlationState

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewBridge returns a bridge ready to be started.
func NewBridge(opts ...Option) (*Bridge, error) {
	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Bridge{
		cfg:          &cfg,
		correlations: make(map[CorrelationToken]*correlationState),
		quit:         make(chan struct{}),
	}, nil
}

// Start launches the worker pool and the correlation sweeper.
func (b *Bridge) Start() {
	for i := 0; i < b.cfg.workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.wg.Add(1)
	go b.sweeper()
}

// Stop halts the workers and waits for in-flight requests to finish.
func (b *Bridge) Stop() {
	close(b.quit)
	b.wg.Wait()
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	recv := b.cfg.transport.Receive()
	for {
		select {
		case <-b.quit:
			return
		case env, ok := <-recv:
			if !ok {
				return
			}
			b.handle(env)
		}
	}
}

func (b *Bridge) sweeper() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.quit:
			return
		case <-ticker.C:
			b.sweep(time.Now())
		}
	}
}

// sweep reaps correlations that have outlived their usefulness:
// completed tokens past the TTL, and pending tokens whose handler was
// abandoned longer ago than the request timeout plus the TTL.
func (b *Bridge) sweep(now time.Time) {
	b.correlationMtx.Lock()
	defer b.correlationMtx.Unlock()
	for token, state := range b.correlations {
		ttl := b.cfg.correlationTTL
		if !state.done {
			ttl += b.cfg.requestTimeout
		}
		if now.Sub(state.receivedAt) > ttl {
			delete(b.correlations, token)
		}
	}
}

// begin registers a token. It reports false if the token is already
// known, which marks the envelope as a duplicate.
func (b *Bridge) begin(token CorrelationToken) bool {
	b.correlationMtx.Lock()
	defer b.correlationMtx.Unlock()
	if _, ok := b.correlations[token]; ok {
		return false
	}
	b.correlations[token] = &correlationState{receivedAt: time.Now()}
	return true
}

func (b *Bridge) finish(token CorrelationToken) {
	b.correlationMtx.Lock()
	if state, ok := b.correlations[token]; ok {
		state.done = true
	}
	b.correlationMtx.Unlock()
}

func (b *Bridge) handle(env *Envelope) {
	req, err := decodeRequest(env.Payload)
	if err != nil {
		// Without a parseable token there is nothing to correlate a
		// reply to.
		log.Debugf("dropping undecodable envelope: %s", err)
		return
	}
	if !b.begin(req.Token) {
		log.Debugf("dropping duplicate request %s", req.Token)
		return
	}
	defer b.finish(req.Token)

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.requestTimeout)
	defer cancel()

	resp := &Response{Token: req.Token}
	body, err := b.dispatch(ctx, req.Method, req.Body)
	if err != nil {
		st := status.Convert(err)
		resp.Status = uint32(st.Code())
		resp.Error = st.Message()
	} else {
		resp.Body = body
	}

	payload, err := cbor.Marshal(resp)
	if err != nil {
		log.Errorf("encoding response for %s: %s", req.Token, err)
		return
	}
	if err := b.cfg.transport.SendReply(env.ReplyTag, payload); err != nil {
		log.Warnf("sending reply for %s: %s", req.Token, err)
	}
}

// dispatch invokes the service method and returns the CBOR-encoded
// response message. Streaming operations are not expressible as a
// single reply and are refused.
func (b *Bridge) dispatch(ctx context.Context, method Method, body []byte) ([]byte, error) {
	var (
		out any
		err error
	)
	switch method {
	case MethodGetTip:
		out, err = b.cfg.service.GetTip(ctx, &rpc.GetTipRequest{})
	case MethodGetBlock:
		req := new(rpc.GetBlockRequest)
		if err := cbor.Unmarshal(body, req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		out, err = b.cfg.service.GetBlock(ctx, req)
	case MethodGetMempool:
		out, err = b.cfg.service.GetMempool(ctx, &rpc.GetMempoolRequest{})
	case MethodGetMempoolDiff:
		req := new(rpc.GetMempoolDiffRequest)
		if err := cbor.Unmarshal(body, req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		out, err = b.cfg.service.GetMempoolDiff(ctx, req)
	case MethodGetTransaction:
		req := new(rpc.GetTransactionRequest)
		if err := cbor.Unmarshal(body, req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		out, err = b.cfg.service.GetTransaction(ctx, req)
	case MethodSubmitTransaction:
		req := new(rpc.SubmitTransactionRequest)
		if err := cbor.Unmarshal(body, req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		out, err = b.cfg.service.SubmitTransaction(ctx, req)
	case MethodGetServerInfo:
		out, err = b.cfg.service.GetServerInfo(ctx, &rpc.GetServerInfoRequest{})
	default:
		return nil, status.Errorf(codes.Unimplemented, "method %s not available over mixnet", method)
	}
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(out)
}
