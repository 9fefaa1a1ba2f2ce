// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package fetch

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/project-illium/lantern/types"
)

// Node-side error codes that indicate the requested object does not
// exist rather than a transport fault.
const (
	rpcErrCodeNotFound    = -5
	rpcErrCodeOutOfRange  = -8
	rpcErrCodeVerifyError = -25
)

// NodeClient is a thin, retrying JSON-RPC transport over a full node.
// It holds no cache and no chain state; every call is answered by the
// node. All consistency logic lives in the layers above.
type NodeClient struct {
	cfg    *config
	client *http.Client
	reqID  uint64
}

// NewNodeClient returns a NodeClient ready for use.
func NewNodeClient(opts ...Option) (*NodeClient, error) {
	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.httpClient
	if client == nil {
		client = &http.Client{Timeout: cfg.requestTimeout}
	}

	return &NodeClient{
		cfg:    &cfg,
		client: client,
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs a single JSON-RPC request with no retry.
func (c *NodeClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.reqID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.rpcUser != "" {
		req.SetBasicAuth(c.cfg.rpcUser, c.cfg.rpcPassword)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected http status: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		switch rpcResp.Error.Code {
		case rpcErrCodeNotFound, rpcErrCodeOutOfRange:
			return backoff.Permanent(ErrNotFound)
		case rpcErrCodeVerifyError:
			return backoff.Permanent(RejectionError{Reason: rpcResp.Error.Message})
		default:
			return backoff.Permanent(*rpcResp.Error)
		}
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return backoff.Permanent(err)
		}
	}
	return nil
}

// callWithRetry wraps call in an exponential backoff. Transient errors
// are retried up to the configured maximum; exhaustion converts to
// ErrNodeUnreachable rather than being hidden from the caller.
func (c *NodeClient) callWithRetry(ctx context.Context, method string, params []interface{}, result interface{}) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Millisecond * 250
	eb.MaxElapsedTime = 0

	op := func() error {
		err := c.call(ctx, method, params, result)
		if err != nil && !isPermanent(err) {
			log.Debugf("rpc %s failed, will retry: %s", method, err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.maxRetries), ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// Retry unwraps permanent errors before returning them.
	if isPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %s", ErrNodeUnreachable, method, err)
}

// isPermanent reports whether err is a node-side answer rather than a
// transport fault. Permanent errors are returned to the caller as-is.
func isPermanent(err error) bool {
	var (
		rejErr  RejectionError
		rpcErr  RPCError
		permErr *backoff.PermanentError
	)
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.As(err, &rejErr) ||
		errors.As(err, &rpcErr) ||
		errors.As(err, &permErr)
}

// BestHeight returns the height of the node's current chain tip.
func (c *NodeClient) BestHeight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.callWithRetry(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// FetchBlock returns the compact block at the given height.
func (c *NodeClient) FetchBlock(ctx context.Context, height uint32) (*types.CompactBlock, error) {
	blk := new(types.CompactBlock)
	if err := c.callWithRetry(ctx, "getblock", []interface{}{height, 2}, blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// FetchHeader returns the block header at the given height.
func (c *NodeClient) FetchHeader(ctx context.Context, height uint32) (*types.BlockHeader, error) {
	header := new(types.BlockHeader)
	if err := c.callWithRetry(ctx, "getblockheader", []interface{}{height}, header); err != nil {
		return nil, err
	}
	return header, nil
}

// FetchHeaderRange returns headers for [start, end] inclusive, ordered
// by ascending height.
func (c *NodeClient) FetchHeaderRange(ctx context.Context, start, end uint32) ([]types.BlockHeader, error) {
	if start > end {
		return nil, fmt.Errorf("invalid header range [%d, %d]", start, end)
	}
	headers := make([]types.BlockHeader, 0, end-start+1)
	for height := start; height <= end; height++ {
		header, err := c.FetchHeader(ctx, height)
		if err != nil {
			return nil, err
		}
		headers = append(headers, *header)
	}
	return headers, nil
}

type mempoolEntryJSON struct {
	Txid string `json:"txid"`
	Hex  string `json:"hex"`
}

// FetchMempool returns the node's current pending transaction set.
func (c *NodeClient) FetchMempool(ctx context.Context) ([]types.MempoolEntry, error) {
	var raw []mempoolEntryJSON
	if err := c.callWithRetry(ctx, "getrawmempool", []interface{}{true}, &raw); err != nil {
		return nil, err
	}
	entries := make([]types.MempoolEntry, 0, len(raw))
	now := time.Now()
	for _, e := range raw {
		txid, err := types.NewIDFromString(e.Txid)
		if err != nil {
			return nil, fmt.Errorf("malformed txid in mempool response: %w", err)
		}
		rawTx, err := hex.DecodeString(e.Hex)
		if err != nil {
			return nil, fmt.Errorf("malformed tx hex in mempool response: %w", err)
		}
		entries = append(entries, types.MempoolEntry{
			Txid:      txid,
			Raw:       rawTx,
			FirstSeen: now,
		})
	}
	return entries, nil
}

type rawTransactionJSON struct {
	Hex    string `json:"hex"`
	Height uint32 `json:"height"`
}

// FetchTransaction returns the raw transaction with the given ID and
// the height it was mined at, or 0 if unmined.
func (c *NodeClient) FetchTransaction(ctx context.Context, txid types.ID) ([]byte, uint32, error) {
	var resp rawTransactionJSON
	if err := c.callWithRetry(ctx, "getrawtransaction", []interface{}{txid.String(), 1}, &resp); err != nil {
		return nil, 0, err
	}
	raw, err := hex.DecodeString(resp.Hex)
	if err != nil {
		return nil, 0, fmt.Errorf("malformed tx hex in response: %w", err)
	}
	return raw, resp.Height, nil
}

// SubmitTransaction relays a raw transaction to the node.
func (c *NodeClient) SubmitTransaction(ctx context.Context, raw []byte) (types.ID, error) {
	var txidStr string
	if err := c.callWithRetry(ctx, "sendrawtransaction", []interface{}{hex.EncodeToString(raw)}, &txidStr); err != nil {
		return types.ID{}, err
	}
	txid, err := types.NewIDFromString(txidStr)
	if err != nil {
		return types.ID{}, fmt.Errorf("malformed txid in submit response: %w", err)
	}
	return txid, nil
}
