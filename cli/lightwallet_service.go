// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/project-illium/lantern/types"
)

type GetTip struct {
	opts *options
}

func (x *GetTip) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	resp, err := client.GetTip(makeContext(x.opts.AuthToken))
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type GetBlock struct {
	opts   *options
	Height uint32 `short:"t" long:"height" description:"The height of the block to fetch"`
}

func (x *GetBlock) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	resp, err := client.GetBlock(makeContext(x.opts.AuthToken), x.Height)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type GetBlockRange struct {
	opts  *options
	Start uint32 `short:"s" long:"start" description:"The first height in the range (inclusive)"`
	End   uint32 `short:"e" long:"end" description:"The last height in the range (inclusive)"`
}

func (x *GetBlockRange) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	stream, err := client.GetBlockRange(makeContext(x.opts.AuthToken), x.Start, x.End)
	if err != nil {
		return err
	}
	for {
		blk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := printJSON(blk); err != nil {
			return err
		}
	}
}

type GetMempool struct {
	opts *options
}

func (x *GetMempool) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	resp, err := client.GetMempool(makeContext(x.opts.AuthToken))
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type GetMempoolDiff struct {
	opts       *options
	Generation uint64 `short:"g" long:"generation" description:"The last generation seen by this client. Zero returns the full set."`
}

func (x *GetMempoolDiff) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	resp, err := client.GetMempoolDiff(makeContext(x.opts.AuthToken), x.Generation)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type GetTransaction struct {
	opts *options
	Txid string `short:"i" long:"id" description:"The transaction ID to look up"`
}

func (x *GetTransaction) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	txid, err := types.NewIDFromString(x.Txid)
	if err != nil {
		return err
	}
	resp, err := client.GetTransaction(makeContext(x.opts.AuthToken), txid)
	if err != nil {
		return err
	}
	out := struct {
		Raw    string `json:"raw"`
		Height uint32 `json:"height"`
	}{
		Raw:    hex.EncodeToString(resp.Raw),
		Height: resp.Height,
	}
	return printJSON(out)
}

type SubmitTransaction struct {
	opts *options
	Tx   string `short:"x" long:"tx" description:"The serialized transaction in hex format"`
}

func (x *SubmitTransaction) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(x.Tx)
	if err != nil {
		return err
	}
	resp, err := client.SubmitTransaction(makeContext(x.opts.AuthToken), raw)
	if err != nil {
		return err
	}
	fmt.Println(resp.Txid.String())
	return nil
}

type GetServerInfo struct {
	opts *options
}

func (x *GetServerInfo) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	resp, err := client.GetServerInfo(makeContext(x.opts.AuthToken))
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type SubscribeBlocks struct {
	opts *options
	From uint32 `short:"f" long:"fromheight" description:"Backfill from this height before streaming live blocks. Zero streams from the next connected block."`
}

func (x *SubscribeBlocks) Execute(args []string) error {
	client, err := makeClient(x.opts)
	if err != nil {
		return err
	}
	sub, err := client.SubscribeBlocks(makeContext(x.opts.AuthToken), x.From)
	if err != nil {
		return err
	}
	for {
		n, err := sub.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := printJSON(n); err != nil {
			return err
		}
	}
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
