// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/project-illium/lantern/repo"
	"github.com/project-illium/lantern/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

const (
	authenticationTokenKey = "AuthenticationToken"
	defaultConfigFilename  = "lanterncli.conf"
)

type options struct {
	ShowVersion bool   `short:"v" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	AuthToken   string `short:"t" long:"authtoken" description:"The lantern gRPC authentication token if needed"`
	ServerAddr  string `short:"a" long:"serveraddr" description:"The address of the lantern gRPC server (in multiaddr format)" default:"/ip4/127.0.0.1/tcp/5001"`
	RPCCert     string `long:"rpccert" description:"A path to the SSL certificate to use with gRPC (this is only needed if using a self-signed cert)" default:"~/.lantern/rpc.cert"`
}

func main() {

	var configFile string
	for i, arg := range os.Args {
		if strings.HasPrefix(arg, "--configfile=") {
			configFile = strings.Split(arg, "--configfile=")[1]
		} else if arg == "-C" && len(os.Args) > i+1 {
			configFile = os.Args[i+1]
		}
	}
	if configFile == "" {
		configFile = filepath.Join(repo.DefaultHomeDir, defaultConfigFilename)
	}

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			usageMessage := "Use lanterncli -h to show usage"
			fmt.Fprintln(os.Stderr, usageMessage)
			log.Fatal(err)
		}
	}
	if len(os.Args) == 2 && os.Args[1] == "-v" {
		fmt.Println(repo.VersionString())
		return
	}

	parser = flags.NewNamedParser("lanterncli", flags.HelpFlag)
	parser.AddGroup("Connection options", "Configuration options for connecting to lantern", &opts)

	parser.AddCommand("gettip", "Returns the current chain tip", "Returns the height and hash of the best block in the cache window", &GetTip{opts: &opts})
	parser.AddCommand("getblock", "Returns the compact block at the given height", "Returns the compact block at the given height", &GetBlock{opts: &opts})
	parser.AddCommand("getblockrange", "Returns the compact blocks in the given height range", "Streams the compact blocks for the inclusive height range in ascending order", &GetBlockRange{opts: &opts})
	parser.AddCommand("getmempool", "Returns the pending transaction set", "Returns the full pending transaction set along with its generation number", &GetMempool{opts: &opts})
	parser.AddCommand("getmempooldiff", "Returns the mempool changes since a generation", "Returns the transactions added to and removed from the mempool since the given generation. Generation 0 returns the full set.", &GetMempoolDiff{opts: &opts})
	parser.AddCommand("gettransaction", "Returns the transaction for the given transaction ID", "Returns the raw transaction and the height it was mined at, or 0 if unmined", &GetTransaction{opts: &opts})
	parser.AddCommand("submittransaction", "Submits a raw transaction to the network", "Relays a raw transaction to the backing node. An error is returned if the node rejects it.", &SubmitTransaction{opts: &opts})
	parser.AddCommand("getserverinfo", "Returns info about the server", "Returns the server version, chain name, tip, health and mempool generation", &GetServerInfo{opts: &opts})
	parser.AddCommand("subscribeblocks", "Streams blocks as they are connected", "Subscribes to block notifications and prints each one as it arrives. Runs until interrupted.", &SubscribeBlocks{opts: &opts})

	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		log.Fatal(err)
	}

}

func makeContext(authToken string) context.Context {
	ctx := context.Background()
	if authToken != "" {
		md := metadata.Pairs(authenticationTokenKey, authToken)
		ctx = metadata.NewOutgoingContext(context.Background(), md)
	}
	return ctx
}

func makeClient(opts *options) (*rpc.Client, error) {
	certFile := repo.CleanAndExpandPath(opts.RPCCert)

	var (
		creds credentials.TransportCredentials
		err   error
	)
	if opts.RPCCert != "" {
		creds, err = credentials.NewClientTLSFromFile(certFile, "")
		if err != nil {
			return nil, err
		}
	} else {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}
	ma, err := multiaddr.NewMultiaddr(opts.ServerAddr)
	if err != nil {
		return nil, err
	}

	netAddr, err := manet.ToNetAddr(ma)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.Dial(netAddr.String(), grpc.WithTransportCredentials(creds), grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(1000000)))
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(conn), nil
}
