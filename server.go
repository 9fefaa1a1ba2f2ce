// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"strings"

	"github.com/project-illium/lantern/chaincache"
	"github.com/project-illium/lantern/fetch"
	"github.com/project-illium/lantern/mempool"
	"github.com/project-illium/lantern/mixnet"
	"github.com/project-illium/lantern/repo"
	"github.com/project-illium/lantern/rpc"
)

// Server is the main class that brings all the constituent parts
// together into a running lightwallet server.
type Server struct {
	config *repo.Config
	ds     repo.Datastore

	node       *fetch.NodeClient
	chain      *chaincache.Cache
	pool       *mempool.Tracker
	grpcServer *rpc.GrpcServer
	transport  *mixnet.SocketTransport
	bridge     *mixnet.Bridge
}

// BuildServer is the constructor for the server. We pass in the config
// file here and use it to configure all the various parts of the
// Server.
func BuildServer(config *repo.Config) (*Server, error) {
	// Logging
	if err := setupLogging(config.LogDir, config.LogLevel, config.Testnet); err != nil {
		return nil, err
	}

	chainName := "mainnet"
	if config.Testnet {
		chainName = "testnet"
	}

	s := &Server{config: config}

	// Node connection
	node, err := fetch.NewNodeClient(
		fetch.Endpoint(config.Node.Endpoint),
		fetch.Credentials(config.Node.RPCUser, config.Node.RPCPass),
		fetch.RequestTimeout(config.Node.RequestTimeout),
		fetch.MaxRetries(uint64(config.Node.MaxRetries)),
	)
	if err != nil {
		return nil, err
	}
	s.node = node

	// Chain state cache
	cacheOpts := []chaincache.Option{
		chaincache.DefaultOptions(),
		chaincache.Node(node),
		chaincache.PollInterval(config.Cache.PollInterval),
		chaincache.WindowSize(config.Cache.WindowSize),
		chaincache.MaxReorgDepth(config.Cache.MaxReorgDepth),
		chaincache.StalenessThreshold(config.Cache.StalenessThreshold),
	}
	if !config.NoPersist {
		ds, err := repo.NewDatastore(config.DataDir)
		if err != nil {
			return nil, err
		}
		s.ds = ds
		cacheOpts = append(cacheOpts, chaincache.Datastore(ds))
	}
	chain, err := chaincache.NewCache(cacheOpts...)
	if err != nil {
		return nil, err
	}
	s.chain = chain

	// Mempool tracker
	pool, err := mempool.NewTracker(
		mempool.DefaultOptions(),
		mempool.Node(node),
		mempool.PollInterval(config.Mempool.PollInterval),
		mempool.DiffHistory(config.Mempool.DiffHistory),
	)
	if err != nil {
		return nil, err
	}
	s.pool = pool

	// gRPC service
	overflow, err := rpc.ParseOverflowPolicy(config.RPCOpts.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	rpcCfg := &rpc.GrpcServerConfig{
		Chain:               chain,
		Mempool:             pool,
		Node:                node,
		ChainName:           chainName,
		Version:             repo.VersionString(),
		SubscriberQueueSize: config.RPCOpts.SubscriberQueueSize,
		OverflowPolicy:      overflow,
	}
	grpcServer, err := newGrpcServer(config.RPCOpts, rpcCfg)
	if err != nil {
		return nil, err
	}
	s.grpcServer = grpcServer

	// Mixnet bridge
	if config.MixnetOpts.Enable {
		transport, err := mixnet.NewSocketTransport(config.MixnetOpts.Socket)
		if err != nil {
			return nil, err
		}
		bridge, err := mixnet.NewBridge(
			mixnet.WithTransport(transport),
			mixnet.Service(grpcServer),
			mixnet.Workers(config.MixnetOpts.Workers),
			mixnet.RequestTimeout(config.MixnetOpts.RequestTimeout),
			mixnet.CorrelationTTL(config.MixnetOpts.CorrelationTTL),
		)
		if err != nil {
			return nil, err
		}
		s.transport = transport
		s.bridge = bridge
		transport.Start()
		bridge.Start()
	}

	chain.Start()
	pool.Start()

	log.Infof("lantern %s serving %s on %s", repo.VersionString(), chainName,
		config.RPCOpts.GrpcListener)
	return s, nil
}

// Close shuts down all the parts of the server.
func (s *Server) Close() error {
	if s.bridge != nil {
		s.transport.Stop()
		s.bridge.Stop()
	}
	if err := s.grpcServer.Close(); err != nil &&
		!strings.Contains(err.Error(), "Server closed") {
		return err
	}
	s.pool.Stop()
	s.chain.Stop()
	if s.ds != nil {
		return s.ds.Close()
	}
	return nil
}
