// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mixnet

import (
	"errors"
	"time"

	"github.com/project-illium/lantern/rpc"
)

const (
	defaultWorkers        = 8
	defaultRequestTimeout = time.Second * 30
	defaultCorrelationTTL = time.Minute * 2
	defaultSweepInterval  = time.Second * 15
)

// Option is configuration option function for the Bridge.
type Option func(cfg *config) error

// WithTransport sets the anonymous transport envelopes are exchanged
// over.
//
// This option is required.
func WithTransport(t Transport) Option {
	return func(cfg *config) error {
		cfg.transport = t
		return nil
	}
}

// Service sets the lightwallet service requests are dispatched to.
//
// This option is required.
func Service(s rpc.LightwalletServiceServer) Option {
	return func(cfg *config) error {
		cfg.service = s
		return nil
	}
}

// Workers sets the number of goroutines handling requests.
//
// Default: 8
func Workers(n int) Option {
	return func(cfg *config) error {
		cfg.workers = n
		return nil
	}
}

// RequestTimeout bounds how long a single request may take against the
// backing service.
//
// Default: 30 seconds
func RequestTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.requestTimeout = d
		return nil
	}
}

// CorrelationTTL sets how long a completed correlation token is
// remembered for duplicate suppression.
//
// Default: 2 minutes
func CorrelationTTL(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.correlationTTL = d
		return nil
	}
}

// SweepInterval sets how often expired correlations are reaped.
//
// Default: 15 seconds
func SweepInterval(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.sweepInterval = d
		return nil
	}
}

type config struct {
	transport      Transport
	service        rpc.LightwalletServiceServer
	workers        int
	requestTimeout time.Duration
	correlationTTL time.Duration
	sweepInterval  time.Duration
}

func (cfg *config) validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.transport == nil {
		return errors.New("transport is nil")
	}
	if cfg.service == nil {
		return errors.New("service is nil")
	}
	if cfg.workers == 0 {
		cfg.workers = defaultWorkers
	}
	if cfg.workers < 0 {
		return errors.New("workers must be positive")
	}
	if cfg.requestTimeout == 0 {
		cfg.requestTimeout = defaultRequestTimeout
	}
	if cfg.correlationTTL == 0 {
		cfg.correlationTTL = defaultCorrelationTTL
	}
	if cfg.sweepInterval == 0 {
		cfg.sweepInterval = defaultSweepInterval
	}
	return nil
}
