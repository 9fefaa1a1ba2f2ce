// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package fetch

import (
	"errors"
	"net/http"
	"time"
)

const (
	defaultRequestTimeout = time.Second * 30
	defaultMaxRetries     = 5
)

// Option is a configuration option function for the NodeClient.
type Option func(cfg *config) error

// DefaultOptions returns an Option that fills in the default settings.
func DefaultOptions() Option {
	return func(cfg *config) error {
		cfg.requestTimeout = defaultRequestTimeout
		cfg.maxRetries = defaultMaxRetries
		return nil
	}
}

// Endpoint is the URL of the full node's JSON-RPC interface.
//
// This option is required.
func Endpoint(endpoint string) Option {
	return func(cfg *config) error {
		cfg.endpoint = endpoint
		return nil
	}
}

// Credentials sets the basic auth user and password for the node's
// RPC interface.
func Credentials(user, password string) Option {
	return func(cfg *config) error {
		cfg.rpcUser = user
		cfg.rpcPassword = password
		return nil
	}
}

// MaxRetries is the number of times a call is retried on a transient
// error before it is surfaced as ErrNodeUnreachable.
func MaxRetries(n uint64) Option {
	return func(cfg *config) error {
		cfg.maxRetries = n
		return nil
	}
}

// RequestTimeout bounds each individual RPC attempt.
func RequestTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.requestTimeout = d
		return nil
	}
}

// HTTPClient overrides the http client used for RPC calls. Used
// primarily by tests.
func HTTPClient(client *http.Client) Option {
	return func(cfg *config) error {
		cfg.httpClient = client
		return nil
	}
}

type config struct {
	endpoint       string
	rpcUser        string
	rpcPassword    string
	requestTimeout time.Duration
	maxRetries     uint64
	httpClient     *http.Client
}

func (cfg *config) validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.endpoint == "" {
		return errors.New("node endpoint is required")
	}
	return nil
}
