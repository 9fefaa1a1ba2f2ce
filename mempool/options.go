// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"time"

	"github.com/project-illium/lantern/fetch"
)

const (
	defaultPollInterval = time.Second * 2
	defaultDiffHistory  = 64
)

// Option is a configuration option function for the Tracker.
type Option func(cfg *config) error

// DefaultOptions returns an Option that fills in the default settings.
func DefaultOptions() Option {
	return func(cfg *config) error {
		cfg.pollInterval = defaultPollInterval
		cfg.diffHistory = defaultDiffHistory
		return nil
	}
}

// Node is the full node backend the tracker polls.
//
// This option is required.
func Node(fetcher fetch.Fetcher) Option {
	return func(cfg *config) error {
		cfg.fetcher = fetcher
		return nil
	}
}

// PollInterval is the cadence at which the tracker refreshes the
// mempool view. It is independent of the block cache's cadence.
func PollInterval(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.pollInterval = d
		return nil
	}
}

// DiffHistory is the number of past generations whose diffs are
// retained. DiffSince calls reaching further back than this return
// ErrGenerationEvicted.
func DiffHistory(n int) Option {
	return func(cfg *config) error {
		cfg.diffHistory = n
		return nil
	}
}

type config struct {
	fetcher      fetch.Fetcher
	pollInterval time.Duration
	diffHistory  int
}

func (cfg *config) validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.fetcher == nil {
		return errors.New("node fetcher is required")
	}
	if cfg.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}
	if cfg.diffHistory <= 0 {
		return errors.New("diff history must be greater than zero")
	}
	return nil
}
