// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package chaincache

import (
	"errors"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/project-illium/lantern/fetch"
)

const (
	defaultPollInterval       = time.Second * 5
	defaultWindowSize         = 100
	defaultMaxReorgDepth      = 12
	defaultStalenessThreshold = time.Minute * 2
	defaultEventBufferSize    = 32
)

// Option is a configuration option function for the Cache.
type Option func(cfg *config) error

// DefaultOptions returns an Option that fills in the default settings.
// You will almost certainly want to override some of the defaults, such
// as the fetcher, poll cadence and window size.
func DefaultOptions() Option {
	return func(cfg *config) error {
		cfg.pollInterval = defaultPollInterval
		cfg.windowSize = defaultWindowSize
		cfg.maxReorgDepth = defaultMaxReorgDepth
		cfg.stalenessThreshold = defaultStalenessThreshold
		cfg.eventBufferSize = defaultEventBufferSize
		return nil
	}
}

// Node is the full node backend the cache is fed from.
//
// This option is required.
func Node(fetcher fetch.Fetcher) Option {
	return func(cfg *config) error {
		cfg.fetcher = fetcher
		return nil
	}
}

// PollInterval is the cadence at which the writer polls the node for
// a new tip.
func PollInterval(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.pollInterval = d
		return nil
	}
}

// WindowSize is the number of most recent confirmed heights retained
// in the cache. Older heights are evicted and return ErrEvicted to new
// readers.
func WindowSize(n uint32) Option {
	return func(cfg *config) error {
		cfg.windowSize = n
		return nil
	}
}

// MaxReorgDepth bounds how far back the writer will walk looking for a
// common ancestor when the node reports a different branch. A deeper
// reorg is treated as a fatal inconsistency.
func MaxReorgDepth(n uint32) Option {
	return func(cfg *config) error {
		cfg.maxReorgDepth = n
		return nil
	}
}

// StalenessThreshold is how long the cache may go without a successful
// node poll before its health degrades.
func StalenessThreshold(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.stalenessThreshold = d
		return nil
	}
}

// EventBufferSize is the per-subscription notification buffer. A
// subscriber that falls further behind than this loses the oldest
// queued notifications.
func EventBufferSize(n int) Option {
	return func(cfg *config) error {
		cfg.eventBufferSize = n
		return nil
	}
}

// Datastore enables disk persistence of the cached window so a restart
// does not need to refetch it from the node.
func Datastore(ds datastore.Batching) Option {
	return func(cfg *config) error {
		cfg.ds = ds
		return nil
	}
}

type config struct {
	fetcher            fetch.Fetcher
	pollInterval       time.Duration
	windowSize         uint32
	maxReorgDepth      uint32
	stalenessThreshold time.Duration
	eventBufferSize    int
	ds                 datastore.Batching
}

func (cfg *config) validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.fetcher == nil {
		return errors.New("node fetcher is required")
	}
	if cfg.windowSize == 0 {
		return errors.New("window size must be greater than zero")
	}
	if cfg.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}
	if cfg.eventBufferSize <= 0 {
		return errors.New("event buffer size must be greater than zero")
	}
	return nil
}
