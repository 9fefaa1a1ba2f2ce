// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mempool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/project-illium/lantern/types"
)

// poolSnapshot is an immutable view of the mempool at one generation.
type poolSnapshot struct {
	generation uint64
	entries    map[types.ID]types.MempoolEntry
}

// generationDiff records what changed between generation-1 and
// generation.
type generationDiff struct {
	generation uint64
	added      []types.ID
	removed    []types.ID
}

// Tracker maintains a diffable view of the node's pending transaction
// set. A single writer goroutine polls the node on its own cadence;
// readers work from an atomically swapped snapshot. The tracker makes
// no judgement about why a transaction left the mempool (confirmation
// or eviction look the same from here).
type Tracker struct {
	cfg  *config
	snap atomic.Pointer[poolSnapshot]

	// historyMtx guards the diff ring; only the writer appends.
	historyMtx sync.RWMutex
	history    []generationDiff

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewTracker returns a tracker ready to be started. Generation 0 is
// the empty set.
func NewTracker(opts ...Option) (*Tracker, error) {
	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		cfg:  &cfg,
		quit: make(chan struct{}),
	}
	t.snap.Store(&poolSnapshot{entries: make(map[types.ID]types.MempoolEntry)})
	return t, nil
}

// Start launches the poll goroutine.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop halts the poll goroutine and waits for it to exit.
func (t *Tracker) Stop() {
	close(t.quit)
	t.wg.Wait()
}

func (t *Tracker) run() {
	defer t.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-t.quit
		cancel()
	}()

	t.poll(ctx)

	ticker := time.NewTicker(t.cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.quit:
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

// poll refreshes the snapshot from the node and records the diff
// against the previous generation. Each poll increments the generation
// even when nothing changed, so clients can distinguish "no change"
// from "no data".
func (t *Tracker) poll(ctx context.Context) {
	fetched, err := t.cfg.fetcher.FetchMempool(ctx)
	if err != nil {
		log.Warnf("mempool poll failed: %s", err)
		return
	}

	prev := t.snap.Load()
	next := &poolSnapshot{
		generation: prev.generation + 1,
		entries:    make(map[types.ID]types.MempoolEntry, len(fetched)),
	}

	diff := generationDiff{generation: next.generation}
	for _, entry := range fetched {
		// Keep the original first-seen timestamp for entries that
		// persist across polls.
		if existing, ok := prev.entries[entry.Txid]; ok {
			entry.FirstSeen = existing.FirstSeen
		} else {
			diff.added = append(diff.added, entry.Txid)
		}
		next.entries[entry.Txid] = entry
	}
	for txid := range prev.entries {
		if _, ok := next.entries[txid]; !ok {
			diff.removed = append(diff.removed, txid)
		}
	}

	t.historyMtx.Lock()
	t.history = append(t.history, diff)
	if len(t.history) > t.cfg.diffHistory {
		t.history = t.history[len(t.history)-t.cfg.diffHistory:]
	}
	t.snap.Store(next)
	t.historyMtx.Unlock()

	if len(diff.added) > 0 || len(diff.removed) > 0 {
		log.Debugf("mempool generation %d: %d added, %d removed",
			next.generation, len(diff.added), len(diff.removed))
	}
}

// Generation returns the current generation number.
func (t *Tracker) Generation() uint64 {
	return t.snap.Load().generation
}

// CurrentSet returns the current generation and the set of pending
// transaction IDs.
func (t *Tracker) CurrentSet() (uint64, []types.ID) {
	snap := t.snap.Load()
	txids := make([]types.ID, 0, len(snap.entries))
	for txid := range snap.entries {
		txids = append(txids, txid)
	}
	return snap.generation, txids
}

// Entries returns the current generation and the full pending entries.
func (t *Tracker) Entries() (uint64, []types.MempoolEntry) {
	snap := t.snap.Load()
	entries := make([]types.MempoolEntry, 0, len(snap.entries))
	for _, entry := range snap.entries {
		entries = append(entries, entry)
	}
	return snap.generation, entries
}

// DiffSince returns the cumulative set difference between the given
// generation and now, along with the current generation. Passing
// generation 0 returns the full current set as additions. Transactions
// that were both added and removed inside the window cancel out.
func (t *Tracker) DiffSince(generation uint64) (added, removed []types.ID, current uint64, err error) {
	// Snapshot and history are read under the same lock the writer
	// publishes under, so the two are always consistent here.
	t.historyMtx.RLock()
	snap := t.snap.Load()
	current = snap.generation

	if generation > current {
		t.historyMtx.RUnlock()
		return nil, nil, current, ErrFutureGeneration
	}
	if generation == current {
		t.historyMtx.RUnlock()
		return nil, nil, current, nil
	}
	if generation == 0 {
		added = make([]types.ID, 0, len(snap.entries))
		for txid := range snap.entries {
			added = append(added, txid)
		}
		t.historyMtx.RUnlock()
		return added, nil, current, nil
	}

	// The oldest reconstructable baseline is the generation preceding
	// the first retained diff.
	if len(t.history) == 0 || generation < t.history[0].generation-1 {
		t.historyMtx.RUnlock()
		return nil, nil, current, ErrGenerationEvicted
	}

	addedSet := make(map[types.ID]struct{})
	removedSet := make(map[types.ID]struct{})
	for _, diff := range t.history {
		if diff.generation <= generation {
			continue
		}
		for _, txid := range diff.added {
			if _, ok := removedSet[txid]; ok {
				delete(removedSet, txid)
			} else {
				addedSet[txid] = struct{}{}
			}
		}
		for _, txid := range diff.removed {
			if _, ok := addedSet[txid]; ok {
				delete(addedSet, txid)
			} else {
				removedSet[txid] = struct{}{}
			}
		}
	}
	t.historyMtx.RUnlock()

	for txid := range addedSet {
		added = append(added, txid)
	}
	for txid := range removedSet {
		removed = append(removed, txid)
	}
	return added, removed, current, nil
}
