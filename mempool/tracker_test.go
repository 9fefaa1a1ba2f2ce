// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mempool

import (
	"context"
	"crypto/rand"
	"sort"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/project-illium/lantern/fetch"
	"github.com/project-illium/lantern/types"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func randomEntry() types.MempoolEntry {
	raw := make([]byte, 32)
	rand.Read(raw)
	return types.MempoolEntry{
		Txid:      types.NewID(raw),
		Raw:       raw,
		FirstSeen: time.Now(),
	}
}

func newTestTracker(t *testing.T, node *fetch.MockFetcher, opts ...Option) *Tracker {
	options := append([]Option{DefaultOptions(), Node(node)}, opts...)
	tracker, err := NewTracker(options...)
	assert.NoError(t, err)
	return tracker
}

func sortIDs(ids []types.ID) []types.ID {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Compare(ids[j]) < 0
	})
	return ids
}

func TestTrackerGenerations(t *testing.T) {
	node := fetch.NewMockFetcher()
	tracker := newTestTracker(t, node)

	assert.EqualValues(t, 0, tracker.Generation())

	e1, e2 := randomEntry(), randomEntry()
	node.SetMempool([]types.MempoolEntry{e1, e2})
	tracker.poll(context.Background())
	assert.EqualValues(t, 1, tracker.Generation())

	gen, entries := tracker.Entries()
	assert.EqualValues(t, 1, gen)
	assert.Len(t, entries, 2)

	// An unchanged pool still advances the generation.
	tracker.poll(context.Background())
	assert.EqualValues(t, 2, tracker.Generation())

	gen, txids := tracker.CurrentSet()
	assert.EqualValues(t, 2, gen)
	assert.ElementsMatch(t, []types.ID{e1.Txid, e2.Txid}, txids)
}

func TestTrackerPreservesFirstSeen(t *testing.T) {
	node := fetch.NewMockFetcher()
	tracker := newTestTracker(t, node)

	entry := randomEntry()
	node.SetMempool([]types.MempoolEntry{entry})
	tracker.poll(context.Background())

	_, entries := tracker.Entries()
	firstSeen := entries[0].FirstSeen

	// The same transaction reported again with a later timestamp keeps
	// its original first-seen time.
	later := entry
	later.FirstSeen = entry.FirstSeen.Add(time.Hour)
	node.SetMempool([]types.MempoolEntry{later})
	tracker.poll(context.Background())

	_, entries = tracker.Entries()
	assert.True(t, entries[0].FirstSeen.Equal(firstSeen))
}

func TestTrackerDiffSince(t *testing.T) {
	node := fetch.NewMockFetcher()
	tracker := newTestTracker(t, node)
	ctx := context.Background()

	e1, e2, e3 := randomEntry(), randomEntry(), randomEntry()

	node.SetMempool([]types.MempoolEntry{e1, e2})
	tracker.poll(ctx) // gen 1

	node.SetMempool([]types.MempoolEntry{e2, e3})
	tracker.poll(ctx) // gen 2: +e3 -e1

	added, removed, current, err := tracker.DiffSince(1)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, current)
	assert.Equal(t, []types.ID{e3.Txid}, added)
	assert.Equal(t, []types.ID{e1.Txid}, removed)

	// Generation 0 means "give me everything".
	added, removed, current, err = tracker.DiffSince(0)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, current)
	assert.ElementsMatch(t, []types.ID{e2.Txid, e3.Txid}, added)
	assert.Empty(t, removed)

	// Asking for the current generation yields an empty diff.
	added, removed, _, err = tracker.DiffSince(2)
	assert.NoError(t, err)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestTrackerBaselineDiffConsistency(t *testing.T) {
	node := fetch.NewMockFetcher()
	tracker := newTestTracker(t, node)
	ctx := context.Background()

	// Each poll adds exactly one transaction, so generation g holds g
	// entries. A full-set read racing the writer must return a set
	// belonging to the generation it reports.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			added, removed, current, err := tracker.DiffSince(0)
			if err != nil {
				t.Errorf("baseline diff failed: %s", err)
				return
			}
			if len(removed) != 0 || uint64(len(added)) != current {
				t.Errorf("generation %d paired with %d additions", current, len(added))
				return
			}
		}
	}()

	var entries []types.MempoolEntry
	for i := 0; i < 500; i++ {
		entries = append(entries, randomEntry())
		node.SetMempool(entries)
		tracker.poll(ctx)
	}
	<-done
}

func TestTrackerDiffNetsOutChurn(t *testing.T) {
	node := fetch.NewMockFetcher()
	tracker := newTestTracker(t, node)
	ctx := context.Background()

	e1, churn := randomEntry(), randomEntry()

	node.SetMempool([]types.MempoolEntry{e1})
	tracker.poll(ctx) // gen 1

	node.SetMempool([]types.MempoolEntry{e1, churn})
	tracker.poll(ctx) // gen 2: +churn

	node.SetMempool([]types.MempoolEntry{e1})
	tracker.poll(ctx) // gen 3: -churn

	// A transaction that came and went inside the window cancels out,
	// so applying the diff to the generation-1 set reproduces the
	// current set exactly.
	added, removed, current, err := tracker.DiffSince(1)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, current)
	assert.Empty(t, added)
	assert.Empty(t, removed)

	reconstructed := map[types.ID]struct{}{e1.Txid: {}}
	for _, txid := range added {
		reconstructed[txid] = struct{}{}
	}
	for _, txid := range removed {
		delete(reconstructed, txid)
	}
	_, want := tracker.CurrentSet()
	got := make([]types.ID, 0, len(reconstructed))
	for txid := range reconstructed {
		got = append(got, txid)
	}
	if diff := deep.Equal(sortIDs(got), sortIDs(want)); diff != nil {
		t.Error(diff)
	}
}

func TestTrackerDiffEviction(t *testing.T) {
	node := fetch.NewMockFetcher()
	tracker := newTestTracker(t, node, DiffHistory(2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		node.SetMempool([]types.MempoolEntry{randomEntry()})
		tracker.poll(ctx)
	}

	// Only diffs for generations 4 and 5 survive; generation 3 is the
	// oldest reconstructable baseline.
	_, _, _, err := tracker.DiffSince(2)
	assert.ErrorIs(t, err, ErrGenerationEvicted)

	_, _, _, err = tracker.DiffSince(3)
	assert.NoError(t, err)

	_, _, _, err = tracker.DiffSince(9)
	assert.ErrorIs(t, err, ErrFutureGeneration)
}

func TestTrackerStartStop(t *testing.T) {
	node := fetch.NewMockFetcher()
	entry := randomEntry()
	node.SetMempool([]types.MempoolEntry{entry})

	tracker := newTestTracker(t, node, PollInterval(10*time.Millisecond))
	tracker.Start()
	defer tracker.Stop()

	assert.Eventually(t, func() bool {
		_, txids := tracker.CurrentSet()
		return len(txids) == 1 && txids[0] == entry.Txid
	}, time.Second*5, 10*time.Millisecond)
}
