// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package chaincache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/project-illium/lantern/types"
)

// Health describes the cache's ability to serve fresh data.
type Health int32

const (
	// Healthy means the cache is tracking the node's tip.
	Healthy Health = iota

	// Degraded means the node has been unreachable for longer than the
	// staleness threshold. Reads serve the last good snapshot.
	Degraded

	// Failed means the cache hit a reorg deeper than the configured
	// maximum. New subscriptions are refused until an external resync.
	Failed
)

var healthStrings = map[Health]string{
	Healthy:  "Healthy",
	Degraded: "Degraded",
	Failed:   "Failed",
}

// String returns the Health in human-readable form.
func (h Health) String() string {
	if s, ok := healthStrings[h]; ok {
		return s
	}
	return "Unknown"
}

// Cache maintains an authoritative in-process view of the canonical
// chain tail. A single writer goroutine polls the node and mutates the
// state; readers work from immutable snapshots published with an atomic
// pointer swap and never block the writer.
type Cache struct {
	cfg  *config
	snap atomic.Pointer[snapshot]

	lastPoll   atomic.Int64
	failed     atomic.Bool
	lastHealth atomic.Int32

	// publishMtx serializes snapshot publication with subscriber
	// registration so a new subscriber's backfill and its live feed
	// never overlap or gap.
	publishMtx sync.Mutex
	subs       map[uint64]*Subscription
	nextSubID  uint64

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewCache returns a cache ready to be started. If a datastore was
// provided the previously persisted window is reloaded.
func NewCache(opts ...Option) (*Cache, error) {
	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:  &cfg,
		subs: make(map[uint64]*Subscription),
		quit: make(chan struct{}),
	}
	c.snap.Store(newSnapshot())
	c.lastHealth.Store(int32(Degraded))

	if cfg.ds != nil {
		snap, err := loadSnapshot(cfg.ds, cfg.windowSize)
		if err != nil {
			return nil, err
		}
		if snap.initialized() {
			c.snap.Store(snap)
			log.Infof("reloaded %d cached block(s), tip %d", len(snap.blocks), snap.tip.Height)
		}
	}
	return c, nil
}

// Start launches the writer goroutine.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop halts the writer and waits for it to exit. Subscriptions are
// not closed; no further notifications will be delivered to them.
func (c *Cache) Stop() {
	close(c.quit)
	c.wg.Wait()
}

func (c *Cache) run() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.quit
		cancel()
	}()

	c.sync(ctx)

	ticker := time.NewTicker(c.cfg.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.sync(ctx)
		}
	}
}

// sync brings the cache up to the node's current tip. All mutation
// happens here, on the single writer goroutine.
func (c *Cache) sync(ctx context.Context) {
	if c.failed.Load() {
		return
	}
	defer c.refreshHealth()

	best, err := c.cfg.fetcher.BestHeight(ctx)
	if err != nil {
		log.Warnf("tip poll failed: %s", err)
		return
	}
	c.lastPoll.Store(time.Now().UnixNano())

	snap := c.snap.Load()
	if !snap.initialized() {
		if err := c.initialSync(ctx, best); err != nil {
			log.Warnf("initial sync aborted: %s", err)
		}
		return
	}

	// No forward progress reported. The node may still have switched to
	// a sibling or shorter branch, so verify the overlap hash.
	if best <= snap.tip.Height {
		hdr, err := c.cfg.fetcher.FetchHeader(ctx, best)
		if err != nil {
			log.Warnf("header check at %d failed: %s", best, err)
			return
		}
		cached, ok := snap.hashAt(best)
		if !ok {
			c.fail(ReorgDepthError{MaxDepth: c.cfg.maxReorgDepth})
			return
		}
		if hdr.ID != cached {
			if err := c.handleReorg(ctx, best); err != nil {
				return
			}
		} else {
			return
		}
	}

	for h := c.snap.Load().tip.Height + 1; h <= best; h++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		blk, err := c.cfg.fetcher.FetchBlock(ctx, h)
		if err != nil {
			log.Warnf("fetch block %d failed: %s", h, err)
			return
		}

		snap = c.snap.Load()
		parentHash, ok := snap.hashAt(h - 1)
		if ok && blk.Header.Parent != parentHash {
			if err := c.handleReorg(ctx, h-1); err != nil {
				return
			}
			h = c.snap.Load().tip.Height
			continue
		}
		c.connect(blk)
	}
}

// initialSync backfills the most recent window of blocks from scratch.
func (c *Cache) initialSync(ctx context.Context, best uint32) error {
	start := uint32(0)
	if best+1 > c.cfg.windowSize {
		start = best + 1 - c.cfg.windowSize
	}
	log.Infof("starting initial sync from height %d to %d", start, best)

	for h := start; h <= best; h++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		blk, err := c.cfg.fetcher.FetchBlock(ctx, h)
		if err != nil {
			return err
		}
		snap := c.snap.Load()
		if parentHash, ok := snap.hashAt(h - 1); ok && blk.Header.Parent != parentHash {
			// The node reorged underneath the backfill. Bail out and
			// let the next poll reconcile.
			return AssertError("parent hash mismatch during initial sync")
		}
		c.connect(blk)
	}
	return nil
}

// handleReorg walks backward from the given height until the node and
// the cache agree on a block hash, discards everything above that
// common ancestor and emits a ReorgEvent. A walk deeper than the
// configured maximum is fatal.
func (c *Cache) handleReorg(ctx context.Context, from uint32) error {
	snap := c.snap.Load()

	ancestor := from
	for {
		if snap.tip.Height-ancestor >= c.cfg.maxReorgDepth {
			err := ReorgDepthError{MaxDepth: c.cfg.maxReorgDepth}
			c.fail(err)
			return err
		}
		cached, ok := snap.hashAt(ancestor)
		if !ok {
			err := ReorgDepthError{MaxDepth: c.cfg.maxReorgDepth}
			c.fail(err)
			return err
		}
		hdr, err := c.cfg.fetcher.FetchHeader(ctx, ancestor)
		if err != nil {
			log.Warnf("ancestor header fetch at %d failed: %s", ancestor, err)
			return err
		}
		if hdr.ID == cached {
			break
		}
		if ancestor == 0 {
			err := ReorgDepthError{MaxDepth: c.cfg.maxReorgDepth}
			c.fail(err)
			return err
		}
		ancestor--
	}

	c.publishMtx.Lock()
	cur := c.snap.Load()
	next, orphaned := cur.truncate(ancestor)
	c.snap.Store(next)
	ev := &ReorgEvent{
		CommonAncestor: ancestor,
		OrphanedTip:    cur.tip.Height,
		NewTip:         next.tip,
	}
	c.fanoutLocked(&Notification{Type: NTReorg, Data: ev})
	c.publishMtx.Unlock()

	if c.cfg.ds != nil {
		if err := removeBlocks(c.cfg.ds, orphaned, next.tip); err != nil {
			log.Errorf("trimming orphaned blocks from datastore: %s", err)
		}
	}

	log.Warnf("chain reorg: common ancestor %d, orphaned heights %d-%d",
		ancestor, ancestor+1, cur.tip.Height)
	return nil
}

// connect appends blk as the new tip and publishes the snapshot.
func (c *Cache) connect(blk *types.CompactBlock) {
	c.publishMtx.Lock()
	cur := c.snap.Load()
	next, evicted := cur.extend(blk, c.cfg.windowSize)
	c.snap.Store(next)
	c.fanoutLocked(&Notification{Type: NTBlockConnected, Data: blk})
	c.publishMtx.Unlock()

	if c.cfg.ds != nil {
		if err := persistBlock(c.cfg.ds, blk, evicted); err != nil {
			log.Errorf("persisting block %d: %s", blk.Height(), err)
		}
	}
	log.Debugf("connected block %d %s", blk.Height(), blk.ID())
}

// fail records a fatal inconsistency. The writer stops making forward
// progress and new subscriptions are refused until an external resync.
func (c *Cache) fail(err error) {
	c.failed.Store(true)
	log.Errorf("fatal chain inconsistency: %s; cache halted, resync required", err)
}

func (c *Cache) computeHealth() Health {
	if c.failed.Load() {
		return Failed
	}
	last := c.lastPoll.Load()
	if last == 0 || time.Since(time.Unix(0, last)) > c.cfg.stalenessThreshold {
		return Degraded
	}
	if !c.snap.Load().initialized() {
		return Degraded
	}
	return Healthy
}

func (c *Cache) refreshHealth() {
	h := c.computeHealth()
	prev := Health(c.lastHealth.Swap(int32(h)))
	if prev != h {
		log.Infof("cache health: %s -> %s", prev, h)
		c.publishMtx.Lock()
		c.fanoutLocked(&Notification{Type: NTHealthChanged, Data: h})
		c.publishMtx.Unlock()
	}
}

// Health reports the cache's current health.
func (c *Cache) Health() Health {
	return c.computeHealth()
}

// Tip returns the highest cached block considered canonical.
func (c *Cache) Tip() (types.ChainTip, error) {
	snap := c.snap.Load()
	if !snap.initialized() {
		return types.ChainTip{}, ErrNotYetFetched
	}
	return snap.tip, nil
}

// GetBlock returns the cached compact block at the given height.
// Heights below the retention window return ErrEvicted; heights above
// the cached tip return ErrNotYetFetched.
func (c *Cache) GetBlock(height uint32) (*types.CompactBlock, error) {
	snap := c.snap.Load()
	if !snap.initialized() || height > snap.tip.Height {
		return nil, ErrNotYetFetched
	}
	if height < snap.lowest {
		return nil, ErrEvicted
	}
	blk, ok := snap.block(height)
	if !ok {
		return nil, AssertError("height inside window but missing from snapshot")
	}
	return blk, nil
}

// SubscribeEvents registers for live cache notifications.
func (c *Cache) SubscribeEvents() (*Subscription, error) {
	if c.failed.Load() {
		return nil, ErrCacheFailed
	}
	c.publishMtx.Lock()
	defer c.publishMtx.Unlock()
	return c.registerLocked(c.cfg.eventBufferSize), nil
}

// SubscribeFrom registers for block notifications starting at the
// given height. Cached blocks from height through the current tip are
// queued on the subscription up front; delivery then continues live
// with no gap and no duplicate. Eviction of old heights never affects
// an already-registered subscription since delivery is push-based.
//
// buffer bounds the live-delivery queue; zero or negative selects the
// cache's configured default.
func (c *Cache) SubscribeFrom(height uint32, buffer int) (*Subscription, error) {
	if c.failed.Load() {
		return nil, ErrCacheFailed
	}
	if buffer <= 0 {
		buffer = c.cfg.eventBufferSize
	}

	c.publishMtx.Lock()
	defer c.publishMtx.Unlock()

	snap := c.snap.Load()
	var backfill []*types.CompactBlock
	if snap.initialized() && height <= snap.tip.Height {
		if height < snap.lowest {
			return nil, ErrEvicted
		}
		for h := height; h <= snap.tip.Height; h++ {
			blk, ok := snap.block(h)
			if !ok {
				return nil, AssertError("height inside window but missing from snapshot")
			}
			backfill = append(backfill, blk)
		}
	}

	sub := c.registerLocked(len(backfill) + buffer)
	for _, blk := range backfill {
		sub.C <- &Notification{Type: NTBlockConnected, Data: blk}
	}
	return sub, nil
}

func (c *Cache) registerLocked(buffer int) *Subscription {
	id := c.nextSubID
	c.nextSubID++
	sub := &Subscription{
		C:     make(chan *Notification, buffer),
		id:    id,
		cache: c,
	}
	c.subs[id] = sub
	return sub
}

func (c *Cache) unsubscribe(id uint64) {
	c.publishMtx.Lock()
	delete(c.subs, id)
	c.publishMtx.Unlock()
}

// fanoutLocked delivers a notification to every subscriber without
// ever blocking the writer: a full buffer loses its oldest entry.
// Callers must hold publishMtx.
func (c *Cache) fanoutLocked(n *Notification) {
	for id, sub := range c.subs {
		select {
		case sub.C <- n:
			continue
		default:
		}
		select {
		case <-sub.C:
		default:
		}
		select {
		case sub.C <- n:
		default:
		}
		log.Debugf("subscriber %d lagging, dropped oldest notification", id)
	}
}
