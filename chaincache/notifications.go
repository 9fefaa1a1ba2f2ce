// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package chaincache

import (
	"fmt"

	"github.com/project-illium/lantern/types"
)

// NotificationType represents the type of a notification message.
type NotificationType int

const (
	// NTBlockConnected indicates the associated block was connected to
	// the canonical chain.
	NTBlockConnected NotificationType = iota

	// NTReorg indicates a range of previously connected blocks was
	// replaced by a different branch.
	NTReorg

	// NTHealthChanged indicates the cache's health state changed.
	NTHealthChanged
)

// notificationTypeStrings is a map of notification types back to their
// constant names for pretty printing.
var notificationTypeStrings = map[NotificationType]string{
	NTBlockConnected: "NTBlockConnected",
	NTReorg:          "NTReorg",
	NTHealthChanged:  "NTHealthChanged",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
}

// Notification is sent on a Subscription's channel. Data depends on
// the type as follows:
//   - NTBlockConnected: *types.CompactBlock
//   - NTReorg:          *ReorgEvent
//   - NTHealthChanged:  Health
type Notification struct {
	Type NotificationType
	Data interface{}
}

// ReorgEvent describes the replacement of a previously accepted block
// range by a different branch reported by the node. Heights in
// [CommonAncestor+1, OrphanedTip] were discarded.
type ReorgEvent struct {
	CommonAncestor uint32
	OrphanedTip    uint32
	NewTip         types.ChainTip
}

// Subscription is a registered consumer of cache notifications. The
// channel is buffered; if a consumer falls behind, the oldest queued
// notification is dropped rather than blocking the cache's writer.
// Consumers detect the resulting gap from block heights and recover
// with point queries.
type Subscription struct {
	C chan *Notification

	id    uint64
	cache *Cache
}

// Close unregisters the subscription. No further notifications are
// delivered after Close returns. Already-queued notifications remain
// readable on C until it is drained; C is never closed by the cache.
func (sub *Subscription) Close() {
	sub.cache.unsubscribe(sub.id)
}
