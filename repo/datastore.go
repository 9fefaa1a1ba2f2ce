// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

import (
	"github.com/ipfs/go-datastore"
	badger "github.com/ipfs/go-ds-badger"
)

// Datastore is the persistence interface handed to components that
// survive restarts.
type Datastore interface {
	datastore.Datastore
	datastore.Batching
	datastore.PersistentDatastore
}

// NewDatastore opens the badger-backed datastore rooted at dataDir.
func NewDatastore(dataDir string) (Datastore, error) {
	return badger.NewDatastore(dataDir, &badger.DefaultOptions)
}
