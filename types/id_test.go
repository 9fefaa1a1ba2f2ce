// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package types

import (
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDRoundTrips(t *testing.T) {
	raw := make([]byte, 32)
	rand.Read(raw)
	id := NewID(raw)

	parsed, err := NewIDFromString(id.String())
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)

	ser, err := json.Marshal(id)
	assert.NoError(t, err)
	var back ID
	assert.NoError(t, json.Unmarshal(ser, &back))
	assert.Equal(t, id, back)
}

func TestIDCompare(t *testing.T) {
	a := NewID(make([]byte, 32))
	b := a
	b[31] = 0x01

	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
}
