// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package types

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the size, in bytes, of block and transaction IDs.
const HashSize = 32

var ErrIDStrSize = fmt.Errorf("max ID string length is %v bytes", HashSize*2)

// ID is a block or transaction hash.
type ID [HashSize]byte

// Compare returns 1 if id > target, -1 if id < target and
// 0 if id == target.
func (id ID) Compare(target ID) int {
	for i := 0; i < len(id); i++ {
		a := id[i]
		b := target[i]
		if a > b {
			return 1
		}
		if a < b {
			return -1
		}
	}
	return 0
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) Bytes() []byte {
	return id[:]
}

func (id *ID) SetBytes(data []byte) {
	copy(id[:], data)
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(id[:]) + `"`), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	i, err := NewIDFromString(string(data))
	if err != nil {
		return err
	}
	*id = i
	return nil
}

func NewID(digest []byte) ID {
	var sh ID
	sh.SetBytes(digest)
	return sh
}

func NewIDFromString(id string) (ID, error) {
	if len(id) > HashSize*2 {
		return ID{}, ErrIDStrSize
	}
	ret, err := hex.DecodeString(id)
	if err != nil {
		return ID{}, err
	}
	return NewID(ret), nil
}
