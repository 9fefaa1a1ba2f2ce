// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

import "fmt"

const (
	appMajor = 0
	appMinor = 1
	appPatch = 0
)

// VersionString returns the application version as a properly formed
// string.
func VersionString() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}
