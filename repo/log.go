// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

import "go.uber.org/zap"

var log = zap.NewNop().Sugar()

// UseLogger sets the package logger.
func UseLogger(logger *zap.SugaredLogger) {
	log = logger
}
