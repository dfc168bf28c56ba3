// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/tilematch"
)

// gpuLogger is the root logger tagged with component=gpu. It is replaced on
// every tilematch.SetLogger through the sink registered in register.go.
var gpuLogger atomic.Pointer[slog.Logger]

func slogger() *slog.Logger {
	if l := gpuLogger.Load(); l != nil {
		return l
	}
	return tilematch.Logger()
}

func setLogger(l *slog.Logger) {
	if l == nil {
		gpuLogger.Store(nil)
		return
	}
	gpuLogger.Store(l.With("component", "gpu"))
}
