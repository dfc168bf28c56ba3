// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package tilematch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

var (
	sinksMu sync.RWMutex
	sinks   []func(*slog.Logger)
)

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for tilematch and all its sub-packages.
// By default nothing is logged. Pass nil to restore the silent default.
//
// Log levels used by tilematch:
//   - [slog.LevelDebug]: pipeline state, buffer sizes, sequencer transitions
//   - [slog.LevelInfo]: lifecycle events (adapter selected, corpus loaded, resume)
//   - [slog.LevelWarn]: non-fatal issues (failed readbacks, kernel reload errors, export errors)
//
// Example:
//
//	tilematch.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	sinksMu.RLock()
	defer sinksMu.RUnlock()
	for _, fn := range sinks {
		fn(l)
	}
}

// Logger returns the current logger. Sub-packages call this to share the
// same configuration without introducing import cycles.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// RegisterLoggerSink registers fn to receive the logger on every SetLogger
// call. fn is invoked immediately with the current logger. Packages that
// keep their own package-level logger (the GPU backend) use this to stay in
// sync with the root configuration.
func RegisterLoggerSink(fn func(*slog.Logger)) {
	if fn == nil {
		return
	}
	sinksMu.Lock()
	sinks = append(sinks, fn)
	sinksMu.Unlock()
	fn(Logger())
}
