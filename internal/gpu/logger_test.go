// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/tilematch"
)

func TestSlogger_FollowsRootLogger(t *testing.T) {
	orig := tilematch.Logger()
	t.Cleanup(func() { tilematch.SetLogger(orig) })

	var buf bytes.Buffer
	tilematch.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	slogger().Info("gpu: adapter selected", "name", "test")

	out := buf.String()
	for _, want := range []string{"component=gpu", "adapter selected", "name=test"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}
