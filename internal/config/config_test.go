// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kortschak/paper/internal/locked"
	"github.com/kortschak/paper/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func ptr[T any](v T) *T { return &v }

// ignoreSums ignores computed sums when comparing configurations.
var ignoreSums = cmp.Options{
	cmpopts.IgnoreFields(Host{}, "Sum"),
	cmpopts.IgnoreFields(Surface{}, "Sum"),
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	var buf locked.BytesBuffer
	t.Cleanup(func() {
		if *verbose {
			t.Logf("log:\n%s\n", buf.String())
		}
	})
	return slog.New(slogext.NewJSONHandler(&buf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
}
