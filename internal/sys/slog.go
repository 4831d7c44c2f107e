// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

import (
	"log/slog"

	"github.com/kortschak/paper/internal/config"
)

// surfaceValue logs the placement of a surface without its props.
type surfaceValue struct {
	cfg *config.Surface
}

func (v surfaceValue) LogValue() slog.Value {
	if v.cfg == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{
		slog.String("script", v.cfg.Script),
		slog.String("page", v.cfg.Page),
		slog.Int("row", v.cfg.Row),
		slog.Int("col", v.cfg.Col),
	}
	if v.cfg.Threshold != 0 {
		attrs = append(attrs, slog.Float64("threshold", v.cfg.Threshold))
	}
	if v.cfg.Sum != nil {
		attrs = append(attrs, slog.String("sum", v.cfg.Sum.String()))
	}
	return slog.GroupValue(attrs...)
}
