// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scripts provides the built-in paper scripts.
//
// Each script renders to its surface on every frame and, if the surface
// has a Flush method, flushes it after drawing. Props changes are applied
// from the next frame.
package scripts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/kortschak/paper"
)

// Registry holds the built-in scripts.
type Registry struct {
	log *slog.Logger
	now func() time.Time
	// dataDir is the directory relative image paths are resolved
	// against before searching the XDG data directories.
	dataDir string
}

// NewRegistry returns a script registry. Relative image file paths are
// resolved against dataDir and then the paper XDG data directories. If
// now is nil, time.Now is used.
func NewRegistry(dataDir string, now func() time.Time, log *slog.Logger) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{log: log, now: now, dataDir: dataDir}
}

// Names returns the sorted names of the built-in scripts.
func Names() []string {
	names := []string{"clock", "color", "gif", "text"}
	slices.Sort(names)
	return names
}

// Script returns the named script.
func (r *Registry) Script(name string) (paper.Script, error) {
	switch name {
	case "color":
		return r.colorScript, nil
	case "text":
		return r.textScript, nil
	case "gif":
		return r.gifScript, nil
	case "clock":
		return r.clockScript, nil
	default:
		return nil, fmt.Errorf("no script %q", name)
	}
}

// flusher is a surface that must be flushed to be displayed.
type flusher interface {
	Flush() error
}

// flush flushes s if it is a flusher, logging any error.
func (r *Registry) flush(s paper.Surface, script string) {
	f, ok := s.(flusher)
	if !ok {
		return
	}
	err := f.Flush()
	if err != nil {
		r.log.LogAttrs(context.Background(), slog.LevelError, "flush", slog.String("script", script), slog.Any("error", err))
	}
}

// str returns the string value of key in p, or def if it is absent.
func str(p paper.Props, key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == paper.Removed {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return def, fmt.Errorf("%s: not a string: %T", key, v)
	}
	return s, nil
}

// number returns the numeric value of key in p, or def if it is absent.
func number(p paper.Props, key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == paper.Removed {
		return def, nil
	}
	switch v := v.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return def, fmt.Errorf("%s: not a number: %T", key, v)
	}
}

// duration returns the duration value of key in p, or def if it is absent.
// Strings are parsed with time.ParseDuration and numbers are milliseconds.
func duration(p paper.Props, key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == paper.Removed {
		return def, nil
	}
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return def, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	}
	ms, err := number(p, key, 0)
	if err != nil {
		return def, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// merged returns a copy of base with change applied, deleting keys that
// change marks as removed.
func merged(base, change paper.Props) paper.Props {
	p := make(paper.Props, len(base)+len(change))
	for k, v := range base {
		p[k] = v
	}
	for k, v := range change {
		if v == paper.Removed {
			delete(p, k)
			continue
		}
		p[k] = v
	}
	return p
}
