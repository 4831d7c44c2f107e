// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"hash"
	"io/fs"
	"log/slog"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/gocode/gocodec"
	"github.com/fsnotify/fsnotify"

	"github.com/kortschak/paper/config"
	"github.com/kortschak/paper/internal/slogext"
)

// Manager is a configurations stream manager. It holds a progressive
// configuration state constructed from applying a sequence of configuration
// changes.
type Manager struct {
	fragments map[string]*System
	hash      hash.Hash
	log       *slog.Logger
}

// NewManager returns a new Manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		fragments: make(map[string]*System),
		hash:      sha1.New(),
		log:       log.With(slog.String("component", "config_manager")),
	}
}

// Apply applies the provided change to the current configuration state. Any
// error returned will be fs.PathError.
func (m *Manager) Apply(c Change) error {
	ctx := context.Background()
	m.log.LogAttrs(ctx, slog.LevelDebug, "apply", slog.Any("op", slogext.Stringer{Stringer: c.Op()}))
	for _, ev := range c.Event {
		_, ok := m.fragments[ev.Name]
		switch {
		case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
			m.log.LogAttrs(ctx, slog.LevelDebug, "apply write", slog.Any("change", changeValue{c}), slog.Bool("exists", ok))
			m.fragments[ev.Name] = c.Config

		case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
			m.log.LogAttrs(ctx, slog.LevelDebug, "apply remove", slog.Any("change", changeValue{c}))
			if !ok {
				return &fs.PathError{Op: "remove", Path: ev.Name, Err: fs.ErrNotExist}
			}
			delete(m.fragments, ev.Name)
		}
	}
	return nil
}

// Unify returns a complete unified configuration validated against the
// provided CUE schema. The configuration is returned as both a *System and
// a cue.Value to allow inspection of incomplete unification. The names of
// files that are included and those that remain to be included are also
// returned.
func (m *Manager) Unify(schema string) (cfg *System, val cue.Value, included, remain []string, err error) {
	ctx := cuecontext.New()

	u := ctx.CompileString(schema)
	codec := gocodec.New(ctx, nil)

	paths := make([]string, 0, len(m.fragments))
	for p := range m.fragments {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for i, p := range paths {
		if m.fragments[p] == nil {
			continue
		}
		w, err := codec.Decode(desum(m.fragments[p]))
		if err != nil {
			return nil, u, paths[:i], paths[i:], err
		}
		u = u.Unify(w)
		err = u.Validate()
		if err != nil {
			return nil, u, paths[:i], paths[i:], err
		}
	}
	var c System
	err = codec.Encode(u, &c)
	if err != nil {
		return nil, u, paths, nil, err
	}
	sum, err := resum(m.hash, &c)
	if err != nil {
		return nil, u, paths, nil, err
	}
	u, err = codec.Decode(&c)
	if err != nil {
		panic(fmt.Errorf("internal inconsistency: %v", err))
	}
	m.log.LogAttrs(context.Background(), slog.LevelDebug, "unified config", slog.Any("sum", slogext.Stringer{Stringer: &sum}))
	return &c, u, paths, nil, nil
}

// desum returns a shallow copy of c with all sums removed so that
// fragments with differing sums can be unified.
func desum(c *System) *System {
	var dst System
	if c.Host != nil {
		h := *c.Host
		h.Sum = nil
		dst.Host = &h
	}
	if c.Surfaces != nil {
		dst.Surfaces = make(map[string]*Surface, len(c.Surfaces))
	}
	for name, s := range c.Surfaces {
		if s == nil {
			dst.Surfaces[name] = nil
			continue
		}
		d := *s
		d.Sum = nil
		dst.Surfaces[name] = &d
	}
	return &dst
}

// resum sets the sums of the host and each surface in c and returns
// the sum of the complete configuration.
func resum(h hash.Hash, c *System) (sum Sum, err error) {
	enc := json.NewEncoder(h)
	if c.Host != nil {
		c.Host.Sum = nil
		err = enc.Encode(c.Host)
		if err != nil {
			return sum, err
		}
		c.Host.Sum = (*Sum)(h.Sum(nil))
		h.Reset()
	}
	for _, s := range c.Surfaces {
		if s == nil {
			continue
		}
		s.Sum = nil
		err = enc.Encode(s)
		if err != nil {
			return sum, err
		}
		s.Sum = (*Sum)(h.Sum(nil))
		h.Reset()
	}

	err = enc.Encode(c)
	if err != nil {
		return sum, err
	}
	sum = ([sha1.Size]byte)(h.Sum(nil))
	h.Reset()
	return sum, nil
}

// Fragments returns the currently held configuration fragments. It is intended
// only for debugging.
func (m *Manager) Fragments() map[string]*System { return m.fragments }

// Vet performs a validation of the provided configuration, returning a list
// of invalid paths and a CUE errors.Error explaining the issues found if
// the configuration is invalid. In addition to validation against
// [config.Schema], Vet reports surfaces that share a button position. The
// surface with the lexically first name keeps the position.
func Vet(cfg *System) (paths [][]string, err error) {
	p, err := Validate(config.Schema, cfg)
	if err != nil {
		return p, err
	}

	type position struct {
		page     string
		row, col int
	}
	names := make([]string, 0, len(cfg.Surfaces))
	for name := range cfg.Surfaces {
		names = append(names, name)
	}
	slices.Sort(names)
	owner := make(map[position]string)
	for _, name := range names {
		s := cfg.Surfaces[name]
		if s == nil {
			continue
		}
		page := s.Page
		if page == "" {
			page = "default"
		}
		pos := position{page: page, row: s.Row, col: s.Col}
		if prev, ok := owner[pos]; ok {
			paths = append(paths, []string{surfaceName, name})
			err = appendErr(err, fmt.Errorf("surface.%s: position %s/%d/%d already used by %s", name, page, s.Row, s.Col, prev))
			continue
		}
		owner[pos] = name
	}
	return unique(paths), err
}

// Repair removes surfaces in cfg that correspond to invalid field paths
// identified by Vet until no invalid fields are found, and returns the
// result. Paths referring to invalid fields in the host configuration
// will result in an error. The final result may have no surfaces.
func Repair(cfg *System, paths [][]string) (*System, error) {
	var err error
	for {
		cfg, err = remove(cfg, paths, true)
		if err != nil {
			return cfg, err
		}
		paths, err = Vet(cfg)
		if err == nil {
			return cfg, nil
		}
		if len(paths) == 0 {
			return cfg, err
		}
	}
}

func appendErr(dst, next error) error {
	if dst == nil {
		return next
	}
	return cerrors.Append(
		cerrors.Promote(dst, ""),
		cerrors.Promote(next, ""),
	)
}
