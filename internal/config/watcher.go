// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a set of related configuration changes identified by a Watcher.
type Change struct {
	Event  []fsnotify.Event
	Config *System
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// Watcher collects raw fsnotify.Events and aggregates and filters for
// semantically meaningful configuration changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	hashes   map[string]Sum
	log      *slog.Logger
}

// NewWatcher returns a Watcher for the provided directory that will send
// change events on the changes channel. If dir does not exist it is created.
// The debounce parameter specifies how long to wait after an fsnotify.Event
// before reading the file to ensure that writes will be reflected in the
// state checksum. If it is less than zero, FileDebounce is used.
func NewWatcher(ctx context.Context, dir string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	_, err := os.Stat(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return nil, err
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = w.Add(dir)
	if err != nil {
		w.Close()
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		watcher:  w,
		changes:  changes,
		hash:     sha1.New(),
		hashes:   make(map[string]Sum),
		log:      log.With(slog.String("component", "config_watcher")),
	}, nil
}

// Watch sends create events for all toml files currently in the watched
// directory and then sends semantically meaningful changes to the directory
// until ctx is cancelled. Watch closes the underlying fsnotify.Watcher
// before returning.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()
	err := w.init(ctx)
	if err != nil {
		return err
	}
	return w.process(ctx)
}

// init performs an initial scan of the watched directory, sending create
// events for all toml files found in lexical order.
func (w *Watcher) init(ctx context.Context) error {
	de, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range de {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
			w.send(ctx, Change{Err: err})
			continue
		}
		cfg, sum, err := unmarshalConfigs(w.hash, b)
		if cfg != nil {
			w.hashes[path] = sum
		}
		w.send(ctx, Change{
			Event:  []fsnotify.Event{{Name: path, Op: fsnotify.Create}},
			Config: cfg,
			Err:    err,
		})
	}
	return nil
}

// process watches the fsnotify.Watcher events performing aggregation
// and semantic filtering.
func (w *Watcher) process(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.send(ctx, Change{Err: err})
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".toml" {
				if ev.Has(fsnotify.Remove) && filepath.Clean(ev.Name) == filepath.Clean(w.dir) {
					w.replaceDir(ctx, ev)
				}
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name))
				time.Sleep(w.debounce)
				fi, err := os.Stat(ev.Name)
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						// Removed before we could read it; the
						// remove event will follow.
						continue
					}
					w.send(ctx, Change{Err: err})
					continue
				}
				if fi.IsDir() {
					continue
				}
				b, err := os.ReadFile(ev.Name)
				if err != nil {
					w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
					w.send(ctx, Change{Err: err})
					continue
				}
				cfg, sum, err := unmarshalConfigs(w.hash, b)
				prev, seen := w.hashes[ev.Name]
				if seen && prev == sum {
					w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", sumValue{sum}), slog.Any("existing_hashes", hashesValue{w.hashes}))
					continue
				}
				if cfg != nil {
					w.hashes[ev.Name] = sum
				}
				op := fsnotify.Write
				if !seen {
					op = fsnotify.Create
				}
				w.send(ctx, Change{
					Event:  []fsnotify.Event{{Name: ev.Name, Op: op}},
					Config: cfg,
					Err:    err,
				})

			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name), slog.Any("op", ev.Op.String()))
				if _, ok := w.hashes[ev.Name]; !ok {
					continue
				}
				delete(w.hashes, ev.Name)
				w.send(ctx, Change{Event: []fsnotify.Event{{Name: ev.Name, Op: fsnotify.Remove}}})
			}
		}
	}
}

// replaceDir handles removal of the watched directory by sending remove
// events for all known files and recreating the directory.
func (w *Watcher) replaceDir(ctx context.Context, ev fsnotify.Event) {
	w.log.LogAttrs(ctx, slog.LevelWarn, "remove config directory", slog.String("name", ev.Name))
	paths := make([]string, 0, len(w.hashes))
	for p := range w.hashes {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		delete(w.hashes, p)
		w.send(ctx, Change{Event: []fsnotify.Event{{Name: p, Op: fsnotify.Remove}}})
	}
	err := os.MkdirAll(w.dir, 0o755)
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelError, "replace config dir", slog.String("path", w.dir), slog.Any("error", err))
		return
	}
	err = w.watcher.Add(w.dir)
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelError, "replace watch", slog.Any("error", err))
	}
}

func (w *Watcher) send(ctx context.Context, c Change) {
	select {
	case <-ctx.Done():
	case w.changes <- c:
	}
}

// unmarshalConfigs returns a, potentially partial, configuration and its
// semantic hash from the provided raw data. Invalid surfaces are removed
// from the returned configuration and reported in the returned error.
func unmarshalConfigs(h hash.Hash, b []byte) (cfg *System, sum Sum, _ error) {
	c := &System{}
	err := toml.Unmarshal(b, c)
	if err != nil {
		return nil, sum, err
	}

	paths, deferredErr := Validate(fragmentSchema, c)
	if deferredErr != nil {
		c, _ = remove(c, paths, false)
	}

	sum, err = resum(h, c)
	if err != nil {
		return nil, sum, err
	}
	return c, sum, deferredErr
}

// remove removes the host or surfaces in cfg that correspond to invalid
// field paths. If safe is true, paths referring to the host configuration
// or empty paths result in an error and no change is made.
func remove(cfg *System, paths [][]string, safe bool) (*System, error) {
	if safe {
		for _, p := range paths {
			if len(p) == 0 {
				// Not all cue Errors will have a path.
				return cfg, errors.New("cannot remove: empty path")
			}
			if p[0] == hostName {
				return cfg, errors.New("cannot repair host config")
			}
		}
	}
	for _, p := range paths {
		if len(p) == 0 {
			continue
		}
		switch p[0] {
		case hostName:
			cfg.Host = nil
		case surfaceName:
			if len(p) < 2 {
				cfg.Surfaces = nil
				continue
			}
			delete(cfg.Surfaces, p[1])
		}
	}
	return cfg, nil
}
