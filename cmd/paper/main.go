// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The paper command renders scripted surfaces on the buttons of an El Gato
// Stream Deck, or to PNG files when run headless.
//
// Surfaces are configured by TOML files in the configuration directory,
// $XDG_CONFIG_HOME/paper by default. Changes to the files are applied
// while paper is running.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/kortschak/ardilla"

	public "github.com/kortschak/paper/config"
	"github.com/kortschak/paper/internal/config"
	"github.com/kortschak/paper/internal/device"
	"github.com/kortschak/paper/internal/scripts"
	"github.com/kortschak/paper/internal/slogext"
	"github.com/kortschak/paper/internal/sys"
	"github.com/kortschak/paper/internal/version"
	"github.com/kortschak/paper/internal/xdg"
)

func main() {
	os.Exit(Main())
}

func Main() int {
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	cfgdir := flag.String("config", "", "configuration directory (default $XDG_CONFIG_HOME/paper)")
	datadir := flag.String("data", "", "image data directory searched before the XDG data directories")
	headless := flag.String("headless", "", "render buttons to PNG files in this directory instead of a device")
	layout := flag.String("layout", "3x5", "headless button layout as rowsxcols")
	size := flag.Int("size", 72, "headless button size in pixels")
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return 2
	}
	rows, cols, err := parseLayout(*layout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid layout: %v\n", err)
		flag.Usage()
		return 2
	}
	if *size <= 0 {
		fmt.Fprintf(os.Stderr, "invalid button size: %d\n", *size)
		flag.Usage()
		return 2
	}
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "paper.main"))

	stateDir, ok := xdg.StateHome()
	if !ok {
		fmt.Fprintln(os.Stderr, "no xdg state directory")
		return 1
	}
	stateDir = filepath.Join(stateDir, "paper")
	err = os.MkdirAll(stateDir, 0o700)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	pidFile := filepath.Join(stateDir, "pid")
	fl := flock.New(pidFile)
	ok, err = fl.TryLock()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "paper is already running")
		return 1
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	if *cfgdir == "" {
		dir, ok := xdg.ConfigHome()
		if !ok {
			fmt.Fprintln(os.Stderr, "no xdg config directory")
			return 1
		}
		*cfgdir = filepath.Join(dir, "paper")
	}
	mlog.LogAttrs(ctx, slog.LevelInfo, "config dir", slog.String("path", *cfgdir))

	host := sys.NewManager(
		openDevice(*headless, rows, cols, *size),
		scripts.NewRegistry(*datadir, nil, log),
		log, &level, addSource,
	)
	defer func() {
		err := host.Close()
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "failed to close host", slog.Any("error", err))
		}
	}()

	changes := make(chan config.Change)
	watcher, err := config.NewWatcher(ctx, *cfgdir, changes, -1, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to watch config dir: %v\n", err)
		return 1
	}
	go func() {
		defer close(changes)
		err := watcher.Watch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			mlog.LogAttrs(ctx, slog.LevelError, "config watcher failed", slog.Any("error", err))
			cancel()
		}
	}()

	cfgman := config.NewManager(log)
	for cfg := range changes {
		if cfg.Err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "config stream error", slog.Any("error", cfg.Err))
			continue
		}
		mlog.LogAttrs(ctx, slog.LevelDebug, "config stream element", slog.Any("config", cfg.Config), slog.Any("events", cfg.Event))
		err = cfgman.Apply(cfg)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "config manager apply error", slog.Any("error", err))
			continue
		}
		unified, cue, included, remain, err := cfgman.Unify(public.Schema)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "config manager unify error", slog.Any("error", err), slog.Any("cue", cue))
			continue
		}
		mlog.LogAttrs(ctx, slog.LevelDebug, "config manager files", slog.Any("included", included), slog.Any("remain", remain))
		err = host.Configure(ctx, unified)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "host configure error", slog.Any("error", err))
		}
	}
	return 0
}

// parseLayout parses a rowsxcols button layout.
func parseLayout(s string) (rows, cols int, err error) {
	r, c, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("missing separator: %q", s)
	}
	rows, err = strconv.Atoi(r)
	if err != nil {
		return 0, 0, err
	}
	cols, err = strconv.Atoi(c)
	if err != nil {
		return 0, 0, err
	}
	if rows <= 0 || cols <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions: %q", s)
	}
	return rows, cols, nil
}

// openDevice returns a device constructor. If headless is not empty,
// buttons are rendered to PNG files in the headless directory, otherwise
// the configured Stream Deck is opened.
func openDevice(headless string, rows, cols, size int) sys.NewDevice {
	return func(ctx context.Context, dev *config.Device, log *slog.Logger) (*device.Controller, error) {
		var deck device.Deck
		if headless != "" {
			d, err := device.NewHeadless(headless, rows, cols, size)
			if err != nil {
				return nil, err
			}
			log.LogAttrs(ctx, slog.LevelInfo, "opened headless device", slog.String("path", headless), slog.Int("rows", rows), slog.Int("cols", cols))
			deck = d
		} else {
			var (
				pid    ardilla.PID
				serial string
			)
			if dev != nil {
				pid = dev.PID
				if dev.Serial != nil {
					serial = *dev.Serial
				}
			}
			d, serial, err := device.OpenStreamDeck(pid, serial)
			if err != nil {
				return nil, err
			}
			log.LogAttrs(ctx, slog.LevelInfo, "opened device", slog.String("pid", fmt.Sprintf("0x%04x", uint16(pid))), slog.Any("model", slogext.Stringer{Stringer: pid}), slog.String("serial", serial))
			deck = d
		}
		c, err := device.NewController(ctx, deck, log)
		if err != nil {
			return nil, errors.Join(err, deck.Close())
		}
		return c, nil
	}
}
