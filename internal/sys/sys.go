// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys manages the state of a running paper host.
package sys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/paper"
	"github.com/kortschak/paper/internal/config"
	"github.com/kortschak/paper/internal/device"
)

// Manager is a paper host manager. It mounts a paper.Controller for each
// configured surface on the host's device.
type Manager struct {
	mu sync.Mutex

	// newDevice is the device constructor.
	newDevice NewDevice
	// scripts resolves surface script names.
	scripts Scripts

	// device is the currently open device.
	device *device.Controller
	// frames is the frame source shared by
	// all mounted surfaces.
	frames *paper.TimerFrames

	// current is the currently running
	// configuration state.
	current *config.System
	// mounted is the set of mounted surfaces.
	mounted map[string]*mount

	// ctx is the context scripts are mounted
	// with. It is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// parentLog is the original log handed to
	// Manager. This is passed to constructed
	// devices and controllers.
	parentLog *slog.Logger
	// log is the active logger used by the
	// Manager.
	log *slog.Logger
	// level controls the logging level of all
	// loggers.
	level *slog.LevelVar
	// addSource controls whether logging includes
	// the source code logging call site.
	addSource *atomic.Bool
}

// mount is a surface with a running controller.
type mount struct {
	cfg     *config.Surface
	surface *device.Surface
	ctrl    *paper.Controller
}

// NewDevice is a device constructor.
type NewDevice func(ctx context.Context, dev *config.Device, log *slog.Logger) (*device.Controller, error)

// Scripts is the set of scripts available to surfaces.
type Scripts interface {
	Script(name string) (paper.Script, error)
}

// NewManager returns a new host manager.
func NewManager(dev NewDevice, scripts Scripts, log *slog.Logger, level *slog.LevelVar, addSource *atomic.Bool) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		newDevice: dev,
		scripts:   scripts,
		mounted:   make(map[string]*mount),
		ctx:       ctx,
		cancel:    cancel,
		parentLog: log,
		log:       log.With(slog.String("component", "host")),
		level:     level,
		addSource: addSource,
	}
}

// Configure changes the host's state to match the provided configuration.
// If the host has no open device, the configured device is opened.
// Invalid surfaces are removed from cfg before it is applied. A
// configuration without a host unmounts all surfaces, and the device is
// reopened by the next configuration that has one.
func (m *Manager) Configure(ctx context.Context, cfg *config.System) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.LogAttrs(ctx, slog.LevelDebug, "set config", slog.Any("config", cfg))
	if cfg == nil || cfg.Host == nil {
		m.log.LogAttrs(ctx, slog.LevelInfo, "no host configuration")
		m.unmountAll(ctx)
		m.current = nil
		return nil
	}

	paths, err := config.Vet(cfg)
	if err != nil {
		m.log.LogAttrs(ctx, slog.LevelWarn, "invalid config", slog.Any("error", err), slog.Any("paths", paths))
		cfg, err = config.Repair(cfg, paths)
		if err != nil {
			m.log.LogAttrs(ctx, slog.LevelError, "failed to repair config", slog.Any("error", err))
			return err
		}
	}

	if cfg.Host.LogLevel != nil {
		m.level.Set(*cfg.Host.LogLevel)
	}
	if cfg.Host.AddSource != nil {
		m.addSource.Store(*cfg.Host.AddSource)
	}

	// No running config or a different device, so pull down
	// everything and start again.
	if m.current == nil || !cmp.Equal(cfg.Host.Device, m.current.Host.Device) {
		return m.boot(ctx, cfg)
	}

	// Frame sources cannot change their interval, so all surfaces
	// must be remounted with a new source.
	if frameInterval(cfg.Host) != m.frames.Interval() {
		m.log.LogAttrs(ctx, slog.LevelInfo, "set frame rate", slog.Int("fps", cfg.Host.FPS))
		m.unmountAll(ctx)
		m.frames.Close()
		m.frames = paper.NewTimerFrames(frameInterval(cfg.Host))
	}

	// Unmount surfaces that have been removed or have been
	// moved or otherwise changed beyond their props.
	removeOrder := make([]string, 0, len(m.mounted))
	for name := range m.mounted {
		removeOrder = append(removeOrder, name)
	}
	sort.Strings(removeOrder)
	for _, name := range removeOrder {
		want, ok := cfg.Surfaces[name]
		if ok && sameMount(want, m.mounted[name].cfg) {
			continue
		}
		m.unmount(ctx, name)
	}

	m.configureSurfaces(ctx, cfg)
	m.current = cfg
	return nil
}

// boot opens the configured device and mounts all configured surfaces.
func (m *Manager) boot(ctx context.Context, cfg *config.System) error {
	m.unmountAll(ctx)
	if m.frames != nil {
		m.frames.Close()
	}
	if m.device != nil {
		err := m.device.Close()
		if err != nil {
			m.log.LogAttrs(ctx, slog.LevelWarn, "failed close previous device", slog.Any("error", err))
		}
		m.device = nil
	}
	m.current = nil

	m.log.LogAttrs(ctx, slog.LevelDebug, "set device", slog.Any("device", cfg.Host.Device))
	d, err := m.newDevice(ctx, cfg.Host.Device, m.parentLog)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	m.device = d
	m.frames = paper.NewTimerFrames(frameInterval(cfg.Host))

	m.configureSurfaces(ctx, cfg)
	m.current = cfg
	return nil
}

// configureSurfaces mounts surfaces in cfg that are not already mounted,
// updates the props of those that are, and displays the configured page.
func (m *Manager) configureSurfaces(ctx context.Context, cfg *config.System) {
	initOrder := make([]string, 0, len(cfg.Surfaces))
	for name := range cfg.Surfaces {
		initOrder = append(initOrder, name)
	}
	sort.Strings(initOrder)
	for _, name := range initOrder {
		want := cfg.Surfaces[name]
		if mnt, ok := m.mounted[name]; ok {
			if !cmp.Equal(want.Props, mnt.cfg.Props) {
				m.log.LogAttrs(ctx, slog.LevelDebug, "update surface", slog.String("name", name))
				props := stableProps(mnt.ctrl.Props(), want.Props)
				mnt.ctrl.Update(props)
			}
			mnt.cfg = want
			continue
		}
		err := m.mount(ctx, name, want)
		if err != nil {
			m.log.LogAttrs(ctx, slog.LevelWarn, "failed to mount surface", slog.String("name", name), slog.Any("error", err))
		}
	}

	page := cfg.Host.Page
	if page == "" {
		page = device.DefaultPage
	}
	err := m.device.SetDisplayTo(ctx, page)
	if err != nil {
		m.log.LogAttrs(ctx, slog.LevelWarn, "failed set page", slog.String("page", page), slog.Any("error", err))
	}
}

// mount creates a surface for cfg and mounts a controller running its
// script.
func (m *Manager) mount(ctx context.Context, name string, cfg *config.Surface) error {
	script, err := m.scripts.Script(cfg.Script)
	if err != nil {
		return err
	}
	page := cfg.Page
	if page == "" {
		page = device.DefaultPage
	}
	s, err := m.device.NewSurface(page, cfg.Row, cfg.Col, paper.Style(cfg.Style))
	if err != nil {
		return err
	}
	log := m.parentLog.With(slog.String("component", "surface"), slog.String("name", name))
	ctrl, err := paper.NewController(paper.Options{
		Surface:    s,
		Script:     script,
		Props:      paper.Props(cfg.Props),
		Frames:     m.frames,
		Visibility: m.device,
		Threshold:  cfg.Threshold,
		OnEntry: func(e paper.Entry) {
			log.LogAttrs(ctx, slog.LevelDebug, "visible", slog.Float64("ratio", e.Ratio))
		},
		OnExit: func(e paper.Entry) {
			log.LogAttrs(ctx, slog.LevelDebug, "hidden", slog.Float64("ratio", e.Ratio))
		},
		OnError: func(err error) {
			log.LogAttrs(ctx, slog.LevelError, "script error", slog.Any("error", err))
		},
		Log: log,
	})
	if err != nil {
		return errors.Join(err, s.Release())
	}
	m.log.LogAttrs(ctx, slog.LevelDebug, "mount surface", slog.String("name", name), slog.Any("surface", surfaceValue{cfg}))
	err = ctrl.Mount(m.ctx)
	if err != nil {
		return errors.Join(err, s.Release())
	}
	m.mounted[name] = &mount{cfg: cfg, surface: s, ctrl: ctrl}
	return nil
}

// unmount stops the named surface's controller and releases its button.
func (m *Manager) unmount(ctx context.Context, name string) {
	mnt, ok := m.mounted[name]
	if !ok {
		return
	}
	m.log.LogAttrs(ctx, slog.LevelDebug, "unmount surface", slog.String("name", name))
	mnt.ctrl.Unmount()
	err := mnt.surface.Release()
	if err != nil {
		m.log.LogAttrs(ctx, slog.LevelWarn, "failed release surface", slog.String("name", name), slog.Any("error", err))
	}
	delete(m.mounted, name)
}

func (m *Manager) unmountAll(ctx context.Context) {
	names := make([]string, 0, len(m.mounted))
	for name := range m.mounted {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.unmount(ctx, name)
	}
}

// State returns the state of the named surface's controller and whether
// it is mounted.
func (m *Manager) State(name string) (paper.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mnt, ok := m.mounted[name]
	if !ok {
		return paper.State{}, false
	}
	return mnt.ctrl.State(), true
}

// Mounted returns the sorted names of the mounted surfaces.
func (m *Manager) Mounted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.mounted))
	for name := range m.mounted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unmounts all surfaces and closes the device.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx := context.Background()
	m.unmountAll(ctx)
	m.cancel()
	if m.frames != nil {
		m.frames.Close()
	}
	m.current = nil
	if m.device == nil {
		return nil
	}
	err := m.device.Close()
	m.device = nil
	return err
}

// frameInterval returns the frame interval for h, using the default
// interval if no frame rate is configured.
func frameInterval(h *config.Host) time.Duration {
	d := h.FrameInterval()
	if d <= 0 {
		return paper.DefaultFrameInterval
	}
	return d
}

// stableProps returns next with values that are equal to those in prev
// replaced by the values in prev, so that unchanged reference values
// are not reported as changes.
func stableProps(prev paper.Props, next map[string]any) paper.Props {
	p := make(paper.Props, len(next))
	for k, v := range next {
		if old, ok := prev[k]; ok && cmp.Equal(old, v) {
			v = old
		}
		p[k] = v
	}
	return p
}

// sameMount returns whether a and b describe the same mounted surface,
// ignoring props which are updated in place.
func sameMount(a, b *config.Surface) bool {
	return cmp.Equal(a, b, ignoreDynamic, ignoreProps)
}

var (
	ignoreProps = cmp.FilterPath(
		func(p cmp.Path) bool {
			return p.Last().Type() == mapStringAny && p.String() == "Props"
		},
		cmp.Ignore(),
	)
	mapStringAny = reflect.TypeOf(map[string]any{})
)

var ignoreDynamic = cmp.FilterValues(
	func(a, b any) bool {
		switch a.(type) {
		default:
			return false
		case *config.Sum:
			_, ok := b.(*config.Sum)
			return ok
		}
	},
	cmp.Ignore(),
)
