// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Options are the parameters for a Controller.
type Options struct {
	// Surface is the surface passed to Script. It is required.
	Surface Surface
	// Script constructs the controller's Bundle. It is required.
	Script Script
	// Props is the initial configuration.
	Props Props

	// Frames provides frame timing. It is required.
	Frames FrameSource
	// Visibility reports the surface's visibility. It is required.
	Visibility IntersectionSource
	// Threshold is the visible fraction of the surface at which
	// it is considered visible. If zero, DefaultThreshold is used.
	Threshold float64

	// OnEntry and OnExit are called when the surface becomes
	// visible or hidden after the script has loaded.
	OnEntry func(Entry)
	OnExit  func(Entry)
	// OnError is called with a *LoadError if the script fails to
	// load and with a *CleanupError if the Bundle's Cleanup panics.
	OnError func(error)

	// Log is the controller's logger. If nil, logging is discarded.
	Log *slog.Logger
}

// Controller runs a Script's Bundle on a surface while the surface is
// visible.
//
// All events are serialised by the Controller. The host callbacks in
// Options and the Bundle's Cleanup and OnChange functions are called
// synchronously while the Controller is handling an event and must not
// call methods on the same Controller. Render is called from the frame
// source's context without holding the Controller.
type Controller struct {
	surface   Surface
	script    Script
	vis       IntersectionSource
	threshold float64
	onEntry   func(Entry)
	onExit    func(Entry)
	onError   func(error)
	log       *slog.Logger

	frames *FrameScheduler

	mu       sync.Mutex
	state    State
	props    *Tracker
	bundle   *Bundle
	observer *Observer
	cancel   context.CancelFunc
}

// NewController returns a new unmounted Controller.
func NewController(opts Options) (*Controller, error) {
	switch {
	case opts.Surface == nil:
		return nil, errors.New("missing surface")
	case opts.Script == nil:
		return nil, errors.New("missing script")
	case opts.Frames == nil:
		return nil, errors.New("missing frame source")
	case opts.Visibility == nil:
		return nil, errors.New("missing visibility source")
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold out of range: %v", threshold)
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		surface:   opts.Surface,
		script:    opts.Script,
		vis:       opts.Visibility,
		threshold: threshold,
		onEntry:   opts.OnEntry,
		onExit:    opts.OnExit,
		onError:   opts.OnError,
		log:       log,
		frames:    NewFrameScheduler(opts.Frames),
		props:     NewTracker(opts.Props),
	}, nil
}

// State returns the current state of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Props returns a copy of the most recent configuration.
func (c *Controller) Props() Props {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props.Snapshot()
}

// Mount starts loading the controller's script. The script is called
// with ctx, which is cancelled when the controller is unmounted. Mount
// returns an error if the controller has already been mounted.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Phase {
	case Unloaded:
	case Unmounted:
		return ErrUnmounted
	default:
		return ErrMounted
	}
	c.setState(ctx, State{Phase: Loading})
	ctx, c.cancel = context.WithCancel(ctx)
	load(ctx, c.script, c.surface, c.props.Snapshot(), c.loaded)
	return nil
}

// setState sets the controller's state. It must be called with c.mu held.
func (c *Controller) setState(ctx context.Context, s State) {
	c.log.LogAttrs(ctx, slog.LevelDebug, "transition", slog.Any("from", c.state), slog.Any("to", s))
	c.state = s
}

// loaded handles completion of the script load.
func (c *Controller) loaded(b *Bundle, err error) {
	ctx := context.Background()
	c.mu.Lock()
	if c.state.Phase != Loading {
		c.mu.Unlock()
		c.log.LogAttrs(ctx, slog.LevelDebug, "discard load result", slog.Any("state", c.State()), slog.Any("error", err))
		return
	}
	if err != nil {
		c.setState(ctx, State{Phase: LoadFailed})
		c.cancel()
		c.log.LogAttrs(ctx, slog.LevelError, "script load failed", slog.Any("error", err))
		if c.onError != nil {
			c.onError(err)
		}
		c.mu.Unlock()
		return
	}
	c.bundle = b
	c.setState(ctx, State{Phase: Loaded, Visibility: Hidden})
	c.mu.Unlock()

	// Observe without holding c.mu since the source may report
	// the current ratio synchronously.
	obs := Observe(c.vis, c.surface, c.threshold, c.entered, c.exited)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != Loaded {
		obs.Disconnect()
		return
	}
	c.observer = obs
}

// entered handles a visibility entry event.
func (c *Controller) entered(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != Loaded || c.state.Visibility == Visible {
		return
	}
	ctx := context.Background()
	c.setState(ctx, State{Phase: Loaded, Visibility: Visible})
	if c.onEntry != nil {
		c.onEntry(e)
	}
	c.frames.Start(c.bundle.Render)
}

// exited handles a visibility exit event.
func (c *Controller) exited(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != Loaded || c.state.Visibility == Hidden {
		return
	}
	ctx := context.Background()
	c.setState(ctx, State{Phase: Loaded, Visibility: Hidden})
	if c.onExit != nil {
		c.onExit(e)
	}
	c.frames.Stop()
}

// Update replaces the controller's configuration. If the script has
// loaded and any values differ from the previous configuration, the
// Bundle's OnChange function is called with the changed values. Before
// the script has loaded, the new configuration becomes the baseline for
// later comparisons and no notification is made.
func (c *Controller) Update(p Props) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != Loaded {
		c.props.Reset(p)
		return
	}
	changes := c.props.Diff(p)
	if len(changes) == 0 {
		return
	}
	c.log.LogAttrs(context.Background(), slog.LevelDebug, "props changed", slog.Int("changes", len(changes)))
	if c.bundle.OnChange != nil {
		c.bundle.OnChange(changes)
	}
}

// Unmount stops the controller. It stops frame scheduling, stops
// observing visibility, and calls the Bundle's Cleanup if a Bundle was
// loaded. A script load that completes after Unmount is discarded.
// Unmount is idempotent.
func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == Unmounted {
		return
	}
	ctx := context.Background()
	c.setState(ctx, State{Phase: Unmounted})
	c.frames.Stop()
	if c.observer != nil {
		c.observer.Disconnect()
		c.observer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.bundle != nil {
		c.cleanup(ctx, c.bundle)
		c.bundle = nil
	}
}

// cleanup calls b.Cleanup, recovering and reporting a panic.
func (c *Controller) cleanup(ctx context.Context, b *Bundle) {
	if b.Cleanup == nil {
		return
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := &CleanupError{Recovered: r}
		c.log.LogAttrs(ctx, slog.LevelError, "cleanup failed", slog.Any("error", err))
		if c.onError != nil {
			c.onError(err)
		}
	}()
	b.Cleanup()
}
