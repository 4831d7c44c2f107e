// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"context"
	"errors"
	"flag"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/paper/internal/locked"
	"github.com/kortschak/paper/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

// watchSignal is a Viewport that signals when it is first watched.
type watchSignal struct {
	*Viewport
	once    sync.Once
	watched chan struct{}
}

func (w *watchSignal) Watch(s Surface, fn func(float64)) func() {
	cancel := w.Viewport.Watch(s, fn)
	w.once.Do(func() { close(w.watched) })
	return cancel
}

// harness is a controllable script environment.
type harness struct {
	t *testing.T

	surface *image.RGBA
	vp      *watchSignal
	frames  *StepFrames

	release chan struct{} // closed to allow the script to return.
	fail    error         // error returned by the script.
	calls   atomic.Int32  // number of script calls.
	initial chan Props    // initial props passed to the script.

	renders  atomic.Int32
	cleanups atomic.Int32
	changes  []Props
	events   []string
	errs     []error

	log *locked.BytesBuffer
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:       t,
		surface: image.NewRGBA(image.Rect(0, 0, 72, 72)),
		vp:      &watchSignal{Viewport: NewViewport(), watched: make(chan struct{})},
		frames:  NewStepFrames(),
		release: make(chan struct{}),
		initial: make(chan Props, 1),
		log:     &locked.BytesBuffer{},
	}
}

func (h *harness) script(ctx context.Context, s Surface, initial Props) (*Bundle, error) {
	h.calls.Add(1)
	h.initial <- initial
	<-h.release
	if h.fail != nil {
		return nil, h.fail
	}
	return &Bundle{
		Render:   func(time.Duration) { h.renders.Add(1) },
		Cleanup:  func() { h.cleanups.Add(1) },
		OnChange: func(p Props) { h.changes = append(h.changes, p) },
	}, nil
}

func (h *harness) controller(props Props) *Controller {
	h.t.Helper()
	addSource := slogext.NewAtomicBool(*lines)
	c, err := NewController(Options{
		Surface:    h.surface,
		Script:     h.script,
		Props:      props,
		Frames:     h.frames,
		Visibility: h.vp,
		OnEntry:    func(Entry) { h.events = append(h.events, "entry") },
		OnExit:     func(Entry) { h.events = append(h.events, "exit") },
		OnError:    func(err error) { h.errs = append(h.errs, err) },
		Log: slog.New(slogext.NewJSONHandler(h.log, &slogext.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: addSource,
		})),
	})
	if err != nil {
		h.t.Fatalf("unexpected error constructing controller: %v", err)
	}
	h.t.Cleanup(func() {
		if *verbose {
			h.t.Logf("log:\n%s\n", h.log)
		}
	})
	return c
}

// loadAndWait releases the script and waits for the controller to start
// observing the surface.
func (h *harness) loadAndWait() {
	h.t.Helper()
	close(h.release)
	select {
	case <-h.vp.watched:
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for load")
	}
}

// waitPhase waits for the controller to reach the given phase.
func waitPhase(t *testing.T, c *Controller, want Phase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.State().Phase != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for phase %v: state=%v", want, c.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestControllerRenderGatedByVisibility(t *testing.T) {
	h := newHarness(t)
	c := h.controller(Props{"a": 1})
	err := c.Mount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error mounting: %v", err)
	}

	h.vp.Set(h.surface, 1) // Not observed until loaded.
	h.frames.Step(0)
	if n := h.renders.Load(); n != 0 {
		t.Errorf("render called before load: %d", n)
	}

	h.loadAndWait()
	if got := c.State(); got != (State{Phase: Loaded, Visibility: Visible}) {
		t.Fatalf("unexpected state after load of visible surface: %v", got)
	}

	for i := 1; i <= 3; i++ {
		h.frames.Step(time.Duration(i))
	}
	if n := h.renders.Load(); n != 3 {
		t.Errorf("unexpected render count after three ticks: got:%d want:3", n)
	}

	h.vp.Set(h.surface, 0)
	h.frames.Step(4)
	h.frames.Step(5)
	if n := h.renders.Load(); n != 3 {
		t.Errorf("unexpected render count after exit: got:%d want:3", n)
	}
	if got := c.State(); got != (State{Phase: Loaded, Visibility: Hidden}) {
		t.Errorf("unexpected state after exit: %v", got)
	}

	h.vp.Set(h.surface, 0.5)
	h.frames.Step(6)
	if n := h.renders.Load(); n != 4 {
		t.Errorf("unexpected render count after re-entry: got:%d want:4", n)
	}

	c.Unmount()
	h.frames.Step(7)
	if n := h.renders.Load(); n != 4 {
		t.Errorf("unexpected render count after unmount: got:%d want:4", n)
	}
	h.vp.Set(h.surface, 0)

	wantEvents := []string{"entry", "exit", "entry"}
	if !cmp.Equal(h.events, wantEvents) {
		t.Errorf("unexpected host events:\n--- want:\n+++ got:\n%s", cmp.Diff(wantEvents, h.events))
	}
	if n := h.cleanups.Load(); n != 1 {
		t.Errorf("unexpected cleanup count: got:%d want:1", n)
	}
}

func TestControllerLoadsOnce(t *testing.T) {
	h := newHarness(t)
	c := h.controller(nil)
	err := c.Mount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error mounting: %v", err)
	}
	err = c.Mount(context.Background())
	if !errors.Is(err, ErrMounted) {
		t.Errorf("unexpected error for second mount: got:%v want:%v", err, ErrMounted)
	}
	h.loadAndWait()
	c.Update(Props{"a": 1})
	c.Unmount()
	err = c.Mount(context.Background())
	if !errors.Is(err, ErrUnmounted) {
		t.Errorf("unexpected error for mount after unmount: got:%v want:%v", err, ErrUnmounted)
	}
	if n := h.calls.Load(); n != 1 {
		t.Errorf("unexpected number of script calls: got:%d want:1", n)
	}
}

func TestControllerUnmount(t *testing.T) {
	t.Run("before_load", func(t *testing.T) {
		h := newHarness(t)
		c := h.controller(nil)
		err := c.Mount(context.Background())
		if err != nil {
			t.Fatalf("unexpected error mounting: %v", err)
		}
		<-h.initial
		c.Unmount()

		// Simulate the late resolution of the load.
		c.loaded(&Bundle{
			Render:  func(time.Duration) { h.renders.Add(1) },
			Cleanup: func() { h.cleanups.Add(1) },
		}, nil)
		close(h.release)

		h.vp.Set(h.surface, 1)
		h.frames.Step(0)
		if n := h.cleanups.Load(); n != 0 {
			t.Errorf("unexpected cleanup count: got:%d want:0", n)
		}
		if n := h.renders.Load(); n != 0 {
			t.Errorf("unexpected render count: got:%d want:0", n)
		}
		if got := c.State().Phase; got != Unmounted {
			t.Errorf("unexpected phase: got:%v want:%v", got, Unmounted)
		}
	})

	t.Run("after_load", func(t *testing.T) {
		h := newHarness(t)
		c := h.controller(nil)
		err := c.Mount(context.Background())
		if err != nil {
			t.Fatalf("unexpected error mounting: %v", err)
		}
		h.loadAndWait()
		h.vp.Set(h.surface, 1)
		c.Unmount()
		c.Unmount()
		if n := h.cleanups.Load(); n != 1 {
			t.Errorf("unexpected cleanup count: got:%d want:1", n)
		}
		if n := h.frames.Pending(); n != 0 {
			t.Errorf("unexpected pending frames after unmount: %d", n)
		}
	})

	t.Run("unmounted_before_mount", func(t *testing.T) {
		h := newHarness(t)
		c := h.controller(nil)
		c.Unmount()
		if n := h.calls.Load(); n != 0 {
			t.Errorf("unexpected script call: %d", n)
		}
		if n := h.cleanups.Load(); n != 0 {
			t.Errorf("unexpected cleanup count: got:%d want:0", n)
		}
	})
}

func TestControllerLoadFailure(t *testing.T) {
	h := newHarness(t)
	h.fail = errors.New("no canvas")
	c := h.controller(nil)
	err := c.Mount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error mounting: %v", err)
	}
	close(h.release)
	waitPhase(t, c, LoadFailed)

	h.vp.Set(h.surface, 1)
	h.frames.Step(0)
	c.Update(Props{"a": 1})
	c.Unmount()

	if len(h.errs) != 1 {
		t.Fatalf("unexpected number of errors: got:%d want:1: %v", len(h.errs), h.errs)
	}
	var lerr *LoadError
	if !errors.As(h.errs[0], &lerr) {
		t.Errorf("unexpected error type: %T", h.errs[0])
	}
	if !errors.Is(h.errs[0], h.fail) {
		t.Errorf("load error does not wrap script error: %v", h.errs[0])
	}
	if n := h.renders.Load(); n != 0 {
		t.Errorf("unexpected render count: got:%d want:0", n)
	}
	if n := h.cleanups.Load(); n != 0 {
		t.Errorf("unexpected cleanup count: got:%d want:0", n)
	}
	if len(h.events) != 0 {
		t.Errorf("unexpected host events: %v", h.events)
	}
}

func TestControllerInvalidBundle(t *testing.T) {
	scripts := []struct {
		name   string
		script Script
	}{
		{
			name: "nil_bundle",
			script: func(context.Context, Surface, Props) (*Bundle, error) {
				return nil, nil
			},
		},
		{
			name: "nil_render",
			script: func(context.Context, Surface, Props) (*Bundle, error) {
				return &Bundle{}, nil
			},
		},
		{
			name: "panic",
			script: func(context.Context, Surface, Props) (*Bundle, error) {
				panic("script failure")
			},
		},
	}
	for _, test := range scripts {
		t.Run(test.name, func(t *testing.T) {
			errc := make(chan error, 1)
			c, err := NewController(Options{
				Surface:    image.NewRGBA(image.Rect(0, 0, 1, 1)),
				Script:     test.script,
				Frames:     NewStepFrames(),
				Visibility: NewViewport(),
				OnError:    func(err error) { errc <- err },
			})
			if err != nil {
				t.Fatalf("unexpected error constructing controller: %v", err)
			}
			c.Mount(context.Background())
			select {
			case err := <-errc:
				var lerr *LoadError
				if !errors.As(err, &lerr) {
					t.Errorf("unexpected error type: %T", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for error")
			}
			if got := c.State().Phase; got != LoadFailed {
				t.Errorf("unexpected phase: got:%v want:%v", got, LoadFailed)
			}
		})
	}
}

func TestControllerUpdate(t *testing.T) {
	h := newHarness(t)
	c := h.controller(Props{"a": 1, "b": 2})
	err := c.Mount(context.Background())
	if err != nil {
		t.Fatalf("unexpected error mounting: %v", err)
	}
	initial := <-h.initial

	// Updates before load are not notified but become the baseline.
	c.Update(Props{"a": 1, "b": 5})
	h.loadAndWait()

	c.Update(Props{"a": 1, "b": 5})
	c.Update(Props{"a": 1, "b": 6})
	c.Update(Props{"a": 1, "b": 6})
	c.Update(Props{"b": 6})

	wantInitial := Props{"a": 1, "b": 2}
	if !cmp.Equal(initial, wantInitial) {
		t.Errorf("unexpected initial props:\n--- want:\n+++ got:\n%s", cmp.Diff(wantInitial, initial))
	}
	wantChanges := []Props{{"b": 6}, {"a": Removed}}
	if !cmp.Equal(h.changes, wantChanges) {
		t.Errorf("unexpected changes:\n--- want:\n+++ got:\n%s", cmp.Diff(wantChanges, h.changes))
	}
	wantProps := Props{"b": 6}
	if got := c.Props(); !cmp.Equal(got, wantProps) {
		t.Errorf("unexpected props:\n--- want:\n+++ got:\n%s", cmp.Diff(wantProps, got))
	}

	c.Unmount()
	c.Update(Props{"b": 7})
	if len(h.changes) != 2 {
		t.Errorf("unexpected change notification after unmount: %v", h.changes)
	}
}

func TestControllerCleanupPanic(t *testing.T) {
	var errs []error
	loaded := make(chan struct{})
	c, err := NewController(Options{
		Surface: image.NewRGBA(image.Rect(0, 0, 1, 1)),
		Script: func(context.Context, Surface, Props) (*Bundle, error) {
			return &Bundle{
				Render:  func(time.Duration) {},
				Cleanup: func() { panic("cleanup failure") },
			}, nil
		},
		Frames: NewStepFrames(),
		Visibility: watchFunc(func(Surface, func(float64)) func() {
			close(loaded)
			return func() {}
		}),
		OnError: func(err error) { errs = append(errs, err) },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing controller: %v", err)
	}
	c.Mount(context.Background())
	<-loaded
	c.Unmount()

	if len(errs) != 1 {
		t.Fatalf("unexpected number of errors: got:%d want:1", len(errs))
	}
	var cerr *CleanupError
	if !errors.As(errs[0], &cerr) {
		t.Errorf("unexpected error type: %T", errs[0])
	}
	if got := c.State().Phase; got != Unmounted {
		t.Errorf("unexpected phase: got:%v want:%v", got, Unmounted)
	}
}

// watchFunc is a function implementing IntersectionSource.
type watchFunc func(Surface, func(float64)) func()

func (f watchFunc) Watch(s Surface, fn func(float64)) func() { return f(s, fn) }

func TestNewControllerValidation(t *testing.T) {
	valid := Options{
		Surface:    image.NewRGBA(image.Rect(0, 0, 1, 1)),
		Script:     func(context.Context, Surface, Props) (*Bundle, error) { return nil, nil },
		Frames:     NewStepFrames(),
		Visibility: NewViewport(),
	}
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Options) {}},
		{name: "no_surface", mutate: func(o *Options) { o.Surface = nil }, wantErr: true},
		{name: "no_script", mutate: func(o *Options) { o.Script = nil }, wantErr: true},
		{name: "no_frames", mutate: func(o *Options) { o.Frames = nil }, wantErr: true},
		{name: "no_visibility", mutate: func(o *Options) { o.Visibility = nil }, wantErr: true},
		{name: "negative_threshold", mutate: func(o *Options) { o.Threshold = -0.1 }, wantErr: true},
		{name: "large_threshold", mutate: func(o *Options) { o.Threshold = 1.5 }, wantErr: true},
		{name: "full_threshold", mutate: func(o *Options) { o.Threshold = 1 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := valid
			test.mutate(&opts)
			_, err := NewController(opts)
			if (err != nil) != test.wantErr {
				t.Errorf("unexpected error: got:%v want error:%t", err, test.wantErr)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{State{Phase: Unloaded}, "unloaded"},
		{State{Phase: Loading, Visibility: Visible}, "loading"},
		{State{Phase: Loaded}, "loaded/hidden"},
		{State{Phase: Loaded, Visibility: Visible}, "loaded/visible"},
		{State{Phase: LoadFailed}, "load_failed"},
		{State{Phase: Unmounted}, "unmounted"},
	}
	for _, test := range tests {
		if got := test.state.String(); got != test.want {
			t.Errorf("unexpected string for %#v: got:%q want:%q", test.state, got, test.want)
		}
	}
}
