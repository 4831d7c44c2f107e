// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

import (
	"context"
	"flag"
	"image/color"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/paper"
	"github.com/kortschak/paper/internal/config"
	"github.com/kortschak/paper/internal/device"
	"github.com/kortschak/paper/internal/locked"
	"github.com/kortschak/paper/internal/scripts"
	"github.com/kortschak/paper/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

var (
	black = color.RGBA{A: 0xff}
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
)

type testHost struct {
	*Manager
	deck  *device.Headless
	opens int
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	var buf locked.BytesBuffer
	t.Cleanup(func() {
		if *verbose {
			t.Logf("log:\n%s\n", buf.String())
		}
	})
	var level slog.LevelVar
	level.Set(slog.LevelDebug)
	addSource := slogext.NewAtomicBool(*lines)
	log := slog.New(slogext.NewJSONHandler(&buf, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	}))
	h := &testHost{}
	dir := t.TempDir()
	newDevice := func(ctx context.Context, _ *config.Device, log *slog.Logger) (*device.Controller, error) {
		deck, err := device.NewHeadless(dir, 2, 3, 8)
		if err != nil {
			return nil, err
		}
		h.deck = deck
		h.opens++
		return device.NewController(ctx, deck, log)
	}
	h.Manager = NewManager(newDevice, scripts.NewRegistry(dir, nil, log), log, &level, addSource)
	t.Cleanup(func() { h.Close() })
	return h
}

// pixel returns the color at the center of the button at row and col.
func (h *testHost) pixel(row, col int) (color.RGBA, bool) {
	img, ok := h.deck.Image(row, col)
	if !ok {
		return color.RGBA{}, false
	}
	c := img.Bounds().Size().Div(2)
	return color.RGBAModel.Convert(img.At(c.X, c.Y)).(color.RGBA), true
}

func (h *testHost) waitForPixel(t *testing.T, row, col int, want color.RGBA) {
	t.Helper()
	waitFor(t, func() bool {
		got, ok := h.pixel(row, col)
		return ok && got == want
	}, "pixel at row=%d col=%d to be %v", row, col, want)
}

func (h *testHost) waitForState(t *testing.T, name string, want paper.State) {
	t.Helper()
	waitFor(t, func() bool {
		got, ok := h.State(name)
		return ok && got == want
	}, "%s to be %v", name, want)
}

func waitFor(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for "+format, args...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func surface(page string, row, col int, fill string) *config.Surface {
	return &config.Surface{
		Script: "color",
		Page:   page,
		Row:    row,
		Col:    col,
		Props:  map[string]any{"color": fill},
	}
}

func TestManager(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	visible := paper.State{Phase: paper.Loaded, Visibility: paper.Visible}
	hidden := paper.State{Phase: paper.Loaded, Visibility: paper.Hidden}

	cfg := &config.System{
		Host: &config.Host{FPS: 120},
		Surfaces: map[string]*config.Surface{
			"a": surface("", 0, 0, "#ff0000"),
			"b": surface("other", 0, 1, "#0000ff"),
		},
	}
	err := h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	h.waitForState(t, "a", visible)
	h.waitForPixel(t, 0, 0, red)
	h.waitForState(t, "b", hidden)
	if got, want := h.Mounted(), []string{"a", "b"}; !cmp.Equal(got, want) {
		t.Errorf("unexpected mounted surfaces: got:%v want:%v", got, want)
	}

	// Props change is sent to the running script.
	cfg = &config.System{
		Host: &config.Host{FPS: 120},
		Surfaces: map[string]*config.Surface{
			"a": surface("", 0, 0, "#00ff00"),
			"b": surface("other", 0, 1, "#0000ff"),
		},
	}
	err = h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	h.waitForPixel(t, 0, 0, green)

	// Moving a surface remounts it and blanks its old button.
	cfg = &config.System{
		Host: &config.Host{FPS: 120},
		Surfaces: map[string]*config.Surface{
			"a": surface("", 1, 0, "#00ff00"),
			"b": surface("other", 0, 1, "#0000ff"),
		},
	}
	err = h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	h.waitForPixel(t, 1, 0, green)
	h.waitForPixel(t, 0, 0, black)

	// Changing page hides a and shows b.
	cfg = &config.System{
		Host: &config.Host{FPS: 120, Page: "other"},
		Surfaces: map[string]*config.Surface{
			"a": surface("", 1, 0, "#00ff00"),
			"b": surface("other", 0, 1, "#0000ff"),
		},
	}
	err = h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	h.waitForState(t, "a", hidden)
	h.waitForState(t, "b", visible)
	h.waitForPixel(t, 0, 1, blue)
	h.waitForPixel(t, 1, 0, black)

	// Removing a surface unmounts it.
	cfg = &config.System{
		Host: &config.Host{FPS: 120, Page: "other"},
		Surfaces: map[string]*config.Surface{
			"b": surface("other", 0, 1, "#0000ff"),
		},
	}
	err = h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	if got, want := h.Mounted(), []string{"b"}; !cmp.Equal(got, want) {
		t.Errorf("unexpected mounted surfaces: got:%v want:%v", got, want)
	}
	if _, ok := h.State("a"); ok {
		t.Error("unexpected state for unmounted surface")
	}

	// Changing the frame rate remounts without reopening the device.
	cfg = &config.System{
		Host: &config.Host{FPS: 60, Page: "other"},
		Surfaces: map[string]*config.Surface{
			"b": surface("other", 0, 1, "#0000ff"),
		},
	}
	err = h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	h.waitForState(t, "b", visible)
	if h.opens != 1 {
		t.Errorf("unexpected number of device opens: got:%d want:1", h.opens)
	}

	// Changing the device reopens it.
	serial := "XYZ"
	cfg = &config.System{
		Host: &config.Host{FPS: 60, Page: "other", Device: &config.Device{Serial: &serial}},
		Surfaces: map[string]*config.Surface{
			"b": surface("other", 0, 1, "#0000ff"),
		},
	}
	err = h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	h.waitForState(t, "b", visible)
	h.waitForPixel(t, 0, 1, blue)
	if h.opens != 2 {
		t.Errorf("unexpected number of device opens: got:%d want:2", h.opens)
	}
}

func TestManagerNoHost(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()
	cfg := &config.System{
		Host: &config.Host{FPS: 120},
		Surfaces: map[string]*config.Surface{
			"a": surface("", 0, 0, "#ff0000"),
		},
	}
	err := h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	h.waitForPixel(t, 0, 0, red)

	err = h.Configure(ctx, &config.System{Surfaces: cfg.Surfaces})
	if err != nil {
		t.Fatalf("unexpected error configuring without host: %v", err)
	}
	if got := h.Mounted(); len(got) != 0 {
		t.Errorf("unexpected mounted surfaces without host: %v", got)
	}
	h.waitForPixel(t, 0, 0, black)

	err = h.Configure(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error reconfiguring: %v", err)
	}
	h.waitForPixel(t, 0, 0, red)
	if got, want := h.Mounted(), []string{"a"}; !cmp.Equal(got, want) {
		t.Errorf("unexpected mounted surfaces: got:%v want:%v", got, want)
	}
	if h.opens != 2 {
		t.Errorf("unexpected number of device opens: got:%d want:2", h.opens)
	}
}

func TestManagerRepair(t *testing.T) {
	h := newTestHost(t)
	cfg := &config.System{
		Host: &config.Host{FPS: 120},
		Surfaces: map[string]*config.Surface{
			"a": surface("default", 0, 0, "#ff0000"),
			"b": surface("", 0, 0, "#0000ff"),
			"c": {Script: "nonsense", Row: 1, Col: 1},
		},
	}
	err := h.Configure(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	if got, want := h.Mounted(), []string{"a"}; !cmp.Equal(got, want) {
		t.Errorf("unexpected mounted surfaces: got:%v want:%v", got, want)
	}
	h.waitForPixel(t, 0, 0, red)
}

func TestManagerLogLevel(t *testing.T) {
	h := newTestHost(t)
	level := slog.LevelWarn
	addSource := true
	cfg := &config.System{
		Host: &config.Host{LogLevel: &level, AddSource: &addSource},
	}
	err := h.Configure(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error configuring: %v", err)
	}
	if got := h.level.Level(); got != level {
		t.Errorf("unexpected log level: got:%v want:%v", got, level)
	}
	if !h.addSource.Load() {
		t.Error("expected add source to be set")
	}
}

func TestStableProps(t *testing.T) {
	list := []any{"a", "b"}
	prev := paper.Props{"list": list, "n": 1}
	next := map[string]any{"list": []any{"a", "b"}, "n": 2, "new": true}
	got := stableProps(prev, next)
	if !cmp.Equal(got, paper.Props(next)) {
		t.Errorf("unexpected props:\n--- want:\n+++ got:\n%s", cmp.Diff(paper.Props(next), got))
	}
	if len(paper.Diff(prev, got)) != 2 {
		t.Errorf("unexpected number of changes: %v", paper.Diff(prev, got))
	}
	if _, ok := paper.Diff(prev, got)["list"]; ok {
		t.Error("equal list reported as changed")
	}
}

var sameMountTests = []struct {
	name string
	a, b *config.Surface
	want bool
}{
	{
		name: "props",
		a:    surface("p", 0, 0, "red"),
		b:    surface("p", 0, 0, "blue"),
		want: true,
	},
	{
		name: "sum",
		a:    &config.Surface{Script: "color", Sum: &config.Sum{1}},
		b:    &config.Surface{Script: "color", Sum: &config.Sum{2}},
		want: true,
	},
	{
		name: "position",
		a:    surface("p", 0, 0, "red"),
		b:    surface("p", 0, 1, "red"),
		want: false,
	},
	{
		name: "script",
		a:    &config.Surface{Script: "color"},
		b:    &config.Surface{Script: "text"},
		want: false,
	},
	{
		name: "style",
		a:    &config.Surface{Script: "color", Style: map[string]string{"width": "50%"}},
		b:    &config.Surface{Script: "color"},
		want: false,
	},
}

func TestSameMount(t *testing.T) {
	for _, test := range sameMountTests {
		t.Run(test.name, func(t *testing.T) {
			if got := sameMount(test.a, test.b); got != test.want {
				t.Errorf("unexpected result: got:%t want:%t", got, test.want)
			}
		})
	}
}
