// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package device provides paged button surfaces on a [Deck].
//
// Each button on each page may hold a single [Surface]. Only the surfaces
// on the displayed page are visible; the [Controller] acts as a
// [paper.IntersectionSource] reporting a ratio of one for surfaces on the
// displayed page and zero for all others.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/image/draw"

	"github.com/kortschak/paper"
	"github.com/kortschak/paper/internal/slogext"
)

// DefaultPage is the initial name of the displayed page.
const DefaultPage = "default"

// Controller manages pages of button surfaces on a device.
type Controller struct {
	deck *locked
	log  *slog.Logger

	rows, cols int
	bounds     image.Rectangle

	viewport *paper.Viewport

	mu       sync.Mutex
	current  string
	surfaces map[position]*Surface
}

// position is a button location on a page.
type position struct {
	page     string
	row, col int
}

// NewController returns a new device controller displaying DefaultPage.
func NewController(ctx context.Context, deck Deck, log *slog.Logger) (*Controller, error) {
	bounds, err := deck.Bounds()
	if err != nil {
		return nil, err
	}
	rows, cols := deck.Layout()
	c := &Controller{
		deck:     &locked{deck: deck},
		log:      log.With(slog.String("component", "device")),
		rows:     rows,
		cols:     cols,
		bounds:   bounds,
		viewport: paper.NewViewport(),
		current:  DefaultPage,
		surfaces: make(map[position]*Surface),
	}
	c.log.LogAttrs(ctx, slog.LevelInfo, "opened deck", slog.Int("rows", rows), slog.Int("cols", cols), slog.Any("bounds", slogext.Rect(bounds)))
	err = c.deck.Reset()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Layout returns the number of rows and columns of buttons on the device.
func (c *Controller) Layout() (rows, cols int) {
	return c.rows, c.cols
}

// Bounds returns the image bounds for buttons on the device.
func (c *Controller) Bounds() image.Rectangle {
	return c.bounds
}

// NewSurface returns a surface on the button at the provided page, row and
// column, sized according to style within the button's bounds. It is an
// error for the position to be outside the device layout or to already
// hold a surface.
func (c *Controller) NewSurface(page string, row, col int, style paper.Style) (*Surface, error) {
	if row < 0 || row >= c.rows || col < 0 || col >= c.cols {
		return nil, fmt.Errorf("button out of range: row=%d col=%d layout=%dx%d", row, col, c.rows, c.cols)
	}
	img, err := paper.NewSurface(c.bounds, paper.MergeStyle(style))
	if err != nil {
		return nil, err
	}
	pos := position{page: page, row: row, col: col}

	c.mu.Lock()
	if _, exists := c.surfaces[pos]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("button in use: page=%s row=%d col=%d", page, row, col)
	}
	s := &Surface{RGBA: img, c: c, pos: pos}
	c.surfaces[pos] = s
	visible := page == c.current
	c.mu.Unlock()

	c.log.LogAttrs(context.Background(), slog.LevelDebug, "new surface", slog.String("page", page), slog.Int("row", row), slog.Int("col", col), slog.Any("rect", slogext.Rect(img.Rect)))
	if visible {
		c.viewport.Set(s, 1)
	}
	return s, nil
}

// Watch implements the [paper.IntersectionSource] interface.
func (c *Controller) Watch(s paper.Surface, fn func(ratio float64)) (cancel func()) {
	return c.viewport.Watch(s, fn)
}

// CurrentName returns the name of the displayed page.
func (c *Controller) CurrentName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// PageNames returns the sorted names of pages holding surfaces.
func (c *Controller) PageNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for pos := range c.surfaces {
		names = append(names, pos.page)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// SetDisplayTo displays the named page. Surfaces on the previously displayed
// page become hidden and surfaces on the named page become visible and are
// redrawn with their most recently flushed image. Buttons without a surface
// are blanked.
func (c *Controller) SetDisplayTo(ctx context.Context, name string) error {
	c.mu.Lock()
	if name == c.current {
		c.mu.Unlock()
		return nil
	}
	c.log.LogAttrs(ctx, slog.LevelInfo, "set page", slog.String("from", c.current), slog.String("to", name))
	var hide, show []*Surface
	for pos, s := range c.surfaces {
		switch pos.page {
		case c.current:
			hide = append(hide, s)
		case name:
			show = append(show, s)
		}
	}
	c.current = name
	c.mu.Unlock()

	for _, s := range hide {
		c.viewport.Set(s, 0)
	}
	var errs []error
	for row := 0; row < c.rows; row++ {
		for col := 0; col < c.cols; col++ {
			c.mu.Lock()
			s, ok := c.surfaces[position{page: name, row: row, col: col}]
			c.mu.Unlock()
			var err error
			if ok {
				err = s.redraw()
			} else {
				err = c.blank(row, col)
			}
			errs = append(errs, err)
		}
	}
	for _, s := range show {
		c.viewport.Set(s, 1)
	}
	return errors.Join(errs...)
}

// blank sets the button at row and col to black.
func (c *Controller) blank(row, col int) error {
	img := image.NewRGBA(c.bounds)
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
	return c.deck.SetImage(row, col, img)
}

// Close resets and closes the device.
func (c *Controller) Close() error {
	return errors.Join(c.deck.Reset(), c.deck.Close())
}

// Surface is a drawable surface on a device button.
type Surface struct {
	*image.RGBA

	c   *Controller
	pos position

	mu       sync.Mutex
	frame    *image.RGBA // last flushed button image
	released bool
}

// Page returns the name of the page holding the surface.
func (s *Surface) Page() string { return s.pos.page }

// Position returns the row and column of the surface's button.
func (s *Surface) Position() (row, col int) { return s.pos.row, s.pos.col }

// Flush composes the surface onto its button and sends the result to the
// device if the surface's page is displayed. Flush after Release is a
// no-op.
func (s *Surface) Flush() error {
	frame := image.NewRGBA(s.c.bounds)
	draw.Draw(frame, frame.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(frame, s.Rect, s.RGBA, s.Rect.Min, draw.Over)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.frame = frame
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.c.current != s.pos.page {
		return nil
	}
	return s.c.deck.SetImage(s.pos.row, s.pos.col, frame)
}

// redraw resends the last flushed image, or blanks the button if the
// surface has never been flushed.
func (s *Surface) redraw() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return s.c.blank(s.pos.row, s.pos.col)
	}
	return s.c.deck.SetImage(s.pos.row, s.pos.col, s.frame)
}

// Release removes the surface from its button, blanking the button if
// its page is displayed. The position may then be used by a new surface.
func (s *Surface) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	c := s.c
	c.mu.Lock()
	if c.surfaces[s.pos] == s {
		delete(c.surfaces, s.pos)
	}
	visible := c.current == s.pos.page
	c.mu.Unlock()

	c.viewport.Set(s, 0)
	c.viewport.Forget(s)
	if !visible {
		return nil
	}
	return c.blank(s.pos.row, s.pos.col)
}
