// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/bbrks/wrap/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultStep is the default per-character scroll interval for Text.
const DefaultStep = 150 * time.Millisecond

// Text is a text renderer. Text that fits within the destination is
// word-wrapped and centered. Longer text scrolls through the destination
// one character per Step.
type Text struct {
	Text       string
	Color      color.Color
	Background color.Color

	// Face is the font face used to render the text.
	// If nil, basicfont.Face7x13 is used.
	Face *basicfont.Face
	// Step is the scroll interval. If zero, DefaultStep
	// is used.
	Step time.Duration
}

// Render renders the text at elapsed into dst. Render reports done for
// text that does not need to scroll.
func (t *Text) Render(dst draw.Image, elapsed time.Duration) (done bool) {
	fnt := t.Face
	if fnt == nil {
		fnt = basicfont.Face7x13
	}
	fg, bg := t.Color, t.Background
	if fg == nil {
		fg = color.White
	}
	if bg == nil {
		bg = color.Black
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	rows, cols := Size(dst.Bounds(), fnt)
	if rows*cols == 0 {
		return true
	}
	if fits(t.Text, rows, cols) {
		DrawText(dst, t.Text, fg, fnt, 0.5, 0.5, true)
		return true
	}

	step := t.Step
	if step <= 0 {
		step = DefaultStep
	}
	lead := max(rows*cols-4, 1)
	s := []rune(strings.Repeat(" ", lead) + t.Text)
	if elapsed < 0 {
		elapsed = 0
	}
	i := int(elapsed/step) % len(s)
	DrawText(dst, string(s[i:]), fg, fnt, 0, 0, false)
	return false
}

// fits returns whether s can be presented word-wrapped in the provided
// number of rows and columns.
func fits(s string, rows, cols int) bool {
	if len([]rune(s)) > rows*cols {
		return false
	}
	lines := wrapLines(s, cols)
	if len(lines) > rows {
		return false
	}
	for _, l := range lines {
		if len([]rune(l)) > cols {
			return false
		}
	}
	return true
}

func wrapLines(s string, cols int) []string {
	wrapper := wrap.NewWrapper()
	wrapper.StripTrailingNewline = true
	wrapper.CutLongWords = true
	lines := strings.Split(wrapper.Wrap(s, cols), "\n")
	if len(lines) < 2 || lines[0] != "" {
		for i, l := range lines {
			lines[i] = strings.TrimSpace(l)
		}
	}
	return lines
}

// Size returns the size, in font rows and columns, of the bounding rectangle.
func Size(bound image.Rectangle, fnt *basicfont.Face) (rows, cols int) {
	return bound.Dy() / fnt.Height, bound.Dx() / fnt.Advance
}

// KeepAspectRatio returns a draw rectangle within dst that can be used in
// a call to a draw.Scaler to maintain the src aspect ratio.
//
//	draw.BiLinear.Scale(dst, KeepAspectRatio(dst.Bounds(), src.Bounds()), src, src.Bounds(), op, opts)
func KeepAspectRatio(dst, src image.Rectangle) image.Rectangle {
	dx, dy := src.Dx(), src.Dy()
	if dx == 0 || dy == 0 {
		return dst
	}
	w, h := dst.Dx(), dst.Dy()
	switch {
	case dx*h < dy*w:
		w = dx * h / dy
	case dx*h > dy*w:
		h = dy * w / dx
	default:
		return dst
	}
	min := dst.Min.Add(image.Point{X: (dst.Dx() - w) / 2, Y: (dst.Dy() - h) / 2})
	return image.Rectangle{Min: min, Max: min.Add(image.Point{X: w, Y: h})}
}

// DrawText draws the provided text to the destination in the provided color.
// Relative position of the text is specified by dx and dy which must be
// in the range [0, 1]. If words is true, text spanning lines will be broken
// at word boundaries where possible. Text that does not fit is truncated
// with an ellipsis.
func DrawText(dst draw.Image, text string, col color.Color, fnt *basicfont.Face, dx, dy float64, words bool) {
	rows, cols := Size(dst.Bounds(), fnt)
	if rows == 0 || cols == 0 {
		return
	}

	var lines []string
	if words {
		lines = wrapLines(text, cols)
	} else {
		t := []rune(text)
		for len(t) != 0 && len(lines) <= rows {
			n := min(cols, len(t))
			lines = append(lines, string(t[:n]))
			t = t[n:]
		}
	}

	if len(lines) > rows {
		lines = lines[:rows]
		last := []rune(lines[rows-1])
		if n := cols - len("..."); len(last) > n {
			last = last[:max(n, 0)]
		}
		lines[rows-1] = string(last) + "..."
	}

	if dx != 0 || dy != 0 {
		ext := newExtent(dst)
		min := dst.Bounds().Min
		for i, l := range lines {
			ext.measure(l, fnt, fixed.P(min.X, min.Y+fnt.Ascent+fnt.Height*i))
		}
		dst = ext.offset(dst, dx, dy)
	}
	fg := image.NewUniform(col)
	min := dst.Bounds().Min
	for i, l := range lines {
		drawer := font.Drawer{
			Dst:  dst,
			Src:  fg,
			Face: fnt,
			Dot:  fixed.P(min.X, min.Y+fnt.Ascent+fnt.Height*i),
		}
		drawer.DrawString(l)
	}
}

// extent is the inked extent of rendered text.
type extent image.Rectangle

func newExtent(dst draw.Image) *extent {
	e := extent(image.Rectangle{Min: dst.Bounds().Max, Max: dst.Bounds().Min})
	return &e
}

func (e *extent) measure(s string, fnt font.Face, dot fixed.Point26_6) {
	prev := rune(-1)
	for _, c := range s {
		if prev >= 0 {
			dot.X += fnt.Kern(prev, c)
		}
		dr, _, _, advance, ok := fnt.Glyph(dot, c)
		if !ok {
			continue
		}
		e.include(dr.Min)
		e.include(dr.Max)
		dot.X += advance
		prev = c
	}
}

func (e *extent) include(p image.Point) {
	e.Min.X = min(e.Min.X, p.X)
	e.Min.Y = min(e.Min.Y, p.Y)
	e.Max.X = max(e.Max.X, p.X)
	e.Max.Y = max(e.Max.Y, p.Y)
}

// offset returns img shifted so that the measured extent is placed at the
// relative position dx, dy within the free space of img.
func (e *extent) offset(img draw.Image, dx, dy float64) draw.Image {
	if e.Max.X < e.Min.X {
		// Nothing inked.
		return img
	}
	b := img.Bounds()
	lead := e.Min.Sub(b.Min)
	free := b.Size().Sub(e.Max.Sub(e.Min))
	return offset{Image: img, offset: image.Point{
		X: int(float64(free.X)*dx) - lead.X,
		Y: int(float64(free.Y)*dy) - lead.Y,
	}}
}

type offset struct {
	draw.Image
	offset image.Point
}

func (o offset) Set(x, y int, c color.Color) {
	o.Image.Set(x+o.offset.X, y+o.offset.Y, c)
}

func (o offset) At(x, y int) color.Color {
	return o.Image.At(x+o.offset.X, y+o.offset.Y)
}
