// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"time"

	"golang.org/x/image/draw"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// MinDelay is the shortest frame delay honoured by GIF. Shorter delays,
// including zero, are rendered with DefaultDelay.
const (
	MinDelay     = 20 * time.Millisecond
	DefaultDelay = 100 * time.Millisecond
)

// GIF is a GIF animation rendered according to elapsed time.
//
// A GIF holds the composition state of its most recently rendered frame
// and so must not be rendered from more than one goroutine at a time.
type GIF struct {
	*gif.GIF

	delays []time.Duration
	period time.Duration

	canvas  *image.RGBA
	next    int // index of the next frame to composite
	restore *image.RGBA
}

// DecodeGIF returns a [GIF] decoded from the provided io.Reader. GIF delay,
// disposal and global background index values are checked for validity.
func DecodeGIF(r io.Reader) (*GIF, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	return NewGIF(g)
}

// NewGIF returns a [GIF] for the provided decoded GIF data.
func NewGIF(g *gif.GIF) (*GIF, error) {
	if len(g.Image) == 0 {
		return nil, errors.New("no frames")
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && idx >= len(pal) {
		return nil, fmt.Errorf("global background colour index not in palette: %d", idx)
	}
	img := &GIF{GIF: g, delays: make([]time.Duration, len(g.Image))}
	for i := range g.Image {
		d := DefaultDelay
		if g.Delay != nil {
			d = 10 * time.Duration(g.Delay[i]) * time.Millisecond
			if d < MinDelay {
				d = DefaultDelay
			}
		}
		img.delays[i] = d
		img.period += d
	}
	return img, nil
}

// Bounds returns the bounds of the GIF's logical screen.
func (img *GIF) Bounds() image.Rectangle {
	if img.Config.Width != 0 && img.Config.Height != 0 {
		return image.Rect(0, 0, img.Config.Width, img.Config.Height)
	}
	var b image.Rectangle
	for _, f := range img.Image {
		b = b.Union(f.Bounds())
	}
	return b
}

// Period returns the duration of a single pass through the animation.
func (img *GIF) Period() time.Duration {
	return img.period
}

// frameAt returns the index of the frame to display at the given elapsed
// time and whether the animation has finished.
func (img *GIF) frameAt(elapsed time.Duration) (idx int, done bool) {
	if len(img.Image) == 1 {
		return 0, true
	}
	if elapsed < 0 {
		elapsed = 0
	}
	// A LoopCount of 0 loops forever, -1 shows each frame
	// once and n plays the animation n+1 times.
	if img.LoopCount != 0 {
		loops := img.LoopCount + 1
		if img.LoopCount < 0 {
			loops = 1
		}
		if elapsed >= time.Duration(loops)*img.period {
			return len(img.Image) - 1, true
		}
	}
	t := elapsed % img.period
	for i, d := range img.delays {
		if t < d {
			return i, false
		}
		t -= d
	}
	return len(img.Image) - 1, false
}

// Render renders the GIF frame corresponding to elapsed into dst, scaled
// to fit dst while keeping the GIF's aspect ratio.
func (img *GIF) Render(dst draw.Image, elapsed time.Duration) (done bool) {
	idx, done := img.frameAt(elapsed)
	img.composite(idx)
	src := img.canvas.Bounds()
	r := KeepAspectRatio(dst.Bounds(), src)
	if r.Size() == src.Size() {
		draw.Draw(dst, r, img.canvas, src.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, r, img.canvas, src, draw.Src, nil)
	}
	return done
}

// composite brings the canvas up to date with frame idx, restarting
// composition from the first frame when the animation has looped.
func (img *GIF) composite(idx int) {
	if img.canvas == nil || idx < img.next-1 {
		img.canvas = image.NewRGBA(img.Bounds())
		draw.Draw(img.canvas, img.canvas.Bounds(), img.background(0), image.Point{}, draw.Src)
		img.next = 0
		img.restore = nil
	}
	for ; img.next <= idx; img.next++ {
		if img.next > 0 {
			img.dispose(img.next - 1)
		}
		frame := img.Image[img.next]
		if img.disposal(img.next) == gif.DisposalPrevious {
			img.restore = image.NewRGBA(frame.Bounds())
			draw.Draw(img.restore, frame.Bounds(), img.canvas, frame.Bounds().Min, draw.Src)
		}
		draw.Draw(img.canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	}
}

// dispose applies the disposal method of frame f to the canvas.
func (img *GIF) dispose(f int) {
	frame := img.Image[f]
	switch img.disposal(f) {
	case gif.DisposalBackground:
		draw.Draw(img.canvas, frame.Bounds(), img.background(f), image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		if img.restore != nil {
			draw.Draw(img.canvas, frame.Bounds(), img.restore, frame.Bounds().Min, draw.Src)
			img.restore = nil
		}
	}
}

func (img *GIF) disposal(f int) byte {
	if img.Disposal == nil {
		return gif.DisposalNone
	}
	return img.Disposal[f]
}

// background returns the background for frame f. If no background is
// available, the background is transparent.
func (img *GIF) background(f int) image.Image {
	idx := int(img.BackgroundIndex)
	if pal, ok := img.Config.ColorModel.(color.Palette); ok && idx < len(pal) {
		return image.NewUniform(pal[idx])
	}
	if pal := img.Image[f].Palette; idx < len(pal) {
		return image.NewUniform(pal[idx])
	}
	return image.Transparent
}
