// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/draw"
)

// Headless is a [Deck] that renders button images to PNG files in a
// directory. The image for the button at row r and column c is written
// to r<r>_c<c>.png.
type Headless struct {
	dir        string
	rows, cols int
	size       int

	mu     sync.Mutex
	images map[[2]int]*image.RGBA
	closed bool
}

// NewHeadless returns a Headless deck writing to dir with the provided
// layout and square button size in pixels. The directory is created if
// it does not exist.
func NewHeadless(dir string, rows, cols, size int) (*Headless, error) {
	if rows <= 0 || cols <= 0 || size <= 0 {
		return nil, fmt.Errorf("invalid headless layout: %dx%d buttons of %dpx", rows, cols, size)
	}
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, err
	}
	return &Headless{
		dir:    dir,
		rows:   rows,
		cols:   cols,
		size:   size,
		images: make(map[[2]int]*image.RGBA),
	}, nil
}

// Layout implements the [Deck] interface.
func (d *Headless) Layout() (rows, cols int) { return d.rows, d.cols }

// Bounds implements the [Deck] interface.
func (d *Headless) Bounds() (image.Rectangle, error) {
	return image.Rect(0, 0, d.size, d.size), nil
}

// Path returns the path of the image file for the button at row and col.
func (d *Headless) Path(row, col int) string {
	return filepath.Join(d.dir, fmt.Sprintf("r%d_c%d.png", row, col))
}

// SetImage implements the [Deck] interface. Images are scaled to the
// button size.
func (d *Headless) SetImage(row, col int, img image.Image) error {
	if row < 0 || row >= d.rows || col < 0 || col >= d.cols {
		return fmt.Errorf("button out of range: row=%d col=%d", row, col)
	}
	dst := image.NewRGBA(image.Rect(0, 0, d.size, d.size))
	if img.Bounds() == dst.Bounds() {
		draw.Draw(dst, dst.Bounds(), img, image.Point{}, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("deck closed")
	}
	d.images[[2]int{row, col}] = dst
	return writePNG(d.Path(row, col), dst)
}

// Image returns the last image set on the button at row and col.
func (d *Headless) Image(row, col int) (image.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[[2]int{row, col}]
	return img, ok
}

// Reset implements the [Deck] interface, blanking all buttons.
func (d *Headless) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for pos := range d.images {
		blank := image.NewRGBA(image.Rect(0, 0, d.size, d.size))
		draw.Draw(blank, blank.Bounds(), image.Black, image.Point{}, draw.Src)
		d.images[pos] = blank
		errs = append(errs, writePNG(d.Path(pos[0], pos[1]), blank))
	}
	return errors.Join(errs...)
}

// Close implements the [Deck] interface.
func (d *Headless) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// writePNG atomically replaces the file at path with img PNG-encoded.
func writePNG(path string, img image.Image) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".paper-*.png")
	if err != nil {
		return err
	}
	err = png.Encode(f, img)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	err = f.Close()
	if err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), path)
}
