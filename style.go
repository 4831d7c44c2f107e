// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"fmt"
	"image"
	"maps"
	"strconv"
	"strings"
)

// Style is a set of surface presentation properties.
type Style map[string]string

// DefaultStyle returns the default surface style, filling the full width
// and height of the surface's container.
func DefaultStyle() Style {
	return Style{"width": "100%", "height": "100%"}
}

// MergeStyle returns the default style with overrides applied on top.
func MergeStyle(overrides Style) Style {
	s := DefaultStyle()
	maps.Copy(s, overrides)
	return s
}

// Bounds returns the rectangle within container described by the width and
// height properties of s. Lengths may be a percentage of the container's
// dimension ("50%") or a number of pixels ("36px" or "36"). Missing lengths
// fill the container. The returned rectangle is anchored at container.Min
// and clipped to the container.
func (s Style) Bounds(container image.Rectangle) (image.Rectangle, error) {
	w, err := length(s["width"], container.Dx())
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("width: %w", err)
	}
	h, err := length(s["height"], container.Dy())
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("height: %w", err)
	}
	r := image.Rectangle{Min: container.Min, Max: container.Min.Add(image.Pt(w, h))}
	return r.Intersect(container), nil
}

// length resolves a CSS-like length against the available extent.
func length(v string, extent int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "auto" {
		return extent, nil
	}
	if pc, ok := strings.CutSuffix(v, "%"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(pc), 64)
		if err != nil {
			return 0, err
		}
		if f < 0 {
			return 0, fmt.Errorf("negative length: %s", v)
		}
		return int(f * float64(extent) / 100), nil
	}
	v = strings.TrimSuffix(v, "px")
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative length: %s", v)
	}
	return n, nil
}

// NewSurface returns an RGBA surface sized by s within container.
func NewSurface(container image.Rectangle, s Style) (*image.RGBA, error) {
	r, err := s.Bounds(container)
	if err != nil {
		return nil, err
	}
	return image.NewRGBA(r), nil
}
