// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides frame-driven image animation.
//
// Animations do not own a clock. Each is rendered at an elapsed time
// supplied by the caller, so a paused animation simply stops being
// rendered and resumes from wherever the caller's clock says it is.
package animation

import (
	"time"

	"golang.org/x/image/draw"
)

// Renderer is an animation that can be rendered at a point in time.
type Renderer interface {
	// Render draws the animation's state at elapsed time
	// since its start into dst. It returns whether the
	// animation has reached its final frame.
	Render(dst draw.Image, elapsed time.Duration) (done bool)
}
