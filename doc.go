// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package paper binds a rendering script to a drawable surface, running the
// script's render routine only while the surface is visible and notifying
// it of configuration changes.
//
// A [Controller] is driven by discrete events: [Controller.Mount],
// completion of the script's load, visibility entry and exit reported by an
// [IntersectionSource], [Controller.Update] and [Controller.Unmount]. Frame
// timing is provided by a [FrameSource]. Both sources are injectable so
// that a controller can be driven without a physical display; [Viewport]
// and [StepFrames] are provided for hosts that own their own viewport and
// frame loop, and for testing.
//
// # Example
//
//	vp := paper.NewViewport()
//	frames := paper.NewTimerFrames(time.Second / 60)
//	defer frames.Close()
//	c, err := paper.NewController(paper.Options{
//		Surface:    image.NewRGBA(image.Rect(0, 0, 72, 72)),
//		Script:     script,
//		Props:      paper.Props{"text": "hello"},
//		Frames:     frames,
//		Visibility: vp,
//	})
//	if err != nil {
//		return err
//	}
//	c.Mount(ctx)
//	defer c.Unmount()
package paper
