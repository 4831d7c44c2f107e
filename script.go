// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/image/draw"
)

// Surface is the drawable region a script renders onto. It is passed
// through to the script and is otherwise opaque to the controller.
type Surface = draw.Image

// Bundle is the set of operations produced by a successful script load.
type Bundle struct {
	// Render draws a frame. It is called once per frame while
	// the surface is visible with the frame timestamp. Render
	// must not be nil.
	Render func(t time.Duration)

	// Cleanup, if not nil, is called once when the controller
	// holding the bundle is unmounted.
	Cleanup func()

	// OnChange, if not nil, is called with the changed subset
	// of Props when the host updates the controller's Props.
	OnChange func(changes Props)
}

// Script constructs a Bundle for the provided surface and initial
// configuration. A Script is called on its own goroutine and may block.
// The context is cancelled if the controller is unmounted before the
// Script returns.
type Script func(ctx context.Context, s Surface, initial Props) (*Bundle, error)

// load calls script exactly once on a new goroutine and passes its result
// to done. Failures are reported to done as a *LoadError with a nil Bundle.
func load(ctx context.Context, script Script, s Surface, initial Props, done func(*Bundle, error)) {
	go func() {
		b, err := call(ctx, script, s, initial)
		if err != nil {
			done(nil, &LoadError{Err: err})
			return
		}
		done(b, nil)
	}()
}

// call calls script, converting panics and incomplete bundles to errors.
func call(ctx context.Context, script Script, s Surface, initial Props) (b *Bundle, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			err = fmt.Errorf("panic: %w", e)
		} else {
			err = fmt.Errorf("panic: %v", r)
		}
		b = nil
	}()
	b, err = script(ctx, s, initial)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.New("no bundle")
	}
	if b.Render == nil {
		return nil, errors.New("no render function")
	}
	return b, nil
}
