// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"errors"
	"fmt"
)

var (
	// ErrMounted is returned by Mount if the controller has already been
	// mounted.
	ErrMounted = errors.New("controller already mounted")
	// ErrUnmounted is returned by Mount if the controller has been
	// unmounted.
	ErrUnmounted = errors.New("controller unmounted")
)

// LoadError is the error reported when a [Script] fails to produce a
// [Bundle]. A LoadError is terminal for the controller that reports it.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load script: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// CleanupError is the error reported when a [Bundle]'s Cleanup panics.
type CleanupError struct {
	// Recovered is the value passed to panic.
	Recovered any
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("panic in cleanup: %v", e.Recovered)
}

// Unwrap returns the recovered value if it is an error.
func (e *CleanupError) Unwrap() error {
	err, _ := e.Recovered.(error)
	return err
}
