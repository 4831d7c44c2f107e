// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

// Phase is the load phase of a Controller.
type Phase int

const (
	Unloaded Phase = iota
	Loading
	Loaded
	LoadFailed
	Unmounted
)

func (p Phase) String() string {
	switch p {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case LoadFailed:
		return "load_failed"
	case Unmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// Visibility is the visibility phase of a loaded Controller.
type Visibility int

const (
	Hidden Visibility = iota
	Visible
)

func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Visible:
		return "visible"
	default:
		return "unknown"
	}
}

// State is the composite state of a Controller. Visibility is only
// meaningful when Phase is Loaded.
type State struct {
	Phase      Phase
	Visibility Visibility
}

func (s State) String() string {
	if s.Phase != Loaded {
		return s.Phase.String()
	}
	return s.Phase.String() + "/" + s.Visibility.String()
}
