// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"maps"
	"reflect"
)

// Props is a set of named configuration values supplied by a host.
type Props map[string]any

// Tombstone is the type of [Removed].
type Tombstone struct{}

func (Tombstone) String() string { return "<removed>" }

// Removed is the value recorded in a change set for a key that is present
// in the previous Props and absent from the current Props.
var Removed = Tombstone{}

// Diff returns the subset of current that differs from previous. Keys
// present in either snapshot are considered. A key is included when its
// values are not identical, or it is present on only one side. Keys that
// have been removed are mapped to [Removed]. Diff never returns nil.
//
// Values of basic types are compared with ==. Maps, slices, functions,
// pointers and channels are compared by reference, so two distinct maps
// with equal contents are not identical. Structs and arrays are compared
// element by element with the same rules, including the dynamic values
// of interface fields.
func Diff(previous, current Props) Props {
	changes := make(Props)
	for k, c := range current {
		p, ok := previous[k]
		if !ok || !identical(p, c) {
			changes[k] = c
		}
	}
	for k := range previous {
		if _, ok := current[k]; !ok {
			changes[k] = Removed
		}
	}
	return changes
}

// identical returns whether a and b are the same value.
func identical(a, b any) bool {
	return identicalValue(reflect.ValueOf(a), reflect.ValueOf(b))
}

func identicalValue(a, b reflect.Value) bool {
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}
	if a.Type() != b.Type() {
		return false
	}
	switch a.Kind() {
	case reflect.Map, reflect.Func, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Slice:
		return a.Pointer() == b.Pointer() && a.Len() == b.Len()
	case reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() && b.IsNil()
		}
		return identicalValue(a.Elem(), b.Elem())
	case reflect.Struct:
		for i := range a.NumField() {
			if !identicalValue(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := range a.Len() {
			if !identicalValue(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	default:
		return a.Equal(b)
	}
}

// Tracker holds the most recently seen Props so that successive snapshots
// can be compared.
type Tracker struct {
	prev Props
}

// NewTracker returns a Tracker with initial as its baseline snapshot.
func NewTracker(initial Props) *Tracker {
	return &Tracker{prev: maps.Clone(initial)}
}

// Diff returns the changes from the tracked snapshot to current and
// replaces the tracked snapshot with a copy of current, whether or not
// any changes were found.
func (t *Tracker) Diff(current Props) Props {
	changes := Diff(t.prev, current)
	t.prev = maps.Clone(current)
	return changes
}

// Reset replaces the tracked snapshot without computing changes.
func (t *Tracker) Reset(current Props) {
	t.prev = maps.Clone(current)
}

// Snapshot returns a copy of the tracked snapshot.
func (t *Tracker) Snapshot() Props {
	return maps.Clone(t.prev)
}
