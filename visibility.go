// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"sync"
	"time"
)

// DefaultThreshold is the default fraction of a surface's area that must
// be visible for the surface to be considered visible.
const DefaultThreshold = 0.01

// IntersectionSource reports how much of a surface is within the viewport.
type IntersectionSource interface {
	// Watch calls fn with the fraction of s's area that is within
	// the viewport, in [0, 1], when it may have changed. Watch may
	// call fn before returning. The returned function stops calls
	// to fn and must be safe to call more than once.
	Watch(s Surface, fn func(ratio float64)) (cancel func())
}

// Entry is a visibility observation record.
type Entry struct {
	Surface      Surface
	Ratio        float64
	Intersecting bool
	Time         time.Time
}

// Observer watches a surface's intersection ratio and reports crossings of
// a threshold. An Observer starts in the not-intersecting state, so a
// surface that is hidden when observation begins produces no events.
type Observer struct {
	surface   Surface
	threshold float64
	onEntry   func(Entry)
	onExit    func(Entry)

	// emit is held while a sample changes state
	// and reports the change so that events are
	// delivered in the order of state changes.
	emit sync.Mutex

	mu           sync.Mutex
	intersecting bool
	done         bool
	cancel       func()
}

// Observe starts observing s using src. onEntry is called when the visible
// fraction of s rises to at least threshold, and onExit when it falls back
// below it. If threshold is not in (0, 1], DefaultThreshold is used.
func Observe(src IntersectionSource, s Surface, threshold float64, onEntry, onExit func(Entry)) *Observer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	o := &Observer{
		surface:   s,
		threshold: threshold,
		onEntry:   onEntry,
		onExit:    onExit,
	}
	cancel := src.Watch(s, o.sample)
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		cancel()
		return o
	}
	o.cancel = cancel
	o.mu.Unlock()
	return o
}

func (o *Observer) sample(ratio float64) {
	o.emit.Lock()
	defer o.emit.Unlock()

	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	in := ratio >= o.threshold
	if in == o.intersecting {
		o.mu.Unlock()
		return
	}
	o.intersecting = in
	o.mu.Unlock()

	e := Entry{Surface: o.surface, Ratio: ratio, Intersecting: in, Time: time.Now()}
	if in {
		if o.onEntry != nil {
			o.onEntry(e)
		}
	} else if o.onExit != nil {
		o.onExit(e)
	}
}

// Intersecting returns whether the surface was last seen to be at or
// above the threshold.
func (o *Observer) Intersecting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.intersecting
}

// Disconnect stops all future events. It is safe to call more than once.
func (o *Observer) Disconnect() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.done = true
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Viewport is an IntersectionSource whose intersection ratios are set
// explicitly by the host. Surfaces are used as map keys and so must hold
// comparable dynamic values, as image pointer types do.
//
// Calls to watch functions are serialised and each call is made with the
// ratio current at the time of the call, so the last ratio a watcher sees
// is the last ratio set. Watch functions must not call Watch or Set.
type Viewport struct {
	// deliver is held while watch functions
	// are called. It must be acquired before mu.
	deliver sync.Mutex

	mu      sync.Mutex
	ratio   map[Surface]float64
	last    int
	watches map[Surface]map[int]func(float64)
}

// NewViewport returns a Viewport in which all surfaces are hidden.
func NewViewport() *Viewport {
	return &Viewport{
		ratio:   make(map[Surface]float64),
		watches: make(map[Surface]map[int]func(float64)),
	}
}

// Watch implements the IntersectionSource interface. fn is called with
// the current ratio for s before Watch returns.
func (v *Viewport) Watch(s Surface, fn func(ratio float64)) (cancel func()) {
	v.mu.Lock()
	v.last++
	id := v.last
	w, ok := v.watches[s]
	if !ok {
		w = make(map[int]func(float64))
		v.watches[s] = w
	}
	w[id] = fn
	v.mu.Unlock()

	v.deliver.Lock()
	v.mu.Lock()
	r := v.ratio[s]
	v.mu.Unlock()
	fn(r)
	v.deliver.Unlock()

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		w := v.watches[s]
		delete(w, id)
		if len(w) == 0 {
			delete(v.watches, s)
		}
	}
}

// Set sets the visible fraction of s and notifies its watchers. Ratios
// are clamped to [0, 1].
func (v *Viewport) Set(s Surface, ratio float64) {
	ratio = min(max(ratio, 0), 1)
	v.mu.Lock()
	v.ratio[s] = ratio
	v.mu.Unlock()

	v.deliver.Lock()
	defer v.deliver.Unlock()
	v.mu.Lock()
	// Read the ratio again since a later Set may have
	// been applied while waiting to deliver.
	ratio = v.ratio[s]
	ids := make([]int, 0, len(v.watches[s]))
	for id := range v.watches[s] {
		ids = append(ids, id)
	}
	v.mu.Unlock()

	for _, id := range ids {
		v.mu.Lock()
		fn, ok := v.watches[s][id]
		v.mu.Unlock()
		if ok {
			fn(ratio)
		}
	}
}

// Forget removes the recorded ratio for s. Watchers of s are retained
// and will see s as hidden.
func (v *Viewport) Forget(s Surface) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.ratio, s)
}

// Ratio returns the visible fraction of s.
func (v *Viewport) Ratio(s Surface) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ratio[s]
}
