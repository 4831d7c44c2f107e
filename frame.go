// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"slices"
	"sync"
	"time"
)

// DefaultFrameInterval is the frame interval used by [NewTimerFrames] when
// a non-positive interval is requested.
const DefaultFrameInterval = time.Second / 60

// FrameID identifies a pending frame request. The zero FrameID is never
// issued by the sources in this package.
type FrameID uint64

// FrameSource is a per-frame timing mechanism.
type FrameSource interface {
	// RequestFrame arranges for fn to be called once at the next
	// frame with the frame's timestamp.
	RequestFrame(fn func(t time.Duration)) FrameID
	// CancelFrame cancels a pending request. Cancelling a request
	// that has fired or been cancelled is a no-op.
	CancelFrame(id FrameID)
}

// FrameScheduler repeatedly requests frames from a FrameSource while it is
// active. It holds at most one outstanding request.
type FrameScheduler struct {
	src FrameSource

	mu     sync.Mutex
	active bool
	gen    uint64 // incremented by Start to invalidate stale ticks.
	id     FrameID
}

// NewFrameScheduler returns a FrameScheduler drawing frames from src.
func NewFrameScheduler(src FrameSource) *FrameScheduler {
	return &FrameScheduler{src: src}
}

// Start begins calling fn once per frame until Stop is called. If the
// scheduler is already active Start is a no-op.
func (s *FrameScheduler) Start(fn func(t time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.gen++
	s.request(s.gen, fn)
}

// request requests the next frame. It must be called with s.mu held.
func (s *FrameScheduler) request(gen uint64, fn func(time.Duration)) {
	s.id = s.src.RequestFrame(func(t time.Duration) {
		s.tick(gen, fn, t)
	})
}

func (s *FrameScheduler) tick(gen uint64, fn func(time.Duration), t time.Duration) {
	s.mu.Lock()
	if !s.active || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.id = 0
	s.mu.Unlock()

	fn(t)

	s.mu.Lock()
	if s.active && s.gen == gen && s.id == 0 {
		s.request(gen, fn)
	}
	s.mu.Unlock()
}

// Stop cancels the pending frame request. No call to the function passed
// to Start begins after Stop returns, although a call that is already
// running will complete. Stop is idempotent.
func (s *FrameScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	if s.id != 0 {
		s.src.CancelFrame(s.id)
		s.id = 0
	}
}

// Active returns whether the scheduler is running.
func (s *FrameScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// TimerFrames is a FrameSource that fires frames on a fixed interval grid
// measured from its creation.
type TimerFrames struct {
	interval time.Duration
	epoch    time.Time

	mu     sync.Mutex
	last   FrameID
	timers map[FrameID]*time.Timer
	closed bool
}

// NewTimerFrames returns a TimerFrames firing every interval. If interval
// is not positive, DefaultFrameInterval is used.
func NewTimerFrames(interval time.Duration) *TimerFrames {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &TimerFrames{
		interval: interval,
		epoch:    time.Now(),
		timers:   make(map[FrameID]*time.Timer),
	}
}

// Interval returns the frame interval.
func (f *TimerFrames) Interval() time.Duration {
	return f.interval
}

// RequestFrame implements the FrameSource interface. The timestamp passed
// to fn is the time elapsed since f was created. Requests made after Close
// never fire.
func (f *TimerFrames) RequestFrame(fn func(t time.Duration)) FrameID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last++
	id := f.last
	if f.closed {
		return id
	}
	delay := f.interval - time.Since(f.epoch)%f.interval
	f.timers[id] = time.AfterFunc(delay, func() {
		f.mu.Lock()
		_, ok := f.timers[id]
		delete(f.timers, id)
		f.mu.Unlock()
		if ok {
			fn(time.Since(f.epoch))
		}
	})
	return id
}

// CancelFrame implements the FrameSource interface.
func (f *TimerFrames) CancelFrame(id FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.timers[id]; ok {
		t.Stop()
		delete(f.timers, id)
	}
}

// Close cancels all pending requests.
func (f *TimerFrames) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}
	return nil
}

// StepFrames is a FrameSource driven explicitly by calls to Step. It is
// suitable for hosts that own a frame loop and for tests.
type StepFrames struct {
	mu      sync.Mutex
	last    FrameID
	pending map[FrameID]func(time.Duration)
}

// NewStepFrames returns a new StepFrames.
func NewStepFrames() *StepFrames {
	return &StepFrames{pending: make(map[FrameID]func(time.Duration))}
}

// RequestFrame implements the FrameSource interface.
func (f *StepFrames) RequestFrame(fn func(t time.Duration)) FrameID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last++
	f.pending[f.last] = fn
	return f.last
}

// CancelFrame implements the FrameSource interface.
func (f *StepFrames) CancelFrame(id FrameID) {
	f.mu.Lock()
	delete(f.pending, id)
	f.mu.Unlock()
}

// Step fires all requests pending at the time of the call with the
// timestamp t, in request order, and returns the number fired. Requests
// made during the step are deferred to the next step.
func (f *StepFrames) Step(t time.Duration) int {
	f.mu.Lock()
	ids := make([]FrameID, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(time.Duration), len(ids))
	for i, id := range ids {
		fns[i] = f.pending[id]
		delete(f.pending, id)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
	return len(fns)
}

// Pending returns the number of outstanding requests.
func (f *StepFrames) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
