// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// countingFrames is a FrameSource that records requests and cancellations.
type countingFrames struct {
	*StepFrames

	mu        sync.Mutex
	requested int
	cancelled []FrameID
}

func (f *countingFrames) RequestFrame(fn func(time.Duration)) FrameID {
	f.mu.Lock()
	f.requested++
	f.mu.Unlock()
	return f.StepFrames.RequestFrame(fn)
}

func (f *countingFrames) CancelFrame(id FrameID) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	f.mu.Unlock()
	f.StepFrames.CancelFrame(id)
}

func TestFrameScheduler(t *testing.T) {
	t.Run("ticks_until_stopped", func(t *testing.T) {
		src := NewStepFrames()
		s := NewFrameScheduler(src)
		var got []time.Duration
		s.Start(func(t time.Duration) { got = append(got, t) })
		for i := 1; i <= 3; i++ {
			src.Step(time.Duration(i))
		}
		s.Stop()
		src.Step(4)
		src.Step(5)
		want := []time.Duration{1, 2, 3}
		if !cmp.Equal(got, want) {
			t.Errorf("unexpected ticks:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
		}
		if src.Pending() != 0 {
			t.Errorf("unexpected pending requests after stop: %d", src.Pending())
		}
	})

	t.Run("stop_is_idempotent", func(t *testing.T) {
		src := &countingFrames{StepFrames: NewStepFrames()}
		s := NewFrameScheduler(src)
		s.Start(func(time.Duration) {})
		s.Stop()
		s.Stop()
		if len(src.cancelled) != 1 {
			t.Errorf("unexpected number of cancellations: got:%d want:1", len(src.cancelled))
		}
		if s.Active() {
			t.Error("scheduler active after stop")
		}
	})

	t.Run("stop_never_started", func(t *testing.T) {
		src := &countingFrames{StepFrames: NewStepFrames()}
		s := NewFrameScheduler(src)
		s.Stop()
		if len(src.cancelled) != 0 {
			t.Errorf("unexpected cancellation: %v", src.cancelled)
		}
	})

	t.Run("start_does_not_overlap", func(t *testing.T) {
		src := &countingFrames{StepFrames: NewStepFrames()}
		s := NewFrameScheduler(src)
		var n int
		s.Start(func(time.Duration) { n++ })
		s.Start(func(time.Duration) { n += 100 })
		if src.Pending() != 1 {
			t.Errorf("unexpected number of pending requests: got:%d want:1", src.Pending())
		}
		src.Step(1)
		if n != 1 {
			t.Errorf("unexpected callback count: got:%d want:1", n)
		}
	})

	t.Run("stop_during_tick", func(t *testing.T) {
		src := NewStepFrames()
		s := NewFrameScheduler(src)
		var n int
		s.Start(func(time.Duration) {
			n++
			s.Stop()
		})
		src.Step(1)
		src.Step(2)
		if n != 1 {
			t.Errorf("unexpected callback count: got:%d want:1", n)
		}
		if src.Pending() != 0 {
			t.Errorf("unexpected pending requests: %d", src.Pending())
		}
	})

	t.Run("restart", func(t *testing.T) {
		src := NewStepFrames()
		s := NewFrameScheduler(src)
		var n int
		fn := func(time.Duration) { n++ }
		s.Start(fn)
		src.Step(1)
		s.Stop()
		s.Start(fn)
		src.Step(2)
		src.Step(3)
		if n != 3 {
			t.Errorf("unexpected callback count: got:%d want:3", n)
		}
	})
}

func TestStepFramesDefersNewRequests(t *testing.T) {
	src := NewStepFrames()
	var order []int
	src.RequestFrame(func(time.Duration) {
		order = append(order, 1)
		src.RequestFrame(func(time.Duration) { order = append(order, 3) })
	})
	id := src.RequestFrame(func(time.Duration) { order = append(order, 2) })
	src.RequestFrame(func(time.Duration) { order = append(order, 4) })
	src.CancelFrame(id)

	if n := src.Step(0); n != 2 {
		t.Errorf("unexpected number of frames fired: got:%d want:2", n)
	}
	if n := src.Step(0); n != 1 {
		t.Errorf("unexpected number of frames fired: got:%d want:1", n)
	}
	want := []int{1, 4, 3}
	if !cmp.Equal(order, want) {
		t.Errorf("unexpected order:\n--- want:\n+++ got:\n%s", cmp.Diff(want, order))
	}
}

func TestTimerFrames(t *testing.T) {
	f := NewTimerFrames(time.Millisecond)
	defer f.Close()

	fired := make(chan time.Duration, 1)
	f.RequestFrame(func(t time.Duration) { fired <- t })
	select {
	case ts := <-fired:
		if ts <= 0 {
			t.Errorf("unexpected non-positive timestamp: %v", ts)
		}
	case <-time.After(time.Second):
		t.Fatal("frame did not fire")
	}

	cancelled := make(chan struct{})
	id := f.RequestFrame(func(time.Duration) { close(cancelled) })
	f.CancelFrame(id)
	f.CancelFrame(id)

	f.Close()
	f.RequestFrame(func(time.Duration) { close(cancelled) })

	select {
	case <-cancelled:
		t.Error("cancelled frame fired")
	case <-time.After(20 * time.Millisecond):
	}
}
