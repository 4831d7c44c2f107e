// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scripts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/paper"
	"github.com/kortschak/paper/internal/animation"
)

// DefaultClockFormat is the default clock time layout.
const DefaultClockFormat = "15:04:05"

// clockScript renders the current time. The surface is redrawn only when
// the formatted time changes.
//
// Props:
//   - format: Go time layout (default "15:04:05")
//   - location: IANA time zone name (default local time)
//   - fg: text color (default hiwhite)
//   - bg: background color (default black)
func (r *Registry) clockScript(ctx context.Context, s paper.Surface, initial paper.Props) (*paper.Bundle, error) {
	st := &clockState{}
	err := st.apply(initial)
	if err != nil {
		return nil, err
	}
	props := initial
	return &paper.Bundle{
		Render: func(time.Duration) {
			if st.render(s, r.now()) {
				r.flush(s, "clock")
			}
		},
		OnChange: func(change paper.Props) {
			next := merged(props, change)
			err := st.apply(next)
			if err != nil {
				r.log.LogAttrs(ctx, slog.LevelWarn, "invalid props", slog.String("script", "clock"), slog.Any("error", err))
				return
			}
			props = next
		},
	}, nil
}

type clockState struct {
	mu     sync.Mutex
	format string
	loc    *time.Location
	text   animation.Text
	last   string
}

func (st *clockState) apply(p paper.Props) error {
	format, err := str(p, "format", DefaultClockFormat)
	if err != nil {
		return err
	}
	name, err := str(p, "location", "")
	if err != nil {
		return err
	}
	loc := time.Local
	if name != "" {
		loc, err = time.LoadLocation(name)
		if err != nil {
			return err
		}
	}
	name, err = str(p, "fg", "hiwhite")
	if err != nil {
		return err
	}
	fg, err := parseColor(name)
	if err != nil {
		return err
	}
	name, err = str(p, "bg", "black")
	if err != nil {
		return err
	}
	bg, err := parseColor(name)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.format = format
	st.loc = loc
	st.text = animation.Text{Color: fg, Background: bg}
	st.last = ""
	st.mu.Unlock()
	return nil
}

// render renders now and reports whether s was drawn.
func (st *clockState) render(s paper.Surface, now time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	text := now.In(st.loc).Format(st.format)
	if text == st.last {
		return false
	}
	st.last = text
	st.text.Text = text
	st.text.Render(s, 0)
	return true
}
