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

// textScript renders text, scrolling it if it does not fit the surface.
//
// Props:
//   - text: the text to render
//   - fg: text color (default hiwhite)
//   - bg: background color (default black)
//   - step: scroll interval per character as a duration string or
//     milliseconds (default 150ms)
func (r *Registry) textScript(ctx context.Context, s paper.Surface, initial paper.Props) (*paper.Bundle, error) {
	st := &textState{}
	err := st.apply(initial)
	if err != nil {
		return nil, err
	}
	props := initial
	return &paper.Bundle{
		Render: func(t time.Duration) {
			if st.render(s, t) {
				r.flush(s, "text")
			}
		},
		OnChange: func(change paper.Props) {
			next := merged(props, change)
			err := st.apply(next)
			if err != nil {
				r.log.LogAttrs(ctx, slog.LevelWarn, "invalid props", slog.String("script", "text"), slog.Any("error", err))
				return
			}
			props = next
		},
	}, nil
}

type textState struct {
	mu    sync.Mutex
	text  animation.Text
	start time.Duration
	reset bool // start is set from the next frame
	done  bool // the last render was final
}

func (st *textState) apply(p paper.Props) error {
	text, err := str(p, "text", "")
	if err != nil {
		return err
	}
	name, err := str(p, "fg", "hiwhite")
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
	step, err := duration(p, "step", animation.DefaultStep)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.text = animation.Text{Text: text, Color: fg, Background: bg, Step: step}
	st.reset = true
	st.done = false
	st.mu.Unlock()
	return nil
}

// render renders the text at frame time t and reports whether s
// was drawn.
func (st *textState) render(s paper.Surface, t time.Duration) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.reset {
		st.start = t
		st.reset = false
	}
	if st.done {
		return false
	}
	st.done = st.text.Render(s, t-st.start)
	return true
}
