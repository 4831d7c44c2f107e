// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scripts

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"github.com/kortschak/paper"
	"github.com/kortschak/paper/internal/animation"
)

// colorScript renders a uniform color with an optional centered title.
//
// Props:
//   - color: color name or #rrggbb web color (default black)
//   - title: text drawn over the color
//   - fg: title color (default hiwhite)
func (r *Registry) colorScript(ctx context.Context, s paper.Surface, initial paper.Props) (*paper.Bundle, error) {
	st := &swatchState{}
	err := st.apply(initial)
	if err != nil {
		return nil, err
	}
	props := initial
	return &paper.Bundle{
		Render: func(time.Duration) {
			st.mu.Lock()
			dirty := st.dirty
			st.dirty = false
			bg, fg, title := st.bg, st.fg, st.title
			st.mu.Unlock()
			if !dirty {
				return
			}
			draw.Draw(s, s.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
			if title != "" {
				animation.DrawText(s, title, fg, basicfont.Face7x13, 0.5, 0.5, true)
			}
			r.flush(s, "color")
		},
		OnChange: func(change paper.Props) {
			next := merged(props, change)
			err := st.apply(next)
			if err != nil {
				r.log.LogAttrs(ctx, slog.LevelWarn, "invalid props", slog.String("script", "color"), slog.Any("error", err))
				return
			}
			props = next
		},
	}, nil
}

type swatchState struct {
	mu    sync.Mutex
	bg    color.Color
	fg    color.Color
	title string
	dirty bool
}

func (st *swatchState) apply(p paper.Props) error {
	name, err := str(p, "color", "black")
	if err != nil {
		return err
	}
	bg, err := parseColor(name)
	if err != nil {
		return err
	}
	name, err = str(p, "fg", "hiwhite")
	if err != nil {
		return err
	}
	fg, err := parseColor(name)
	if err != nil {
		return err
	}
	title, err := str(p, "title", "")
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.bg, st.fg, st.title = bg, fg, title
	st.dirty = true
	st.mu.Unlock()
	return nil
}

// parseColor returns the color described by val, either a named ANSI
// color or a #rrggbb web color.
func parseColor(val string) (color.Color, error) {
	if strings.HasPrefix(val, "#") {
		return webColor(val)
	}
	col, ok := ansiColor[val]
	if !ok {
		return nil, fmt.Errorf("invalid color name: %s", val)
	}
	return col, nil
}

var ansiColor = map[string]color.RGBA{
	"black":     {R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	"red":       {R: 0x80, G: 0x00, B: 0x00, A: 0xff},
	"green":     {R: 0x00, G: 0x80, B: 0x00, A: 0xff},
	"yellow":    {R: 0x80, G: 0x80, B: 0x00, A: 0xff},
	"blue":      {R: 0x00, G: 0x00, B: 0x80, A: 0xff},
	"magenta":   {R: 0x80, G: 0x00, B: 0x80, A: 0xff},
	"cyan":      {R: 0x00, G: 0x80, B: 0x80, A: 0xff},
	"white":     {R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff},
	"hiblack":   {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	"hired":     {R: 0xff, G: 0x00, B: 0x00, A: 0xff},
	"higreen":   {R: 0x00, G: 0xff, B: 0x00, A: 0xff},
	"hiyellow":  {R: 0xff, G: 0xff, B: 0x00, A: 0xff},
	"hiblue":    {R: 0x00, G: 0x00, B: 0xff, A: 0xff},
	"himagenta": {R: 0xff, G: 0x00, B: 0xff, A: 0xff},
	"hicyan":    {R: 0x00, G: 0xff, B: 0xff, A: 0xff},
	"hiwhite":   {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
}

func webColor(val string) (color.Color, error) {
	hex, ok := strings.CutPrefix(val, "#")
	if !ok || len(hex) != 6 {
		return nil, fmt.Errorf("invalid web color: %s", val)
	}
	c, err := strconv.ParseUint(hex, 16, 24)
	if err != nil {
		return nil, fmt.Errorf("invalid web color: %s", val)
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(c))
	return color.RGBA{R: b[1], G: b[2], B: b[3], A: 0xff}, nil
}
