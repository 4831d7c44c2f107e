// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scripts

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"

	"github.com/kortschak/paper"
	"github.com/kortschak/paper/internal/animation"
	"github.com/kortschak/paper/internal/xdg"
)

// gifScript renders an animated GIF or a still image. The image is loaded
// while the script loads, so a slow file system delays only this surface.
//
// Props:
//   - src: an image file path or a "data:image/*;base64," data URI.
//     Relative paths are resolved against the data directory and then
//     the paper XDG data directories.
func (r *Registry) gifScript(ctx context.Context, s paper.Surface, initial paper.Props) (*paper.Bundle, error) {
	src, err := str(initial, "src", "")
	if err != nil {
		return nil, err
	}
	img, err := r.decodeImage(src)
	if err != nil {
		return nil, err
	}
	st := &imageState{}
	st.set(img)
	props := initial
	return &paper.Bundle{
		Render: func(t time.Duration) {
			if st.render(s, t) {
				r.flush(s, "gif")
			}
		},
		OnChange: func(change paper.Props) {
			if _, ok := change["src"]; !ok {
				return
			}
			next := merged(props, change)
			src, err := str(next, "src", "")
			if err == nil {
				img, err = r.decodeImage(src)
			}
			if err != nil {
				r.log.LogAttrs(ctx, slog.LevelWarn, "invalid props", slog.String("script", "gif"), slog.Any("error", err))
				return
			}
			props = next
			st.set(img)
		},
	}, nil
}

type imageState struct {
	mu    sync.Mutex
	img   animation.Renderer
	start time.Duration
	reset bool
	done  bool
}

func (st *imageState) set(img animation.Renderer) {
	st.mu.Lock()
	st.img = img
	st.reset = true
	st.done = false
	st.mu.Unlock()
}

// render renders the image at frame time t and reports whether s was
// drawn.
func (st *imageState) render(s paper.Surface, t time.Duration) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.reset {
		st.start = t
		st.reset = false
	}
	if st.done {
		return false
	}
	st.done = st.img.Render(s, t-st.start)
	return true
}

// still is a single frame image renderer.
type still struct {
	image.Image
}

// Render draws the image scaled to fit dst on a black background.
func (img still) Render(dst draw.Image, _ time.Duration) (done bool) {
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	b := img.Bounds()
	draw.BiLinear.Scale(dst, animation.KeepAspectRatio(dst.Bounds(), b), img, b, draw.Over, nil)
	return true
}

// decodeImage decodes the image referenced by src.
func (r *Registry) decodeImage(src string) (animation.Renderer, error) {
	if src == "" {
		return nil, errors.New("missing image src")
	}
	var data []byte
	if uri, ok := strings.CutPrefix(src, "data:"); ok {
		mtyp, val, ok := strings.Cut(uri, ",")
		if !ok || !strings.HasPrefix(mtyp, "image/") || !strings.HasSuffix(mtyp, ";base64") {
			return nil, fmt.Errorf("invalid image data uri: %.32s", src)
		}
		b, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
		data = b
	} else {
		path, err := r.resolve(src)
		if err != nil {
			return nil, err
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	rp := animation.AsReadPeeker(bytes.NewReader(data))
	if animation.IsGIF(rp) {
		return animation.DecodeGIF(rp)
	}
	img, _, err := image.Decode(rp)
	if err != nil {
		return nil, err
	}
	return still{img}, nil
}

// resolve returns the path to the image file named by src.
func (r *Registry) resolve(src string) (string, error) {
	if rel, ok := strings.CutPrefix(src, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, rel), nil
	}
	if filepath.IsAbs(src) {
		return src, nil
	}
	if r.dataDir != "" {
		path := filepath.Join(r.dataDir, src)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return xdg.Data(filepath.Join("paper", src), false)
}
