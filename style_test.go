// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paper

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergeStyle(t *testing.T) {
	got := MergeStyle(Style{"height": "50%", "border": "1px"})
	want := Style{"width": "100%", "height": "50%", "border": "1px"}
	if !cmp.Equal(got, want) {
		t.Errorf("unexpected style:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	if d := DefaultStyle(); d["height"] != "100%" {
		t.Errorf("merge altered default style: %v", d)
	}
}

func TestStyleBounds(t *testing.T) {
	container := image.Rect(10, 20, 82, 92)
	tests := []struct {
		name    string
		style   Style
		want    image.Rectangle
		wantErr bool
	}{
		{
			name:  "default",
			style: DefaultStyle(),
			want:  container,
		},
		{
			name:  "empty",
			style: nil,
			want:  container,
		},
		{
			name:  "percent",
			style: MergeStyle(Style{"width": "50%"}),
			want:  image.Rect(10, 20, 46, 92),
		},
		{
			name:  "pixels",
			style: Style{"width": "36px", "height": "18"},
			want:  image.Rect(10, 20, 46, 38),
		},
		{
			name:  "clipped",
			style: Style{"width": "200%", "height": "1000px"},
			want:  container,
		},
		{
			name:    "invalid",
			style:   Style{"width": "wide"},
			wantErr: true,
		},
		{
			name:    "negative",
			style:   Style{"height": "-10%"},
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.style.Bounds(container)
			if (err != nil) != test.wantErr {
				t.Fatalf("unexpected error: got:%v want error:%t", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if got != test.want {
				t.Errorf("unexpected bounds: got:%v want:%v", got, test.want)
			}
		})
	}
}

func TestNewSurface(t *testing.T) {
	s, err := NewSurface(image.Rect(0, 0, 72, 72), MergeStyle(Style{"height": "50%"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := s.Bounds(), image.Rect(0, 0, 72, 36); got != want {
		t.Errorf("unexpected surface bounds: got:%v want:%v", got, want)
	}
}
