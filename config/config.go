// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides paper host configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/kortschak/ardilla"
)

// System is a complete configuration.
type System struct {
	Host     *Host               `json:"host,omitempty" toml:"host"`
	Surfaces map[string]*Surface `json:"surface,omitempty" toml:"surface"`
}

// Host is the host configuration.
type Host struct {
	// Device is the physical device the host is rendering to.
	// If Device is nil, the first available device is used.
	Device *Device `json:"device,omitempty" toml:"device"`
	// Page is the name of the displayed page. Surfaces on
	// other pages are not visible.
	Page string `json:"page,omitempty" toml:"page"`
	// FPS is the frame rate for visible surfaces.
	FPS       int         `json:"fps,omitempty" toml:"fps"`
	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`

	Sum *Sum `json:"sum,omitempty"`
}

// FrameInterval returns the frame interval corresponding to the receiver's
// FPS. It returns zero if FPS is not set.
func (h *Host) FrameInterval() time.Duration {
	if h == nil || h.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(h.FPS)
}

// Device is a physical device.
type Device struct {
	// PID is the product ID of the device.
	PID ardilla.PID `json:"pid,omitempty" toml:"pid"`
	// Serial is the device serial number.
	Serial *string `json:"serial,omitempty" toml:"serial"`
}

// Surface is the configuration of a scripted surface.
type Surface struct {
	// Script is the name of the built-in script rendering
	// the surface.
	Script string `json:"script,omitempty" toml:"script"`
	// Page, Row and Col locate the surface's button.
	Page string `json:"page,omitempty" toml:"page"`
	Row  int    `json:"row" toml:"row"`
	Col  int    `json:"col" toml:"col"`
	// Threshold is the visible fraction of the surface required
	// for it to be rendered. If zero, the default is used.
	Threshold float64 `json:"threshold,omitempty" toml:"threshold"`
	// Style is merged over the default surface style.
	Style map[string]string `json:"style,omitempty" toml:"style"`
	// Props is the script's configuration. Changes to Props
	// are sent to the running script.
	Props map[string]any `json:"props,omitempty" toml:"props"`

	Sum *Sum `json:"sum,omitempty"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	host:     _#host
	surface?: {[string]: _#surface}
}

_#host: {
	device?:         _#device
	page:            *"default" | string
	fps:             *30 | int & >0 & <=120
	log_level?:      _#log_level
	log_add_source?: bool
}

_#device: {
	pid:    *0 | uint16
	serial: *"" | string
}

_#surface: {
	script:     _#script
	page:       *"default" | string
	row:        uint
	col:        uint
	threshold?: number & >=0 & <=1
	style?:     {[string]: string}
	props?:     {[string]: _}
}

_#script: "color" | "text" | "gif" | "clock"

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
