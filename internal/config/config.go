// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides live configuration reloading and unification
// functions.
package config

import "github.com/kortschak/paper/config"

// Alias the publicly visible types.
type (
	System  = config.System
	Host    = config.Host
	Device  = config.Device
	Surface = config.Surface
	Sum     = config.Sum
)

const (
	hostName    = "host"
	surfaceName = "surface"
)

// fragmentSchema is the schema for a valid configuration fragment. It is
// relaxed relative to [config.Schema] so that a host section and its
// surfaces may be split across files and vetted independently.
const fragmentSchema = `
{
	host?:    _#host
	surface?: {[string]: _#surface}
}

_#host: {
	device?:         _#device
	page?:           string
	fps?:            int & >0 & <=120
	log_level?:      _#log_level
	log_add_source?: bool
}

_#device: {
	pid:    *0 | uint16
	serial: *"" | string
}

_#surface: {
	script?:    _#script // presence checked at unification.
	page?:      string
	row?:       uint
	col?:       uint
	threshold?: number & >=0 & <=1
	style?:     {[string]: string}
	props?:     {[string]: _}
}

_#script: "color" | "text" | "gif" | "clock"

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`
