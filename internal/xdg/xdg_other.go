// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !darwin

package xdg

// https://specifications.freedesktop.org/basedir-spec/basedir-spec-0.8.html
var (
	dataHome   = dir{key: "XDG_DATA_HOME", def: ".local/share", home: "HOME"}
	dataDirs   = dir{key: "XDG_DATA_DIRS", def: "/usr/local/share/:/usr/share/"}
	configHome = dir{key: "XDG_CONFIG_HOME", def: ".config", home: "HOME"}
	stateHome  = dir{key: "XDG_STATE_HOME", def: ".local/state", home: "HOME"}
)
