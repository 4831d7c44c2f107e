// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xdg provides functions for locating paper's configuration,
// data and state directories across platforms.
package xdg

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Data returns the path to the named file found first in the list of
// data directories obtained from DataHome, and DataDirs if local is false.
// If no file is found Data returns an error wrapping fs.ErrNotExist.
func Data(name string, local bool) (string, error) {
	return find(name, dataHome, dataDirs, local)
}

// DataHome returns the path corresponding to XDG_DATA_HOME.
func DataHome() (string, bool) { return dataHome.path() }

// DataDirs returns the path list corresponding to XDG_DATA_DIRS.
func DataDirs() (string, bool) { return dataDirs.path() }

// ConfigHome returns the path corresponding to XDG_CONFIG_HOME.
func ConfigHome() (string, bool) { return configHome.path() }

// StateHome returns the path corresponding to XDG_STATE_HOME.
func StateHome() (string, bool) { return stateHome.path() }

// dir is a base directory specification.
type dir struct {
	key  string // environment variable overriding the default
	def  string // default path or path list
	home string // environment variable holding the base for relative defaults
}

func (d dir) path() (string, bool) {
	return envOrDefault(d.key, d.def, d.home)
}

// find returns the path to the named file found first in local or, if
// global is true, in the list of paths in global.
func find(name string, local, global dir, localOnly bool) (string, error) {
	if base, ok := local.path(); ok {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if !localOnly {
		if list, ok := global.path(); ok {
			for _, base := range filepath.SplitList(list) {
				path := filepath.Join(base, name)
				if _, err := os.Stat(path); err == nil {
					return path, nil
				}
			}
		}
	}
	return "", &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
}

// envOrDefault return the path or path list corresponding to the provided
// key and default. If home is not empty, the default is treated as an absolute
// path or path list and returned unaltered, otherwise the default is returned
// relative to home.
func envOrDefault(key, def, home string) (string, bool) {
	if key != "" {
		val, ok := os.LookupEnv(key)
		if ok {
			return val, true
		}
	}
	if def == "" {
		return "", false
	}
	if home == "" || filepath.IsAbs(def) {
		return def, true
	}
	base, ok := os.LookupEnv(home)
	if !ok {
		return "", false
	}
	return filepath.Join(base, def), true
}
