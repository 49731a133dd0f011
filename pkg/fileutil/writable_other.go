// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package fileutil

import "os"

// writableDir reports whether dir is a directory the process can write to,
// creating it first when it does not exist.
func writableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
