// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package fileutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// writableDir reports whether dir is a directory the process can write to,
// creating it first when it does not exist.
func writableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	return unix.Access(dir, unix.W_OK) == nil
}
