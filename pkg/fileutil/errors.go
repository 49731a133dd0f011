// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the library.
var (
	// ErrUnknownAlgorithm is returned for a hash algorithm other than sha256 or md5.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

	// ErrUnknownArchiveFormat is returned for an archive format other than auto, tar or zip.
	ErrUnknownArchiveFormat = errors.New("unknown archive format")

	// ErrMissingName is returned when a Request has no Name.
	ErrMissingName = errors.New("missing file name")

	// ErrMissingURL is returned when a Request has no URL.
	ErrMissingURL = errors.New("missing url")

	// ErrUnauthorized matches a NetworkError carrying a 401 or 403 status.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound matches a NetworkError carrying a 404 status.
	ErrNotFound = errors.New("not found")
)

// FilesystemError wraps a failure to read, create or write a local path.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// NetworkError is returned when a download cannot be completed: the
// connection failed, the server answered with a non-2xx status, or the
// body stream broke.
type NetworkError struct {
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: bad status: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for common status comparisons.
func (e *NetworkError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == ErrUnauthorized
	case http.StatusNotFound:
		return target == ErrNotFound
	default:
		return false
	}
}

// ArchiveError is returned when an archive matched a format but could not
// be extracted. By the time it is returned the destination has been removed.
type ArchiveError struct {
	Path   string
	Format ArchiveFormat
	Err    error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("extract %s archive %s: %v", e.Format, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

func fsError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}
