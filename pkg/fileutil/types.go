// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Algorithm names a digest algorithm used to fingerprint cached files.
type Algorithm string

const (
	// SHA256 is the default hashing algorithm.
	SHA256 Algorithm = "sha256"

	// MD5 is accepted for compatibility with published dataset checksums.
	MD5 Algorithm = "md5"

	// Auto infers the algorithm from the expected hash: 64 characters
	// means sha256, anything else md5. Only meaningful for validation.
	Auto Algorithm = "auto"
)

// ParseAlgorithm maps a user-supplied name to an Algorithm.
// The empty string maps to Auto.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", Auto:
		return Auto, nil
	case SHA256:
		return SHA256, nil
	case MD5:
		return MD5, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// ArchiveFormat selects how ExtractArchive recognises its input.
type ArchiveFormat string

const (
	// FormatAuto tries tar, then zip.
	FormatAuto ArchiveFormat = "auto"

	// FormatTar covers plain, gzip, bzip2, zstd and lz4 compressed tarballs.
	FormatTar ArchiveFormat = "tar"

	// FormatZip covers zip archives.
	FormatZip ArchiveFormat = "zip"
)

// ParseArchiveFormat maps a user-supplied name to an ArchiveFormat.
// The empty string maps to FormatAuto.
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	switch ArchiveFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatTar:
		return FormatTar, nil
	case FormatZip:
		return FormatZip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownArchiveFormat, s)
	}
}

// Request describes one cache entry to resolve.
//
// Example:
//
//	req := fileutil.Request{
//	    Name:    "hmda.tar.gz",
//	    URL:     "http://static.example.com/hmda.tar.gz",
//	    Hash:    "bf9f2662eb25683ca26fc58e3f90b2ad",
//	    Extract: true,
//	}
type Request struct {
	// Name is the file name inside the cache directory.
	// An absolute path is used as-is and bypasses the cache directory.
	// This field is required.
	Name string `json:"name"`

	// URL is where the file is downloaded from on a cache miss.
	// This field is required.
	URL string `json:"url"`

	// Hash is the expected hex digest. When empty, whatever is on disk
	// is trusted.
	Hash string `json:"hash,omitempty"`

	// HashAlgo is the algorithm for Hash. Empty means Auto.
	HashAlgo Algorithm `json:"hashAlgo,omitempty"`

	// CacheDir is the subdirectory of the base directory holding the entry.
	// If empty, defaults to "datasets".
	CacheDir string `json:"cacheDir,omitempty"`

	// Extract unpacks the file into the cache directory after resolving it.
	Extract bool `json:"extract,omitempty"`

	// ArchiveFormat restricts extraction to one format. Empty means FormatAuto.
	ArchiveFormat ArchiveFormat `json:"archiveFormat,omitempty"`
}

// Settings configures where the cache lives and how files are fetched.
//
// The zero value is usable: the cache lives under ~/.tinymind, falling back
// to /tmp/.tinymind when the home directory is not writable.
type Settings struct {
	// BaseDir is the cache root. A leading "~" is expanded.
	// If empty, defaults to "~/.tinymind".
	BaseDir string

	// FallbackDir is used when BaseDir is not writable.
	// If empty, defaults to "/tmp/.tinymind".
	FallbackDir string

	// ChunkSize is the read size used when hashing.
	// If <= 0, defaults to DefaultChunkSize.
	ChunkSize int

	// HTTPClient performs downloads. If nil, a client with no overall
	// timeout is built.
	HTTPClient *http.Client

	// Logger receives debug and info records. If nil, nothing is logged.
	Logger *slog.Logger
}

// DefaultSettings returns Settings with defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		BaseDir:     DefaultBaseDir,
		FallbackDir: DefaultFallbackDir,
		ChunkSize:   DefaultChunkSize,
	}
}

// ProgressEvent reports what the resolver and downloader are doing.
//
// The Event field is one of:
//   - "cache_hit": the entry exists and is trusted
//   - "cache_miss": the entry does not exist
//   - "cache_invalid": the entry exists but failed hash validation
//   - "file_start": a download has started; Total is the estimated chunk count
//   - "file_progress": one chunk was written
//   - "file_done": the download finished
//   - "extract": the entry was extracted (Message says whether it was an archive)
//   - "error": a download failed
type ProgressEvent struct {
	Time time.Time `json:"time"`

	Level string `json:"level,omitempty"`

	Event string `json:"event"`

	// Path is the local cache path.
	Path string `json:"path,omitempty"`

	// URL is the remote resource, set on download events.
	URL string `json:"url,omitempty"`

	// Bytes is the size of the chunk written in a "file_progress" event.
	Bytes int64 `json:"bytes,omitempty"`

	// Total is the estimated number of chunks (content length / 1024 + 1).
	// Zero when the server did not declare a content length.
	Total int64 `json:"total,omitempty"`

	// Downloaded is the cumulative byte count.
	Downloaded int64 `json:"downloaded,omitempty"`

	// ContentLength is the declared response size, or -1 when unknown.
	ContentLength int64 `json:"contentLength,omitempty"`

	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress events. Calls happen on the goroutine
// that invoked GetFile or Download.
type ProgressFunc func(ProgressEvent)

func (p ProgressFunc) emit(ev ProgressEvent) {
	if p == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	p(ev)
}
