// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const (
	// DefaultBaseDir is the cache root used when Settings.BaseDir is empty.
	DefaultBaseDir = "~/.tinymind"

	// DefaultFallbackDir is used when the base directory is not writable.
	DefaultFallbackDir = "/tmp/.tinymind"

	// DefaultCacheDir is the subdirectory used when Request.CacheDir is empty.
	DefaultCacheDir = "datasets"
)

// ResolveBaseDir expands base (DefaultBaseDir when empty) and returns it if
// it is, or can be made, a writable directory. Otherwise it returns fallback
// (DefaultFallbackDir when empty).
func ResolveBaseDir(base, fallback string) (string, error) {
	if base == "" {
		base = DefaultBaseDir
	}
	if fallback == "" {
		fallback = DefaultFallbackDir
	}
	expanded, err := homedir.Expand(base)
	if err != nil {
		return "", fsError("expand", base, err)
	}
	if writableDir(expanded) {
		return expanded, nil
	}
	return homedir.Expand(fallback)
}

// GetFile returns the local path of the cache entry described by req,
// downloading req.URL only when the entry is missing or fails validation
// against req.Hash. Without a hash, whatever is on disk is trusted. After a
// re-download the file is not checked again.
//
// When req.Extract is set the entry is unpacked into its cache directory.
// The path is returned whether or not the file turned out to be an archive.
func GetFile(ctx context.Context, req Request, cfg Settings, progress ProgressFunc) (string, error) {
	req, err := req.normalize()
	if err != nil {
		return "", err
	}
	log := cfg.Logger
	if log == nil {
		log = discardLogger()
	}
	if req.CacheDir == "" {
		req.CacheDir = DefaultCacheDir
	}

	base, err := ResolveBaseDir(cfg.BaseDir, cfg.FallbackDir)
	if err != nil {
		return "", err
	}
	dataDir := filepath.Join(base, req.CacheDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fsError("mkdir", dataDir, err)
	}

	path := req.Name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, req.Name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fsError("mkdir", filepath.Dir(path), err)
	}

	download, err := needsDownload(req, path, cfg.ChunkSize)
	if err != nil {
		return "", err
	}

	switch download {
	case entryValid:
		log.Debug("cache hit", "path", path)
		progress.emit(ProgressEvent{Event: "cache_hit", Path: path, URL: req.URL})
	case entryMissing:
		log.Info("cache miss, downloading", "path", path, "url", req.URL)
		progress.emit(ProgressEvent{Event: "cache_miss", Path: path, URL: req.URL})
	case entryInvalid:
		log.Warn("cached file failed validation, downloading again", "path", path, "url", req.URL)
		progress.emit(ProgressEvent{Level: "warn", Event: "cache_invalid", Path: path, URL: req.URL})
	}

	if download != entryValid {
		dl := &Downloader{Client: cfg.HTTPClient, Progress: progress, Logger: log}
		if err := dl.Download(ctx, req.URL, path); err != nil {
			return "", err
		}
	}

	if req.Extract {
		ok, err := extractArchive(path, dataDir, req.ArchiveFormat, log)
		if err != nil {
			return "", err
		}
		msg := "extracted"
		if !ok {
			msg = "not an archive"
		}
		log.Debug("extract", "path", path, "dst", dataDir, "result", msg)
		progress.emit(ProgressEvent{Event: "extract", Path: path, Message: msg})
	}

	return path, nil
}

type entryState int

const (
	entryValid entryState = iota
	entryMissing
	entryInvalid
)

// needsDownload applies the cache-hit policy: a missing entry is downloaded,
// an existing one only when a hash was supplied and does not match.
func needsDownload(req Request, path string, chunkSize int) (entryState, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entryMissing, nil
		}
		return 0, fsError("stat", path, err)
	}
	if req.Hash == "" {
		return entryValid, nil
	}
	ok, err := ValidateFile(path, req.Hash, req.HashAlgo, chunkSize)
	if err != nil {
		return 0, err
	}
	if !ok {
		return entryInvalid, nil
	}
	return entryValid, nil
}

// normalize checks r and returns it with the algorithm and archive format
// in canonical form, so later comparisons are exact.
func (r Request) normalize() (Request, error) {
	if r.Name == "" {
		return r, ErrMissingName
	}
	if r.URL == "" {
		return r, ErrMissingURL
	}
	algo, err := ParseAlgorithm(string(r.HashAlgo))
	if err != nil {
		return r, err
	}
	format, err := ParseArchiveFormat(string(r.ArchiveFormat))
	if err != nil {
		return r, err
	}
	r.HashAlgo, r.ArchiveFormat = algo, format
	return r, nil
}
