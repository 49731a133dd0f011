// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DownloadChunkSize is the size of each write to the destination file.
const DownloadChunkSize = 8192

// Downloader fetches remote resources into local files.
//
// Downloads are not atomic: the destination is written in place, so a
// failed or interrupted download leaves a partial file behind. Callers
// relying on the cache should validate with a hash.
type Downloader struct {
	// Client performs the GET. If nil, a client with no overall timeout is used.
	Client *http.Client

	// Progress receives file_start, file_progress and file_done events.
	Progress ProgressFunc

	// Logger receives debug records. If nil, nothing is logged.
	Logger *slog.Logger
}

// buildHTTPClient creates an HTTP client with sensible transport defaults
// and no overall timeout, so large files are never cut off.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// estimateChunks returns the progress estimate for a response of the given
// length. Unknown lengths yield 0.
func estimateChunks(contentLength int64) int64 {
	if contentLength < 0 {
		return 0
	}
	return contentLength/1024 + 1
}

// DownloadFile fetches url into path with a default Downloader.
func DownloadFile(ctx context.Context, url, path string) error {
	return (&Downloader{}).Download(ctx, url, path)
}

// Download streams url into path, overwriting any existing file. The body is
// read in chunks of at most DownloadChunkSize bytes, each going straight to
// the file so progress can be inspected while the transfer runs. A truncated
// body is reported as a NetworkError.
func (d *Downloader) Download(ctx context.Context, url, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := d.Logger
	if log == nil {
		log = discardLogger()
	}
	httpc := d.Client
	if httpc == nil {
		httpc = buildHTTPClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}
	resp, err := httpc.Do(req)
	if err != nil {
		d.Progress.emit(ProgressEvent{Level: "error", Event: "error", URL: url, Path: path, Message: err.Error()})
		return &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.Progress.emit(ProgressEvent{Level: "error", Event: "error", URL: url, Path: path, Message: resp.Status})
		return &NetworkError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	out, err := os.Create(path)
	if err != nil {
		return fsError("create", path, err)
	}
	defer out.Close()

	total := estimateChunks(resp.ContentLength)
	log.Debug("download started", "url", url, "path", path, "content_length", resp.ContentLength)
	d.Progress.emit(ProgressEvent{Event: "file_start", URL: url, Path: path, Total: total, ContentLength: resp.ContentLength})

	var downloaded int64
	buf := make([]byte, DownloadChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fsError("write", path, werr)
			}
			downloaded += int64(n)
			d.Progress.emit(ProgressEvent{
				Event:      "file_progress",
				URL:        url,
				Path:       path,
				Bytes:      int64(n),
				Total:      total,
				Downloaded: downloaded,
			})
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			d.Progress.emit(ProgressEvent{Level: "error", Event: "error", URL: url, Path: path, Message: rerr.Error()})
			return &NetworkError{URL: url, Err: rerr}
		}
	}

	if err := out.Close(); err != nil {
		return fsError("close", path, err)
	}

	log.Debug("download finished", "url", url, "path", path, "bytes", downloaded)
	d.Progress.emit(ProgressEvent{Event: "file_done", URL: url, Path: path, Total: total, Downloaded: downloaded})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
