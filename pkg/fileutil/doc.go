// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package fileutil downloads, verifies and unpacks dataset files into a local
cache directory.

# Features

  - Cache lookup: files are only fetched when missing or failing validation
  - Hashing: streamed SHA-256 or MD5 digests, independent of read size
  - Validation: the algorithm is inferred from the expected hash when not given
  - Extraction: tar (plain, gzip, bzip2, zstd, lz4) and zip, detected by content
  - Rollback: a failed extraction removes its partial output
  - Progress events: callbacks for progress bars, logs or job servers

# Quick Start

	path, err := fileutil.GetFile(ctx, fileutil.Request{
		Name:    "hmda.tar.gz",
		URL:     "http://static.example.com/tiny/hmda.tar.gz",
		Hash:    "bf9f2662eb25683ca26fc58e3f90b2ad",
		Extract: true,
	}, fileutil.Settings{}, nil)
	if err != nil {
		log.Fatal(err)
	}

The file lands in ~/.tinymind/datasets/hmda.tar.gz and its contents in
~/.tinymind/datasets. When the home directory is not writable the cache moves
to /tmp/.tinymind.

# Cache Policy

An existing file is trusted unless Request.Hash is set and the file does not
match it, in which case it is downloaded again. The fresh download is not
checked a second time. Without a hash, whatever is on disk is returned.

# Hash Algorithms

With Auto, a 64-character expected hash selects SHA-256 and any other length
selects MD5. The check is by length only.

# Errors

Failures are reported as *FilesystemError, *NetworkError or *ArchiveError;
use errors.As to inspect them. A hash mismatch is not an error. Nothing is
retried.

# Known Gaps

Downloads write straight to the destination, so an interrupted download leaves
a partial file. Nothing coordinates concurrent processes writing the same
cache entry.
*/
package fileutil
