// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/mkmik/multierror"
	"github.com/pierrec/lz4/v4"
)

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4   = []byte{0x04, 0x22, 0x4d, 0x18}
)

// archiveFormats is the order FormatAuto tries formats in.
var archiveFormats = []ArchiveFormat{FormatTar, FormatZip}

// ExtractArchive extracts src into dst if src is an archive of the given
// format. FormatAuto (or "") tries tar, then zip, choosing by content rather
// than by file name.
//
// It returns false when src matched no format. When extraction fails part
// way, dst is removed, whether it is a file or a directory tree, and the
// failure is returned as an *ArchiveError.
func ExtractArchive(src, dst string, format ArchiveFormat) (bool, error) {
	return extractArchive(src, dst, format, nil)
}

func extractArchive(src, dst string, format ArchiveFormat, log *slog.Logger) (bool, error) {
	if log == nil {
		log = discardLogger()
	}
	formats := archiveFormats
	switch format {
	case "", FormatAuto:
	case FormatTar, FormatZip:
		formats = []ArchiveFormat{format}
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownArchiveFormat, string(format))
	}

	for _, f := range formats {
		var (
			match   func(string) bool
			extract func(src, dst string, log *slog.Logger) error
		)
		switch f {
		case FormatTar:
			match, extract = IsTarFile, extractTar
		case FormatZip:
			match, extract = IsZipFile, extractZip
		}
		if !match(src) {
			continue
		}

		log.Debug("extracting archive", "src", src, "dst", dst, "format", f)
		if err := extract(src, dst, log); err != nil {
			return true, rollback(src, dst, f, err)
		}
		return true, nil
	}
	return false, nil
}

// rollback removes whatever was written to dst and returns the extraction
// failure, combined with any cleanup failure.
func rollback(src, dst string, format ArchiveFormat, cause error) error {
	if _, err := os.Lstat(dst); err == nil {
		if rmErr := os.RemoveAll(dst); rmErr != nil {
			cause = multierror.Append(cause, fsError("remove", dst, rmErr))
		}
	}
	return &ArchiveError{Path: src, Format: format, Err: cause}
}

// IsTarFile reports whether path holds a tarball, optionally compressed
// with gzip, bzip2, zstd or lz4. The first header must parse.
func IsTarFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	r, closeFn, err := decompress(f)
	if err != nil {
		return false
	}
	defer closeFn()

	_, err = tar.NewReader(r).Next()
	return err == nil || errors.Is(err, tar.ErrInsecurePath)
}

// IsZipFile reports whether path holds a zip archive with a readable
// central directory.
func IsZipFile(path string) bool {
	zr, err := openZip(path)
	if err != nil {
		return false
	}
	zr.Close()
	return true
}

// decompress sniffs the compression of r by its magic bytes and returns a
// reader over the decompressed stream. Unrecognised input is passed through.
func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(head, magicGzip):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { zr.Close() }, nil
	case bytes.HasPrefix(head, magicBzip2):
		return bzip2.NewReader(br), func() {}, nil
	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case bytes.HasPrefix(head, magicLZ4):
		return lz4.NewReader(br), func() {}, nil
	default:
		return br, func() {}, nil
	}
}

func extractTar(src, dst string, log *slog.Logger) error {
	f, err := os.Open(src)
	if err != nil {
		return fsError("open", src, err)
	}
	defer f.Close()

	r, closeFn, err := decompress(f)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fsError("mkdir", dst, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		// Names are contained by SecureJoin below.
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return err
		}

		target, err := securejoin.SecureJoin(dst, hdr.Name)
		if err != nil {
			return fmt.Errorf("entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fsError("mkdir", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fsError("mkdir", filepath.Dir(target), err)
			}
			if !linkWithin(dst, target, hdr.Linkname) {
				return fmt.Errorf("entry %q: link target %q escapes %s", hdr.Name, hdr.Linkname, dst)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fsError("symlink", target, err)
			}
		case tar.TypeLink:
			oldname, err := securejoin.SecureJoin(dst, hdr.Linkname)
			if err != nil {
				return fmt.Errorf("entry %q: %w", hdr.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fsError("mkdir", filepath.Dir(target), err)
			}
			_ = os.Remove(target)
			if err := os.Link(oldname, target); err != nil {
				return fsError("link", target, err)
			}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		default:
			log.Debug("skipping tar entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

// openZip opens a zip archive, accepting archives whose entry names are
// flagged as insecure; extraction contains them itself.
func openZip(path string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil && errors.Is(err, zip.ErrInsecurePath) {
		return zr, nil
	}
	return zr, err
}

func extractZip(src, dst string, _ *slog.Logger) error {
	zr, err := openZip(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fsError("mkdir", dst, err)
	}

	for _, zf := range zr.File {
		target, err := securejoin.SecureJoin(dst, zf.Name)
		if err != nil {
			return fmt.Errorf("entry %q: %w", zf.Name, err)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fsError("mkdir", target, err)
			}
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("entry %q: %w", zf.Name, err)
		}
		err = writeFile(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// linkWithin reports whether a symlink at target pointing to linkname
// resolves inside root.
func linkWithin(root, target, linkname string) bool {
	if filepath.IsAbs(linkname) {
		return false
	}
	rel, err := filepath.Rel(root, filepath.Join(filepath.Dir(target), linkname))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// writeFile copies r into a new file at path, creating parent directories.
// Read failures are returned unwrapped so they surface as archive
// corruption rather than filesystem trouble.
func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fsError("mkdir", filepath.Dir(path), err)
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fsError("create", path, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return err
	}
	return fsError("close", path, out.Close())
}
