// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mind/tinyenv/pkg/fileutil"
)

func newDownloadCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "download URL PATH",
		Short: "Download URL to PATH, without any cache lookup",
		Long: `Streams URL into PATH. An interrupted download leaves a partial file behind;
nothing is retried.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			progress, done := ro.progress(cmd)
			defer done()

			cfg := ro.settings(0)
			d := &fileutil.Downloader{Client: cfg.HTTPClient, Progress: progress, Logger: cfg.Logger}
			if err := d.Download(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			fi, err := os.Stat(args[1])
			if err != nil {
				return err
			}
			return ro.printResult(cmd.OutOrStdout(),
				fmt.Sprintf("%s (%s)", args[1], humanize.Bytes(uint64(fi.Size()))),
				map[string]any{"path": args[1], "size": fi.Size()})
		},
	}
}

func newHashCmd(ro *RootOpts) *cobra.Command {
	var (
		algo      string
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "hash PATH...",
		Short: "Print the SHA-256 or MD5 digest of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := fileutil.ParseAlgorithm(algo)
			if err != nil {
				return err
			}
			// auto only means something when there is a hash to infer from.
			if a == fileutil.Auto {
				a = fileutil.SHA256
			}
			for _, path := range args {
				d, err := fileutil.HashFile(path, a, chunkSize)
				if err != nil {
					return err
				}
				ro.Logger().Debug("hashed file", "path", path, "algo", d.Algorithm)
				err = ro.printResult(cmd.OutOrStdout(),
					fmt.Sprintf("%s  %s", d, path),
					map[string]any{"path": path, "algorithm": d.Algorithm, "hex": d.Hex, "digest": d.OCI()})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&algo, "algo", "a", string(fileutil.SHA256), "Hash algorithm: sha256|md5 (auto means sha256)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", fileutil.DefaultChunkSize, "Read size in bytes")

	return cmd
}

func newValidateCmd(ro *RootOpts) *cobra.Command {
	var (
		algo      string
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "validate PATH HASH",
		Short: "Check a file against an expected digest (exit status 1 on mismatch)",
		Long: `Compares the digest of PATH with HASH. With --algo auto a 64 character HASH is
treated as SHA-256 and anything else as MD5.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := fileutil.ParseAlgorithm(algo)
			if err != nil {
				return err
			}
			if a == fileutil.Auto {
				a = fileutil.InferAlgorithm(args[1])
			}
			ok, err := fileutil.ValidateFile(args[0], args[1], a, chunkSize)
			if err != nil {
				return err
			}

			status := "OK"
			if !ok {
				status = "MISMATCH"
			}
			err = ro.printResult(cmd.OutOrStdout(),
				fmt.Sprintf("%s: %s (%s)", args[0], status, a),
				map[string]any{"path": args[0], "algorithm": a, "valid": ok})
			if err != nil {
				return err
			}
			if !ok {
				return errHashMismatch
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&algo, "algo", "a", string(fileutil.Auto), "Hash algorithm: auto|sha256|md5")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", fileutil.DefaultChunkSize, "Read size in bytes")

	return cmd
}

func newExtractCmd(ro *RootOpts) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "extract SRC [DST]",
		Short: "Extract a tar or zip archive",
		Long: `Detects the archive type from the file contents, not its name. Tarballs may be
plain or compressed with gzip, bzip2, zstd or lz4. DST defaults to a directory
next to SRC named after it ("data.tar.gz" extracts into "data"). If extraction
fails part way, DST is removed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			af, err := fileutil.ParseArchiveFormat(format)
			if err != nil {
				return err
			}
			src := args[0]
			dst := defaultExtractDir(src)
			if len(args) == 2 {
				dst = args[1]
			}

			ok, err := fileutil.ExtractArchive(src, dst, af)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("%s: not an archive", src)
			if ok {
				text = fmt.Sprintf("extracted %s -> %s", src, dst)
			} else {
				ro.Logger().Warn("nothing extracted", "src", src, "format", af)
			}
			return ro.printResult(cmd.OutOrStdout(), text,
				map[string]any{"src": src, "dst": dst, "extracted": ok})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(fileutil.FormatAuto), "Archive format: auto|tar|zip")

	return cmd
}

// defaultExtractDir strips every extension from src's base name. Rollback
// removes DST, so it must never be the directory holding src.
func defaultExtractDir(src string) string {
	base := filepath.Base(src)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	} else {
		base += ".d"
	}
	return filepath.Join(filepath.Dir(src), base)
}
