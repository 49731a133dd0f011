// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mind/tinyenv/internal/tui"
	"github.com/mind/tinyenv/pkg/fileutil"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	BaseDir  string
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string

	log     *slog.Logger
	logFile io.Closer
}

// Logger returns the logger built from the global flags.
func (ro *RootOpts) Logger() *slog.Logger {
	if ro.log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return ro.log
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := NewRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:           "tinyenv",
		Short:         "Dataset cache, hashing and flag helpers for TinyMind environments",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfigDefaults(cmd, ro); err != nil {
				return err
			}
			return ro.setupLogging(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ro.closeLogging()
		},
	}

	// Global flags
	root.PersistentFlags().StringVar(&ro.BaseDir, "base-dir", fileutil.DefaultBaseDir, "Cache base directory (falls back to "+fileutil.DefaultFallbackDir+" when not writable)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON (events and results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (no progress, warnings only)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON, YAML or TOML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(newFetchCmd(ro))
	root.AddCommand(newDownloadCmd(ro))
	root.AddCommand(newHashCmd(ro))
	root.AddCommand(newValidateCmd(ro))
	root.AddCommand(newExtractCmd(ro))
	root.AddCommand(newFlagsCmd(ro))
	root.AddCommand(newServeCmd(ro, version))
	root.AddCommand(newConfigCmd(ro))
	root.AddCommand(newVersionCmd(ro, version))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

func newFetchCmd(ro *RootOpts) *cobra.Command {
	req := fileutil.Request{}
	var (
		hashAlgo  string
		format    string
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "fetch NAME URL",
		Short: "Return the cached path of NAME, downloading URL when missing or invalid",
		Long: `Looks up NAME in <base-dir>/<cache-dir>. The file is downloaded from URL when
it is missing, or when --hash is given and the cached copy does not match.
With --extract the file is unpacked into the cache directory if it is a tar
or zip archive. The resolved path is printed on stdout.`,
		Example: `  tinyenv fetch hmda.tar.gz http://static.example.com/hmda.tar.gz --hash bf9f2662eb25683ca26fc58e3f90b2ad --extract`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			algo, err := fileutil.ParseAlgorithm(hashAlgo)
			if err != nil {
				return err
			}
			af, err := fileutil.ParseArchiveFormat(format)
			if err != nil {
				return err
			}
			r := req
			r.Name, r.URL = args[0], args[1]
			r.HashAlgo, r.ArchiveFormat = algo, af

			progress, done := ro.progress(cmd)
			defer done()

			path, err := fileutil.GetFile(cmd.Context(), r, ro.settings(chunkSize), progress)
			if err != nil {
				return err
			}
			return ro.printResult(cmd.OutOrStdout(), path, map[string]any{"path": path})
		},
	}

	cmd.Flags().StringVar(&req.Hash, "hash", "", "Expected SHA-256 or MD5 hex digest of the file")
	cmd.Flags().StringVar(&hashAlgo, "hash-algo", string(fileutil.Auto), "Hash algorithm: auto|sha256|md5")
	cmd.Flags().StringVar(&req.CacheDir, "cache-dir", fileutil.DefaultCacheDir, "Subdirectory of the base directory")
	cmd.Flags().BoolVarP(&req.Extract, "extract", "x", false, "Extract the file if it is an archive")
	cmd.Flags().StringVar(&format, "archive-format", string(fileutil.FormatAuto), "Archive format: auto|tar|zip")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", fileutil.DefaultChunkSize, "Read size used when hashing")

	return cmd
}

// settings builds library settings from the global flags.
func (ro *RootOpts) settings(chunkSize int) fileutil.Settings {
	cfg := fileutil.DefaultSettings()
	cfg.BaseDir = ro.BaseDir
	cfg.ChunkSize = chunkSize
	cfg.Logger = ro.Logger()
	return cfg
}

// progress selects a progress handler for the output mode. The returned
// func releases the renderer.
func (ro *RootOpts) progress(cmd *cobra.Command) (fileutil.ProgressFunc, func()) {
	switch {
	case ro.JSONOut:
		return jsonProgress(cmd.OutOrStdout()), func() {}
	case ro.Quiet:
		return nil, func() {}
	}
	var ui *tui.Renderer
	if f, ok := cmd.ErrOrStderr().(*os.File); ok {
		ui = tui.NewRenderer(f)
	} else {
		ui = tui.New(cmd.ErrOrStderr(), false)
	}
	return ui.Handler(), ui.Close
}

// printResult writes text, or v as JSON under --json.
func (ro *RootOpts) printResult(w io.Writer, text string, v any) error {
	if ro.JSONOut {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) fileutil.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev fileutil.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

// errHashMismatch makes validate exit non-zero.
var errHashMismatch = errors.New("hash mismatch")
