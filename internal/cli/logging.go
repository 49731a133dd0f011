// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// parseLevel maps the --log-level, --verbose and --quiet flags to a level.
// --verbose wins over --quiet, and both win over --log-level.
func parseLevel(name string, verbose, quiet bool) (slog.Level, error) {
	switch {
	case verbose:
		return slog.LevelDebug, nil
	case quiet:
		return slog.LevelWarn, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q: use debug, info, warn or error", name)
	}
	return lvl, nil
}

// setupLogging builds ro.log: text on stderr, JSON under --json, and a copy
// in --log-file when set.
func (ro *RootOpts) setupLogging(stderr io.Writer) error {
	lvl, err := parseLevel(ro.LogLevel, ro.Verbose, ro.Quiet)
	if err != nil {
		return err
	}

	w := stderr
	if ro.LogFile != "" {
		f, err := os.OpenFile(ro.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		ro.logFile = f
		w = io.MultiWriter(stderr, f)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if ro.JSONOut {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	ro.log = slog.New(h)
	return nil
}

func (ro *RootOpts) closeLogging() {
	if ro.logFile != nil {
		ro.logFile.Close()
		ro.logFile = nil
	}
}
