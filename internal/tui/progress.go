// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/mind/tinyenv/pkg/fileutil"
)

// Renderer turns fileutil progress events into terminal output.
// - On an interactive terminal each download gets a pb progress bar.
// - Otherwise only status lines are printed.
// - Status lines are coloured unless NO_COLOR is set or output is not a TTY.
type Renderer struct {
	out         io.Writer
	tty         *os.File // set by NewRenderer; sized for bar labels
	interactive bool

	mu      sync.Mutex
	bar     *pb.ProgressBar
	started time.Time

	ok, warn, fail, info *color.Color
}

// NewRenderer creates a renderer writing to f (usually os.Stderr), detecting
// whether f is an interactive terminal.
func NewRenderer(f *os.File) *Renderer {
	r := New(f, isInteractive(f) && ansiOkay())
	r.tty = f
	return r
}

// New creates a renderer writing to w. Bars and colours are only used when
// interactive is true.
func New(w io.Writer, interactive bool) *Renderer {
	r := &Renderer{
		out:         w,
		interactive: interactive,
		ok:          color.New(color.FgGreen),
		warn:        color.New(color.FgYellow),
		fail:        color.New(color.FgRed),
		info:        color.New(color.FgCyan),
	}
	if !interactive || os.Getenv("NO_COLOR") != "" {
		for _, c := range []*color.Color{r.ok, r.warn, r.fail, r.info} {
			c.DisableColor()
		}
	}
	return r
}

// Handler returns a ProgressFunc that feeds events to the renderer.
func (r *Renderer) Handler() fileutil.ProgressFunc {
	return r.Apply
}

// Apply renders a single event.
func (r *Renderer) Apply(ev fileutil.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Event {
	case "cache_hit":
		r.line(r.ok, "✓", "cached   "+ev.Path)
	case "cache_miss":
		r.line(r.info, "↓", "fetching "+ev.URL)
	case "cache_invalid":
		r.line(r.warn, "!", "hash mismatch, fetching again "+ev.URL)
	case "file_start":
		r.started = time.Now()
		if r.interactive {
			r.startBar(ev)
		}
	case "file_progress":
		if r.bar != nil {
			r.bar.SetCurrent(ev.Downloaded)
		}
	case "file_done":
		r.finishBar(ev.Downloaded)
		elapsed := time.Since(r.started).Round(time.Millisecond)
		r.line(r.ok, "✓", fmt.Sprintf("saved    %s (%s in %s)", ev.Path, humanize.Bytes(uint64(ev.Downloaded)), elapsed))
	case "extract":
		r.line(r.info, "□", fmt.Sprintf("%-8s %s", ev.Message, ev.Path))
	case "error":
		r.finishBar(-1)
		r.line(r.fail, "×", fmt.Sprintf("failed   %s: %s", ev.URL, ev.Message))
	}
}

// Close finishes any bar left running.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar(-1)
}

func (r *Renderer) startBar(ev fileutil.ProgressEvent) {
	r.finishBar(-1)

	// Bars count bytes; the chunk estimate is too coarse to draw with.
	total := ev.ContentLength
	if total < 0 {
		total = 0
	}
	bar := pb.New64(total)
	bar.Set(pb.Bytes, true)
	bar.Set("prefix", ellipsizeMiddle(filepath.Base(ev.Path), barLabelWidth(r.tty)))
	bar.SetWriter(r.out)
	bar.SetRefreshRate(150 * time.Millisecond)
	if total > 0 {
		bar.SetTemplate(pb.Full)
	} else {
		bar.SetTemplate(pb.Simple)
	}
	r.bar = bar.Start()
}

// finishBar stops the running bar. A non-negative n is its final value.
func (r *Renderer) finishBar(n int64) {
	if r.bar == nil {
		return
	}
	if n >= 0 {
		if r.bar.Total() <= 0 {
			r.bar.SetTotal(n)
		}
		r.bar.SetCurrent(n)
	}
	r.bar.Finish()
	r.bar = nil
}

func (r *Renderer) line(c *color.Color, mark, msg string) {
	fmt.Fprintf(r.out, "%s %s\n", c.Sprint(mark), msg)
}

func barLabelWidth(f *os.File) int {
	w, _ := termSize(f)
	if w/3 < 12 {
		return 12
	}
	return w / 3
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return s
	}
	runes := []rune(s)
	half := (w - 3) / 2
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// termSize measures f, falling back to 100x30 when f is nil or not a terminal.
func termSize(f *os.File) (int, int) {
	if f == nil {
		return 100, 30
	}
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}

func isInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
