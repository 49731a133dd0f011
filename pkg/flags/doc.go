// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package flags builds command-line flags from a definition file.
//
// The file is a JSON (comments allowed) or YAML list of entries:
//
//	[
//	  {"name": "--iterations", "type": "int", "value": 1000, "desc": "training iterations"}
//	]
//
// Its path comes from the TINYFLAGS environment variable. Types are int,
// float, string and bool; entries with any other type, or none, are skipped.
// Underscores and dashes in flag names are interchangeable on the command
// line.
package flags
