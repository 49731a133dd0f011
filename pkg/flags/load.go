// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads flag definitions from path. Files ending in .yaml or .yml are
// decoded as YAML; anything else as JSON, with comments and trailing commas
// allowed.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Decode parses a definition list. ext selects the format the same way Load
// does.
func Decode(data []byte, ext string) ([]Definition, error) {
	var defs []Definition
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("parsing flag definitions: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&defs); err != nil {
			return nil, fmt.Errorf("parsing flag definitions: %w", err)
		}
	}
	return defs, nil
}

// LoadEnv loads the definition file named by the TINYFLAGS variable, looked
// up through getenv (os.Getenv when nil). An unset variable, a missing file,
// a directory or a file that does not parse all give an empty set.
func LoadEnv(getenv func(string) string) []Definition {
	if getenv == nil {
		getenv = os.Getenv
	}
	path := getenv(EnvVar)
	if path == "" {
		return nil
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return nil
	}
	defs, err := Load(path)
	if err != nil {
		return nil
	}
	return defs
}
