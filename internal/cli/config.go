// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mind/tinyenv/pkg/fileutil"
)

// configName is the file stem looked up in ~/.config.
const configName = "tinyenv"

// configExts lists the extensions searched for, in order.
var configExts = []string{".json", ".yaml", ".yml", ".toml"}

// configAliases maps flag names to the config key that sets them when the
// two differ.
var configAliases = map[string]string{
	"algo":   "hash-algo",
	"format": "archive-format",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() map[string]any {
	return map[string]any{
		"base-dir":       fileutil.DefaultBaseDir,
		"cache-dir":      fileutil.DefaultCacheDir,
		"hash-algo":      string(fileutil.Auto),
		"archive-format": string(fileutil.FormatAuto),
		"chunk-size":     fileutil.DefaultChunkSize,
		"log-level":      "info",
		"flags-file":     "",
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, ".config"), nil
}

// findConfig returns explicit if set, else the first existing default config
// file, else "".
func findConfig(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir, err := configDir()
	if err != nil {
		return ""
	}
	for _, ext := range configExts {
		p := filepath.Join(dir, configName+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig decodes a config file according to its extension.
func loadConfig(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML config file: %w", err)
		}
	default: // .json or unknown
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}
	return cfg, nil
}

// applyConfigDefaults fills every flag of cmd not set on the command line
// from the config file.
func applyConfigDefaults(cmd *cobra.Command, ro *RootOpts) error {
	path := findConfig(ro.Config)
	if path == "" {
		return nil
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	var firstErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || firstErr != nil {
			return
		}
		key := f.Name
		if alias, ok := configAliases[key]; ok {
			key = alias
		}
		v, ok := cfg[key]
		if !ok || v == nil {
			return
		}
		if err := f.Value.Set(configValue(v)); err != nil {
			firstErr = fmt.Errorf("config %s: %s: %w", path, key, err)
		}
	})
	return firstErr
}

// configValue renders a decoded config value in flag syntax. Lists become
// comma-separated, which slice flags accept.
func configValue(v any) string {
	list, ok := v.([]any)
	if !ok {
		return fmt.Sprint(v)
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ",")
}

// encodeConfig renders cfg in the format implied by ext.
func encodeConfig(cfg map[string]any, ext string) ([]byte, error) {
	switch ext {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigPathCmd(ro))

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
		useTOML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/tinyenv.json (or .yaml, .toml)

The configuration file sets default values for command flags.
CLI flags always override config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := configDir()
			if err != nil {
				return err
			}
			ext := ".json"
			switch {
			case useYAML:
				ext = ".yaml"
			case useTOML:
				ext = ".toml"
			}
			configPath := filepath.Join(dir, configName+ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			data, err := encodeConfig(DefaultConfig(), ext)
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created config file: %s\n", configPath)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(out, "  - Move the cache with base-dir")
			fmt.Fprintln(out, "  - Point flags-file at your flag definitions")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")
	cmd.Flags().BoolVar(&useTOML, "toml", false, "Create TOML config instead of JSON")
	cmd.MarkFlagsMutuallyExclusive("yaml", "toml")

	return cmd
}

func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			configPath := findConfig(ro.Config)
			if configPath == "" {
				fmt.Fprintln(out, "No config file found.")
				fmt.Fprintln(out, "Run 'tinyenv config init' to create one in ~/.config")
				return nil
			}

			data, err := os.ReadFile(configPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Config file: %s\n\n", configPath)
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
}

func newConfigPathCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := findConfig(ro.Config)
			if configPath == "" {
				dir, err := configDir()
				if err != nil {
					return err
				}
				configPath = filepath.Join(dir, configName+".json")
			}
			fmt.Fprintln(cmd.OutOrStdout(), configPath)
			return nil
		},
	}
}
