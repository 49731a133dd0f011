// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// Set is a parsed-or-parseable collection of flags built from definitions.
type Set struct {
	fs      *pflag.FlagSet
	defs    []Definition
	skipped []Definition
}

// New registers defs on a fresh flag set called name. Definitions with an
// unknown type are skipped and reported by Skipped. A missing name, a
// repeated name or a default that does not fit its type is an error.
func New(name string, defs []Definition) (*Set, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetNormalizeFunc(wordSepNormalize)
	fs.SortFlags = false
	// Errors are returned; callers decide whether to print Usage.
	fs.SetOutput(io.Discard)

	s := &Set{fs: fs}
	for _, d := range defs {
		if d.Kind() == TypeUnknown {
			s.skipped = append(s.skipped, d)
			continue
		}
		flagName := d.FlagName()
		if flagName == "" {
			return nil, fmt.Errorf("%w (type %s)", ErrMissingName, d.Type)
		}
		if fs.Lookup(flagName) != nil {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, flagName)
		}

		switch d.Kind() {
		case TypeInt:
			v, err := d.defaultInt()
			if err != nil {
				return nil, err
			}
			fs.Int(flagName, v, d.Desc)
		case TypeFloat:
			v, err := d.defaultFloat()
			if err != nil {
				return nil, err
			}
			fs.Float64(flagName, v, d.Desc)
		case TypeString:
			fs.String(flagName, d.defaultString(), d.Desc)
		case TypeBool:
			v, err := d.defaultBool()
			if err != nil {
				return nil, err
			}
			fs.Bool(flagName, v, d.Desc)
		}
		s.defs = append(s.defs, d)
	}
	return s, nil
}

// Parse loads definitions from TINYFLAGS and parses args against them.
func Parse(args []string, getenv func(string) string) (*Set, error) {
	s, err := New("tinyflags", LoadEnv(getenv))
	if err != nil {
		return nil, err
	}
	if err := s.Parse(args); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse parses args, which should not include the program name.
func (s *Set) Parse(args []string) error {
	return s.fs.Parse(args)
}

// Args returns the positional arguments left after parsing.
func (s *Set) Args() []string { return s.fs.Args() }

// FlagSet exposes the underlying pflag set, for merging into a command.
func (s *Set) FlagSet() *pflag.FlagSet { return s.fs }

// Definitions returns the registered definitions in file order.
func (s *Set) Definitions() []Definition { return s.defs }

// Skipped returns definitions that were ignored because of their type.
func (s *Set) Skipped() []Definition { return s.skipped }

// Int returns the value of the int flag name. Leading dashes are ignored.
func (s *Set) Int(name string) (int, error) { return s.fs.GetInt(trimName(name)) }

// Float returns the value of the float flag name. Leading dashes are ignored.
func (s *Set) Float(name string) (float64, error) { return s.fs.GetFloat64(trimName(name)) }

// String returns the value of the string flag name. Leading dashes are ignored.
func (s *Set) String(name string) (string, error) { return s.fs.GetString(trimName(name)) }

// Bool returns the value of the bool flag name. Leading dashes are ignored.
func (s *Set) Bool(name string) (bool, error) { return s.fs.GetBool(trimName(name)) }

// Changed reports whether the flag was set on the command line.
func (s *Set) Changed(name string) bool { return s.fs.Changed(trimName(name)) }

// Values returns every registered flag keyed by its name without dashes.
func (s *Set) Values() map[string]any {
	out := make(map[string]any, len(s.defs))
	for _, d := range s.defs {
		name := d.FlagName()
		var (
			v   any
			err error
		)
		switch d.Kind() {
		case TypeInt:
			v, err = s.Int(name)
		case TypeFloat:
			v, err = s.Float(name)
		case TypeString:
			v, err = s.String(name)
		case TypeBool:
			v, err = s.Bool(name)
		}
		if err == nil {
			out[name] = v
		}
	}
	return out
}

// Names returns the registered flag names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		names = append(names, d.FlagName())
	}
	sort.Strings(names)
	return names
}

// Usage returns the help text for all registered flags.
func (s *Set) Usage() string { return s.fs.FlagUsages() }

func trimName(name string) string { return strings.TrimLeft(name, "-") }

// wordSepNormalize lets --weight_decay and --weight-decay name the same flag.
func wordSepNormalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
