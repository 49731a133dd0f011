// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EnvVar names the environment variable holding the path of the flag
// definition file.
const EnvVar = "TINYFLAGS"

var (
	ErrMissingName    = errors.New("flag definition has no name")
	ErrDuplicateName  = errors.New("flag defined twice")
	ErrInvalidDefault = errors.New("invalid default value")
)

// Type is the value type of a flag.
type Type int

const (
	// TypeUnknown marks a missing or unrecognised type. Such definitions are
	// skipped rather than registered.
	TypeUnknown Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
)

// ParseType maps a type name from a definition file to a Type.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int":
		return TypeInt
	case "float":
		return TypeFloat
	case "string", "str":
		return TypeString
	case "bool":
		return TypeBool
	default:
		return TypeUnknown
	}
}

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Definition is one entry of a flag definition file.
type Definition struct {
	// Name of the flag, with or without leading dashes ("--iterations").
	Name string `json:"name" yaml:"name"`

	// Type is one of int, float, string or bool.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Value is the default. JSON numbers arrive as json.Number.
	Value any `json:"value,omitempty" yaml:"value,omitempty"`

	// Desc is the help text.
	Desc string `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// Kind returns the parsed type of the definition.
func (d Definition) Kind() Type { return ParseType(d.Type) }

// FlagName returns the name without leading dashes.
func (d Definition) FlagName() string { return strings.TrimLeft(strings.TrimSpace(d.Name), "-") }

func (d Definition) defaultInt() (int, error) {
	switch v := d.Value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, d.invalid()
		}
		return int(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), nil
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, d.invalid()
		}
		return int(f), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, d.invalid()
		}
		return n, nil
	}
	return 0, d.invalid()
}

func (d Definition) defaultFloat() (float64, error) {
	switch v := d.Value.(type) {
	case nil:
		return 0, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, d.invalid()
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, d.invalid()
		}
		return f, nil
	}
	return 0, d.invalid()
}

func (d Definition) defaultString() string {
	switch v := d.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (d Definition) defaultBool() (bool, error) {
	switch v := d.Value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, d.invalid()
		}
		return b, nil
	}
	return false, d.invalid()
}

func (d Definition) invalid() error {
	return fmt.Errorf("flag %q: %w %v for type %s", d.FlagName(), ErrInvalidDefault, d.Value, d.Kind())
}
