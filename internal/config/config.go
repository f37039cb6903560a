// config.go - knob registry for l6sk.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config implements l6sk's knob registry: a process-wide,
// read-mostly map of named options, loaded once from TOML and consulted by
// every other subsystem. Unknown keys are absent, never an error; callers
// that require a value decide how to react to its absence.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Registry is a flat, case-insensitive key/value store. It is built once
// (via Load or LoadBytes) and is safe for concurrent reads thereafter; it
// exposes no mutator, so there is nothing to guard with a lock.
type Registry struct {
	knobs map[string]interface{}
}

// Load reads a TOML file and builds a Registry from its top-level keys.
// Nested tables are flattened one level, so a key may be referenced either
// bare or with its table prefix (`Section.Key`); the bare form wins ties.
func Load(path string) (*Registry, error) {
	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return newRegistry(raw), nil
}

// LoadBytes is Load for an in-memory TOML document, primarily useful in
// tests that do not want to touch the filesystem.
func LoadBytes(data []byte) (*Registry, error) {
	var raw map[string]interface{}
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return newRegistry(raw), nil
}

func newRegistry(raw map[string]interface{}) *Registry {
	r := &Registry{knobs: make(map[string]interface{})}
	flatten("", raw, r.knobs)
	return r
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := strings.ToLower(k)
		if prefix == "" {
			out[key] = v
		} else {
			out[prefix+"."+key] = v
			if _, taken := out[key]; !taken {
				out[key] = v
			}
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(key, sub, out)
		}
	}
}

// get returns the raw value for key (case-insensitive) and whether it was
// present at all.
func (r *Registry) get(key string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.knobs[strings.ToLower(key)]
	return v, ok
}

// String returns the string knob named key, or "" and false if absent or
// not a string.
func (r *Registry) String(key string) (string, bool) {
	v, ok := r.get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the integer knob named key. TOML decodes bare integers as
// int64, so both are accepted.
func (r *Registry) Int(key string) (int, bool) {
	v, ok := r.get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// Float returns the floating point knob named key.
func (r *Registry) Float(key string) (float64, bool) {
	v, ok := r.get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Bool returns the boolean knob named key.
func (r *Registry) Bool(key string) (bool, bool) {
	v, ok := r.get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Bytes returns the knob named key decoded as hex, the convention used by
// salt-shaped knobs (e.g. CU_AUTH_KDF__SALT). A non-hex string is absent.
func (r *Registry) Bytes(key string) ([]byte, bool) {
	s, ok := r.String(key)
	if !ok {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// PositiveInt returns the positive-int knob named key, or def if absent.
// It is an error (not a silent fallback) for the knob to be present but
// not a positive integer: callers of knobs documented as "fatal-exit on
// invalid" (e.g. DBL_DISPATCH_IDLE_COUNTER_THRESHOLD) should surface this
// error to the process's init path rather than swallow it.
func (r *Registry) PositiveInt(key string, def int) (int, error) {
	v, ok := r.get(key)
	if !ok {
		return def, nil
	}
	n, ok := r.Int(key)
	if !ok || n <= 0 {
		return 0, fmt.Errorf("config: knob %q must be a positive integer, got %v", key, v)
	}
	return n, nil
}
