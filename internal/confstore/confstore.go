// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package confstore persists the settings of configurable pipeline stages
// as one JSON document keyed by config path.
package confstore

import (
	"boatmon/internal/pipeline"
	"boatmon/pkg/logger"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const Filename = "boatmon.config.json"

var ErrUnknownPath = errors.New("unknown config path")

type Store struct {
	file string
	log  *logger.Logger

	mu     sync.RWMutex
	values map[string]json.RawMessage
	known  map[string]bool
	check  func(path string, raw json.RawMessage) error
}

// Open loads the store kept in dir, creating dir when needed. A missing
// file is an empty store; an unreadable one is an error.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config store: %w", err)
	}
	s := &Store{
		file:   filepath.Join(dir, Filename),
		log:    logger.New("ConfStore"),
		values: make(map[string]json.RawMessage),
		known:  make(map[string]bool),
	}

	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no stored settings at %s", s.file)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config store: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.values); err != nil {
			return nil, fmt.Errorf("config store %s: %w", s.file, err)
		}
	}
	s.log.Info("loaded %d stored settings", len(s.values))
	return s, nil
}

func (s *Store) File() string { return s.file }

// Reset erases every stored setting, on disk too.
func (s *Store) Reset() error {
	s.mu.Lock()
	clear(s.values)
	s.mu.Unlock()
	s.log.Warn("stored settings erased")
	return s.Save()
}

// Apply loads the stored settings of c into it. When nothing is stored
// yet, c's current settings become the stored ones. The change is kept in
// memory until Save.
func (s *Store) Apply(c pipeline.Configurable) error {
	path := c.ConfigPath()
	if path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[path] = true

	if raw, ok := s.values[path]; ok {
		if err := c.SetConfiguration(raw); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		return nil
	}

	raw, err := json.Marshal(c.Configuration())
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	s.values[path] = raw
	return nil
}

// Discard drops the stored value of path, so the next Apply stores the
// stage's current settings instead.
func (s *Store) Discard(path string) {
	s.mu.Lock()
	delete(s.values, path)
	s.mu.Unlock()
}

// SetValidator installs the check Set runs before accepting a value.
func (s *Store) SetValidator(check func(path string, raw json.RawMessage) error) {
	s.mu.Lock()
	s.check = check
	s.mu.Unlock()
}

// Put stores v under path and writes the file. It is for settings the
// node changes itself, like a claimed probe address or an access token.
func (s *Store) Put(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	s.mu.Lock()
	s.known[path] = true
	s.values[path] = raw
	s.mu.Unlock()
	return s.Save()
}

// Set replaces the stored value of a known path. Pipelines are fixed once
// running, so the new value takes effect at the next start.
func (s *Store) Set(path string, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("config %s: invalid JSON", path)
	}
	s.mu.RLock()
	known, check := s.known[path], s.check
	s.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	if check != nil {
		if err := check(path, raw); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	}

	s.mu.Lock()
	s.values[path] = append(json.RawMessage(nil), raw...)
	s.mu.Unlock()
	s.log.Info("%s updated, applies after restart", path)
	return s.Save()
}

func (s *Store) Get(path string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.values[path]
	return raw, ok
}

// Decode unmarshals the value stored under path into v. It reports false
// when nothing is stored.
func (s *Store) Decode(path string, v any) (bool, error) {
	raw, ok := s.Get(path)
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Paths lists the stored paths, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Save writes the store through a temp file and rename.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.values, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("config store: %w", err)
	}

	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config store: %w", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return fmt.Errorf("config store: %w", err)
	}
	s.log.Debug("saved %d settings to %s", len(s.Paths()), s.file)
	return nil
}
