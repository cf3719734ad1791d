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

package history

import (
	"boatmon/internal/events"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/logger"
	"boatmon/pkg/signalk"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"
)

const snapshotFilename = "boatmon_history.json.gz"

type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Value     any       `json:"value"`
}

// Service records every output value for the retention window and keeps
// a compressed snapshot on disk so restarts don't lose the window.
type Service struct {
	bus           *eventbus.Bus
	paths         []string
	meta          map[string]signalk.Meta
	retention     time.Duration
	snapshotEvery time.Duration
	snapshotFile  string
	log           *logger.Logger

	mu      sync.RWMutex
	history map[string][]Entry

	muxOnce sync.Once
	mux     http.Handler
}

type Options struct {
	Retention     time.Duration
	SnapshotEvery time.Duration
	DataDir       string
}

func New(bus *eventbus.Bus, paths []string, meta map[string]signalk.Meta, opts Options) *Service {
	s := &Service{
		bus:           bus,
		paths:         paths,
		meta:          meta,
		retention:     opts.Retention,
		snapshotEvery: opts.SnapshotEvery,
		snapshotFile:  filepath.Join(opts.DataDir, snapshotFilename),
		history:       make(map[string][]Entry),
		log:           logger.New("History"),
	}
	s.loadFromDisk()
	return s
}

func (s *Service) Run(ctx context.Context) {
	s.log.Info("Running... recording %d paths for %v", len(s.paths), s.retention)

	values := s.bus.SubscribeAll(ctx, events.PathTopics(s.paths), false)

	snapshotTicker := time.NewTicker(s.snapshotEvery)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.saveToDisk()
			s.log.Info("Stopped")
			return
		case ev, ok := <-values:
			if !ok {
				s.saveToDisk()
				return
			}
			if pv, ok := ev.(events.PathValue); ok {
				s.Record(pv.Path, pv.Time, pv.Value)
			}
		case <-snapshotTicker.C:
			s.saveToDisk()
		}
	}
}

// Record appends a value and trims entries older than the retention window.
func (s *Service) Record(path string, ts time.Time, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.history[path], Entry{Timestamp: ts, Value: value})
	cutoff := time.Now().Add(-s.retention)
	idx := slices.IndexFunc(entries, func(e Entry) bool { return e.Timestamp.After(cutoff) })
	if idx < 0 {
		idx = len(entries)
	}
	s.history[path] = entries[idx:]
}

func (s *Service) saveToDisk() {
	s.mu.RLock()
	copyMap := make(map[string][]Entry, len(s.history))
	total := 0
	for k, v := range s.history {
		copyMap[k] = append([]Entry(nil), v...)
		total += len(v)
	}
	s.mu.RUnlock()

	if err := writeSnapshot(s.snapshotFile, copyMap); err != nil {
		s.log.Error("snapshot: %v", err)
		return
	}
	s.log.Debug("snapshot saved: %d entries over %d paths", total, len(copyMap))
}

func writeSnapshot(path string, data map[string][]Entry) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	if err := json.NewEncoder(gz).Encode(data); err != nil {
		gz.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	file.Close()
	return os.Rename(tmpPath, path)
}

func (s *Service) loadFromDisk() {
	file, err := os.Open(filepath.Clean(s.snapshotFile))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("failed to open history snapshot: %v", err)
		}
		return
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		s.log.Error("failed to open gzip: %v", err)
		return
	}
	defer gz.Close()

	var data map[string][]Entry
	if err := json.NewDecoder(gz).Decode(&data); err != nil {
		s.log.Error("failed to decode snapshot: %v", err)
		return
	}

	// paths no longer produced by any pipeline are dropped
	s.mu.Lock()
	for _, p := range s.paths {
		if entries, ok := data[p]; ok {
			s.history[p] = entries
		}
	}
	s.mu.Unlock()
	s.log.Info("history restored from snapshot (%d paths)", len(data))
}

func (s *Service) List(path string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.history[path]...)
}

func (s *Service) Latest() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]Entry)
	for path, entries := range s.history {
		if len(entries) > 0 {
			latest[path] = entries[len(entries)-1]
		}
	}
	return latest
}

// window returns the entries of path newer than now-interval.
func (s *Service) window(path string, interval time.Duration) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[path]
	if len(entries) == 0 {
		return nil, fmt.Errorf("no history for %q", path)
	}
	cutoff := time.Now().Add(-interval)
	var out []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) && e.Value != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Service) Mean(path string, interval time.Duration) (float64, error) {
	entries, err := s.window(path, interval)
	if err != nil {
		return 0, err
	}
	sum, count := 0.0, 0
	for _, e := range entries {
		if v, ok := toFloat64(e.Value); ok {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("no numeric values for %q in the last %s", path, interval)
	}
	return sum / float64(count), nil
}

func (s *Service) Median(path string, interval time.Duration) (float64, error) {
	entries, err := s.window(path, interval)
	if err != nil {
		return 0, err
	}
	var nums []float64
	for _, e := range entries {
		if v, ok := toFloat64(e.Value); ok {
			nums = append(nums, v)
		}
	}
	if len(nums) == 0 {
		return 0, fmt.Errorf("no numeric values for %q in the last %s", path, interval)
	}
	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 0 {
		return (nums[mid-1] + nums[mid]) / 2, nil
	}
	return nums[mid], nil
}

// PercentOn is the share of samples that were true (or non-zero), e.g. how
// long the seacock stood open.
func (s *Service) PercentOn(path string, interval time.Duration) (float64, error) {
	entries, err := s.window(path, interval)
	if err != nil {
		return 0, err
	}
	total, on := 0, 0
	for _, e := range entries {
		switch v := e.Value.(type) {
		case bool:
			total++
			if v {
				on++
			}
		default:
			if num, ok := toFloat64(v); ok {
				total++
				if num != 0 {
					on++
				}
			}
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("no valid entries for %q in the last %s", path, interval)
	}
	return float64(on) / float64(total) * 100, nil
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}
