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

package signalk

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"
)

// SEE: https://signalk.org/specification/1.7.0/doc/data_model.html

// Delta is the Signal K update message sent over the stream.
// An empty Context means the server's own vessel (vessels.self).
type Delta struct {
	Context string   `json:"context,omitempty"`
	Updates []Update `json:"updates"`
}

type Update struct {
	Source    *Source     `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Values    []PathValue `json:"values,omitempty"`
	Meta      []PathMeta  `json:"meta,omitempty"`
}

type Source struct {
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

type PathValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type PathMeta struct {
	Path  string `json:"path"`
	Value Meta   `json:"value"`
}

// Meta describes a path for display. Units are SI (K, Pa, ...) or empty.
type Meta struct {
	Units       string `json:"units,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// Hello is the first message a server sends on a new stream.
type Hello struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Self      string    `json:"self"`
	Roles     []string  `json:"roles"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDelta builds a single-update delta from a set of values and meta.
// Values are emitted sorted by path so messages are stable.
func NewDelta(label string, ts time.Time, values map[string]any, meta map[string]Meta) Delta {
	u := Update{
		Source:    &Source{Label: label},
		Timestamp: ts.UTC(),
	}
	for _, p := range slices.Sorted(maps.Keys(values)) {
		u.Values = append(u.Values, PathValue{Path: p, Value: values[p]})
	}
	for _, p := range slices.Sorted(maps.Keys(meta)) {
		u.Meta = append(u.Meta, PathMeta{Path: p, Value: meta[p]})
	}
	return Delta{Updates: []Update{u}}
}

// Empty reports whether the delta carries nothing worth sending.
func (d Delta) Empty() bool {
	for _, u := range d.Updates {
		if len(u.Values) > 0 || len(u.Meta) > 0 {
			return false
		}
	}
	return true
}

var (
	segmentRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	leafRe    = regexp.MustCompile(`^[a-z][A-Za-z0-9]*$`)
)

// ValidatePath checks a vessel-relative path: dot separated, no empty
// segments, lower camel case leaf.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("signalk path is empty")
	}
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		if !segmentRe.MatchString(seg) {
			return fmt.Errorf("signalk path %q: invalid segment %d %q", path, i, seg)
		}
	}
	leaf := segments[len(segments)-1]
	if !leafRe.MatchString(leaf) {
		return fmt.Errorf("signalk path %q: leaf %q is not lower camel case", path, leaf)
	}
	return nil
}
