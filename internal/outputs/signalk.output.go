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

package outputs

import (
	"boatmon/internal/events"
	"boatmon/pkg/eventbus"
	"boatmon/pkg/signalk"
	"encoding/json"
	"fmt"
	"time"
)

// SKOutput binds a value stream to a Signal K path. Values go onto the
// event bus, the streamer takes them from there to the server.
type SKOutput[T bool | float64 | int | string] struct {
	path       string
	configPath string
	meta       *signalk.Meta
	bus        *eventbus.Bus
	now        func() time.Time
}

func NewSKOutput[T bool | float64 | int | string](bus *eventbus.Bus, path, configPath string, meta *signalk.Meta) *SKOutput[T] {
	return &SKOutput[T]{
		path:       path,
		configPath: configPath,
		meta:       meta,
		bus:        bus,
		now:        time.Now,
	}
}

func NewSKOutputFloat(bus *eventbus.Bus, path, configPath string, meta *signalk.Meta) *SKOutput[float64] {
	return NewSKOutput[float64](bus, path, configPath, meta)
}

func NewSKOutputBool(bus *eventbus.Bus, path, configPath string, meta *signalk.Meta) *SKOutput[bool] {
	return NewSKOutput[bool](bus, path, configPath, meta)
}

func (o *SKOutput[T]) Name() string   { return "signalk:" + o.path }
func (o *SKOutput[T]) SKPath() string { return o.path }

// Meta returns the path metadata, or nil when none was declared.
func (o *SKOutput[T]) Meta() *signalk.Meta { return o.meta }

func (o *SKOutput[T]) Publish(v T) error {
	o.bus.Publish(events.PathTopic(o.path), events.PathValue{
		Path:  o.path,
		Value: v,
		Time:  o.now(),
	})
	return nil
}

func (o *SKOutput[T]) ConfigPath() string { return o.configPath }

func (o *SKOutput[T]) Configuration() any {
	return struct {
		SKPath string `json:"sk_path"`
	}{o.path}
}

// PathFor returns the path raw would bind. An empty sk_path keeps the
// current one.
func (o *SKOutput[T]) PathFor(raw json.RawMessage) (string, error) {
	var c struct {
		SKPath string `json:"sk_path"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("signalk output %s: %w", o.configPath, err)
	}
	if c.SKPath == "" {
		return o.path, nil
	}
	if err := signalk.ValidatePath(c.SKPath); err != nil {
		return "", err
	}
	return c.SKPath, nil
}

// SetConfiguration accepts a replacement path. It is applied before the
// scheduler starts, so the bus topic never changes under a subscriber.
func (o *SKOutput[T]) SetConfiguration(raw json.RawMessage) error {
	path, err := o.PathFor(raw)
	if err != nil {
		return err
	}
	o.path = path
	return nil
}
