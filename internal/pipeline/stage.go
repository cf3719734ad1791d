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

// Package pipeline wires sensors, transforms and outputs into static chains
// and drives them from a single cooperative scheduler.
package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// Stage is anything that can sit in a pipeline.
type Stage interface {
	Name() string
}

// Source produces a value every Interval.
type Source[T any] interface {
	Stage
	Interval() time.Duration
	Read(ctx context.Context) (T, error)
}

// Transform maps one value to another. Returning false drops the value.
type Transform[In, Out any] interface {
	Stage
	Apply(v In) (Out, bool)
}

// Sink is the end of a chain.
type Sink[T any] interface {
	Stage
	Publish(v T) error
}

// Configurable stages persist their settings under a config path
// (e.g. "/coolantTemperature/linear").
type Configurable interface {
	ConfigPath() string
	Configuration() any
	SetConfiguration(raw json.RawMessage) error
}

// PathOwner is implemented by sinks bound to a Signal K path.
type PathOwner interface {
	SKPath() string
}

// ConfigChecker stages can vet a setting without applying it.
type ConfigChecker interface {
	CheckConfiguration(raw json.RawMessage) error
}

// Retargetable sinks take their Signal K path from their settings. PathFor
// reports the path raw would bind.
type Retargetable interface {
	PathOwner
	Configurable
	PathFor(raw json.RawMessage) (string, error)
}

// SourceFunc turns a function into a Source, mainly for tests and
// one-off readings.
type SourceFunc[T any] struct {
	Label string
	Every time.Duration
	Fn    func(ctx context.Context) (T, error)
}

func (s SourceFunc[T]) Name() string                        { return s.Label }
func (s SourceFunc[T]) Interval() time.Duration             { return s.Every }
func (s SourceFunc[T]) Read(ctx context.Context) (T, error) { return s.Fn(ctx) }

// SinkFunc turns a function into a Sink.
type SinkFunc[T any] struct {
	Label string
	Fn    func(v T) error
}

func (s SinkFunc[T]) Name() string      { return s.Label }
func (s SinkFunc[T]) Publish(v T) error { return s.Fn(v) }

// TransformFunc turns a function into a Transform.
type TransformFunc[In, Out any] struct {
	Label string
	Fn    func(v In) (Out, bool)
}

func (t TransformFunc[In, Out]) Name() string            { return t.Label }
func (t TransformFunc[In, Out]) Apply(v In) (Out, bool) { return t.Fn(v) }
