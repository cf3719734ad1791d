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

package pipeline

import (
	"context"
	"fmt"
	"time"
)

// node is a fan-out point between two stages.
type node[T any] struct {
	next []func(T)
}

func (n *node[T]) emit(v T) {
	for _, f := range n.next {
		f(v)
	}
}

// Pipeline is one source and everything hanging off it.
type Pipeline struct {
	name     string
	interval func() time.Duration
	tick     func(ctx context.Context) error
	stages   []Stage
	sinks    []Stage
	reg      *Registry
}

func (p *Pipeline) Name() string { return p.name }

// Interval is asked of the source each time, so a persisted read delay
// applied after wiring still takes effect.
func (p *Pipeline) Interval() time.Duration { return p.interval() }

// Stages returns every stage in declaration order, source first.
func (p *Pipeline) Stages() []Stage { return append([]Stage(nil), p.stages...) }

// Sinks returns the terminal stages.
func (p *Pipeline) Sinks() []Stage { return append([]Stage(nil), p.sinks...) }

// Tick reads the source once and pushes the value through the chain.
func (p *Pipeline) Tick(ctx context.Context) error {
	return p.tick(ctx)
}

// Chain is the typed tail of a pipeline under construction.
type Chain[T any] struct {
	p    *Pipeline
	tail *node[T]
}

// From registers a new pipeline fed by src.
func From[T any](reg *Registry, name string, src Source[T]) *Chain[T] {
	head := &node[T]{}
	p := &Pipeline{
		name:     name,
		interval: src.Interval,
		stages:   []Stage{src},
		reg:      reg,
	}
	p.tick = func(ctx context.Context) error {
		v, err := src.Read(ctx)
		if err != nil {
			return fmt.Errorf("%s: read %s: %w", name, src.Name(), err)
		}
		head.emit(v)
		return nil
	}
	reg.add(p)
	return &Chain[T]{p: p, tail: head}
}

// Then appends a transform that may change the value type.
func Then[In, Out any](c *Chain[In], t Transform[In, Out]) *Chain[Out] {
	c.p.reg.checkOpen()
	out := &node[Out]{}
	c.tail.next = append(c.tail.next, func(v In) {
		if o, ok := t.Apply(v); ok {
			out.emit(o)
		}
	})
	c.p.stages = append(c.p.stages, t)
	return &Chain[Out]{p: c.p, tail: out}
}

// Then appends a same-typed transform.
func (c *Chain[T]) Then(t Transform[T, T]) *Chain[T] {
	return Then(c, t)
}

// To terminates the chain at sink. Calling To again on the same chain
// fans the value out to several sinks.
func (c *Chain[T]) To(sink Sink[T]) *Chain[T] {
	c.p.reg.checkOpen()
	log := c.p.reg.log
	name := c.p.name
	c.tail.next = append(c.tail.next, func(v T) {
		if err := sink.Publish(v); err != nil {
			log.Error("%s: publish %s: %v", name, sink.Name(), err)
		}
	})
	c.p.stages = append(c.p.stages, sink)
	c.p.sinks = append(c.p.sinks, sink)
	return c
}

// Pipeline returns the pipeline this chain belongs to.
func (c *Chain[T]) Pipeline() *Pipeline { return c.p }
